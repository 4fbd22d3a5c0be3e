package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var short bool

	c := &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, Version)
				return
			}
			fmt.Fprintf(out, "srtsched %s (commit=%s, built=%s, %s/%s)\n",
				Version, CommitSHA, BuildDate, runtime.GOOS, runtime.GOARCH)
		},
	}
	c.Flags().BoolVar(&short, "short", false, "print only the version number")
	return c
}
