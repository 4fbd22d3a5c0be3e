package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/srt-scheduler/internal/auth"
)

func newPasswordCmd() *cobra.Command {
	var password string

	c := &cobra.Command{
		Use:   "password",
		Short: "Hash an app password for APP_PASSWORD_BCRYPT",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "export APP_PASSWORD_BCRYPT='%s'\n", hash)
			return nil
		},
	}

	c.Flags().StringVar(&password, "password", "", "app password")
	_ = c.MarkFlagRequired("password")
	return c
}
