package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/gorilla/securecookie"
	"github.com/spf13/cobra"

	"github.com/example/srt-scheduler/internal/notify"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate cookie keys and a VAPID key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := securecookie.GenerateRandomKey(32)
			block := securecookie.GenerateRandomKey(32)
			if hash == nil || block == nil {
				return fmt.Errorf("generate cookie keys: no randomness available")
			}
			vapid, err := notify.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "export COOKIE_HASH_KEY=%s\n", base64.StdEncoding.EncodeToString(hash))
			fmt.Fprintf(os.Stdout, "export COOKIE_BLOCK_KEY=%s\n", base64.StdEncoding.EncodeToString(block))
			fmt.Fprintf(os.Stdout, "export VAPID_PUBLIC_KEY=%s\n", vapid.PublicKey)
			fmt.Fprintf(os.Stdout, "export VAPID_PRIVATE_KEY=%s\n", vapid.PrivateKey)
			return nil
		},
	}
}
