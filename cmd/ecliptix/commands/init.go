package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them encrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if wire.Account.Exists() && !force {
				return fmt.Errorf("identity already exists (use --force to replace it)")
			}

			keys, err := wire.Account.Create(passphrase, wire.Config.Channel.OneTimePreKeys)
			if err != nil {
				return err
			}
			defer keys.Destroy()

			fmt.Printf("Identity created.\nFingerprint: %s\n", keys.Fingerprint())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}
