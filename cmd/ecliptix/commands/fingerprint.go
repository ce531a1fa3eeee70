package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ecliptix/internal/crypto"
)

func fingerprintCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the identity fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			keys, err := wire.Account.Unlock(passphrase)
			if err != nil {
				return err
			}
			defer keys.Destroy()

			fmt.Printf("Fingerprint: %s\n", keys.Fingerprint())
			if full {
				fmt.Printf("Agreement key: %s\n", crypto.B64(keys.AgreementPublic().Slice()))
				fmt.Printf("Signing key:   %s\n", crypto.B64(keys.SigningPublic().Slice()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "also print the full public keys")
	return cmd
}
