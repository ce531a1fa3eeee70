package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// recv: collect queued envelopes, answering handshakes and printing
// decrypted messages.
func recvCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlock(); err != nil {
				return err
			}
			msgs, err := wire.Channels.Receive(cmd.Context(), limit)
			for _, m := range msgs {
				fmt.Printf("[%s] %s\n", m.From, string(m.Plaintext))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum envelopes to collect (0 for all)")
	return cmd
}
