package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"ecliptix/internal/domain"
)

// send <message>: encrypt and post a message on an established channel.
func sendCmd() *cobra.Command {
	var connect uint64
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Encrypt and send a message on a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlock(); err != nil {
				return err
			}
			if err := wire.Channels.Send(cmd.Context(), domain.ConnectID(connect), []byte(args[0])); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
	cmd.Flags().Uint64Var(&connect, "connect", 1, "connection id for the channel")
	return cmd
}
