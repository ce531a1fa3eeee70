package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ecliptix/internal/domain"
)

// establishCmd runs the key exchange with a peer and persists the resulting
// channel for send and recv.
func establishCmd() *cobra.Command {
	var (
		connect uint64
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "establish <peer>",
		Short: "Establish a secure channel with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlock(); err != nil {
				return err
			}
			peer := domain.Username(args[0])

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			if err := wire.Channels.EstablishChannel(ctx, domain.ConnectID(connect), peer); err != nil {
				return fmt.Errorf("establishing channel with %q: %w", peer, err)
			}

			fmt.Printf("Channel %d established with %s.\n", connect, peer)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&connect, "connect", 1, "connection id for the channel")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the peer's reply")
	return cmd
}
