package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ecliptix/internal/app"
	"ecliptix/internal/log"
	"ecliptix/internal/relay"
)

const shutdownGrace = 5 * time.Second

func newRootCommand() *cobra.Command {
	var (
		configFile string
		listen     string
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Store-and-forward relay for ecliptix endpoints",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &app.Config{}
			if configFile != "" {
				c, err := app.LoadFile(configFile)
				if err != nil {
					return err
				}
				cfg = c
			} else if err := cfg.FixupAndValidate(); err != nil {
				return err
			}
			if listen != "" {
				cfg.Relay.Listen = listen
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "config file")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default :8080)")
	return cmd
}

func serve(ctx context.Context, cfg *app.Config) error {
	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}
	logger := backend.GetLogger("main")

	srv := &http.Server{
		Addr:    cfg.Relay.Listen,
		Handler: relay.NewServer(backend).Handler(),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Noticef("relay listening on %s", cfg.Relay.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Noticef("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
