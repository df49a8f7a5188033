package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriskillpack/promptenhance"
	"github.com/chriskillpack/promptenhance/internal/config"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the enhancement API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var history *promptenhance.History
			if !noHistory {
				path, err := ctx.historyPath()
				if err != nil {
					return err
				}
				if history, err = promptenhance.NewHistory(cmd.Context(), path); err != nil {
					return fmt.Errorf("open history %s: %w", path, err)
				}
				defer history.Close()
			}

			newPool := func(cfg config.Config) (*promptenhance.Pool, error) {
				return promptenhance.NewPoolFromConfig(promptenhance.InitOptions{Config: cfg, Logger: ctx.logger})
			}
			srv, err := NewServer(cfg, ctx.store, history, ctx.logger, newPool, addr)
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				ctx.logger.Info("listening", slog.String("addr", addr))
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-sigCtx.Done():
			}

			ctx.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8188", "Address to listen on")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record conversions")
	return cmd
}
