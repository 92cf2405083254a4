package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-upload/pkg/simpleupload/config"
)

func serveCmd(load loadFunc) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []config.Option
			if port != "" {
				opts = append(opts, config.WithPort(port))
			}
			cfg, err := load(opts...)
			if err != nil {
				return err
			}

			logger := cfg.NewLogger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := cfg.Build(ctx, logger)
			if err != nil {
				logger.Error("Failed to build server", "err", err)
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					logger.Warn("Failed to release resources", "err", err)
				}
			}()

			if err := app.Run(ctx); err != nil {
				logger.Error("Server stopped", "err", err)
				return err
			}
			logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")

	return cmd
}
