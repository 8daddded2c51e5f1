package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/suoke-life/messagebus/internal/app/server"
	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC service until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := configpkg.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				conf.GRPCAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.Run(ctx, conf, newLogger(conf, cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override the gRPC listen address (MESSAGEBUS_GRPC_ADDR)")
	return cmd
}
