package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
)

type rootOptions struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "messagebus",
		Short: "Message bus gRPC service",
		Long: `messagebus accepts messages over gRPC and publishes them to the configured
broker (Kafka, RabbitMQ, NATS, SNS, HTTP or an in-process channel).

Configuration is read from MESSAGEBUS_* environment variables. A .env file in
the working directory is loaded first when present.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	cmd.AddCommand(
		newServeCmd(),
		newHealthCmd(),
		newPublishCmd(),
	)
	return cmd
}

// loadEnvFile loads path into the process environment. Variables already set
// win. A missing file is not an error.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func newLogger(conf *configpkg.Config, w io.Writer) loggingpkg.ServiceLogger {
	log := slog.New(loggingpkg.NewSlogHandler(w, conf.LogFormat, conf.LogLevel))
	slog.SetDefault(log)
	return loggingpkg.NewSlogServiceLogger(log)
}

// dialAddr turns a listen address such as ":50051" into something a client
// can dial.
func dialAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
