package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var level, format string

	cmd := &cobra.Command{
		Use:           "splat-orchestrator",
		Short:         "Train Gaussian splats on rented GPU instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(level, format)
		},
		// bare invocation serves
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd().RunE(cmd, args)
		},
	}
	cmd.PersistentFlags().StringVar(&level, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&format, "log-format", envOr("LOG_FORMAT", "json"), "log format (json, pretty)")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(instanceCmd())
	cmd.AddCommand(trainCmd())
	cmd.AddCommand(convertCmd())
	return cmd
}

func setupLogging(level, format string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	switch strings.ToLower(format) {
	case "pretty", "console":
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	case "json", "":
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
