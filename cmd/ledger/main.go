package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/config"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

type rootFlags struct {
	configPath string
	envPath    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Omnichannel order ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.envPath, "env-file", ".env", "path to a dotenv file (ignored if missing)")

	root.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledger %s (%s)\n", version, commit)
		},
	}
}

// loadConfig reads the configuration and sets up the global logger from it.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath, flags.envPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := setupLogger(cfg.App.Name, cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(service string, cfg config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", service).Logger()
	return nil
}
