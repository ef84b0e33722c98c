package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lattiq/smartmailer"
	"github.com/lattiq/smartmailer/internal/config"
	"github.com/lattiq/smartmailer/internal/logger"
)

var (
	configPath string // overridable via --config flag
	logLevel   string // overrides monitoring.logging.level when set
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "smartmailer",
		Short: "Bulk email dispatch with open tracking",
		Long: `smartmailer validates a recipient list, selects recipients by department,
personalizes an HTML template for each of them and delivers it over an
authenticated SMTP relay in rate-limited batches. Opens are measured through a
tracking beacon reported to the analytics service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to smartmailer.yaml (default: search ., ./config, /etc/smartmailer)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(sendCmd())
	root.AddCommand(analyticsCmd())
	root.AddCommand(versionCmd())

	return root
}

// loadConfig loads configuration and applies command-line overrides.
func loadConfig() (*smartmailer.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Monitoring.Logging.Level = logLevel
	}

	return cfg, nil
}

// newLogger builds the process logger. The returned function closes a file
// output and must be called before the command returns.
func newLogger(cfg *smartmailer.Config) (zerolog.Logger, func() error) {
	return logger.New(cfg.Monitoring.Logging.Level, cfg.Monitoring.Logging.Format, cfg.Monitoring.Logging.Output)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := smartmailer.GetVersionInfo()
			fmt.Fprintln(cmd.OutOrStdout(), "smartmailer")
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			if info.IsDevBuild() {
				fmt.Fprintln(cmd.OutOrStdout(), "Development build")
			}
			if info.Module != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Module: %s\n", info.Module)
			}
		},
	}
}
