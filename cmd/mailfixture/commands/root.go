package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/busybox42/mailfixture/internal/config"
	"github.com/busybox42/mailfixture/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Global configuration
	configPath string
	logLevel   string
	logFormat  string
	cfg        *config.Config
	logger     *slog.Logger

	// Root command
	rootCmd = &cobra.Command{
		Use:   "mailfixture",
		Short: "Send and capture HTML test email",
		Long: `A command line tool that sends a fixed HTML test email to a local SMTP
server, runs a local capture server with a MailHog compatible API, and reports
the structure of captured HTML for accessibility scanning.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}
)

// exitError ends the process with code after the command already reported
// the failure
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}

// loadConfig reads .env, the configuration file and the environment, then
// builds the logger. Logs always go to stderr.
func loadConfig(cmd *cobra.Command, args []string) error {
	// Skip config loading for some commands
	if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "completion" {
		logger = logging.Discard()
		return nil
	}

	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if logLevel != "" {
		if _, err := logging.StringToLevel(logLevel); err != nil {
			return fmt.Errorf("invalid --log-level %q", logLevel)
		}
		loaded.Logging.Level = logLevel
	}
	if logFormat != "" {
		loaded.Logging.Format = logFormat
	}

	cfg = loaded
	logConfig := cfg.LoggingConfig()
	logConfig.Output = cmd.ErrOrStderr()
	logger = logging.New(logConfig)
	return nil
}
