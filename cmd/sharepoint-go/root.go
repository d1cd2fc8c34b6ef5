package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/sharepoint-go"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var cfg *sharepoint.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sharepoint-go",
		Short:   "SharePoint document library CLI",
		Long:    "A small, fast CLI for files in SharePoint Online document libraries.",
		Version: version,
		// Silence Cobra's default error and usage printing; we handle both ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newExistsCmd())
	cmd.AddCommand(newURLCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain:
// built-in defaults, then the config file (--config flag, $SHAREPOINT_GO_CONFIG,
// or the default location), then environment variables. Validation is left to
// sharepoint.New so it runs after every layer has been applied.
func loadConfig() error {
	path := flagConfigPath
	if path == "" {
		path = os.Getenv(sharepoint.EnvConfig)
	}

	if path == "" {
		path = defaultConfigPath()
	}

	loaded, err := sharepoint.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sharepoint.ApplyEnv(loaded)
	cfg = loaded

	return nil
}

// defaultConfigPath returns the per-user config file location, falling back
// to the working directory when the user config dir cannot be determined.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "sharepoint-go.toml"
	}

	return filepath.Join(dir, "sharepoint-go", "config.toml")
}

// buildLogger creates an slog.Logger configured by the loaded config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. The "auto" format
// picks text on a terminal and JSON everywhere else.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	format := "auto"

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		if cfg.Logging.LogFormat != "" {
			format = cfg.Logging.LogFormat
		}
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newStorage connects the storage facade from the loaded configuration.
// Config validation happens inside sharepoint.New, so missing credentials
// and malformed values surface here wrapping sharepoint.ErrConfig.
func newStorage() (*sharepoint.Storage, *slog.Logger, error) {
	logger := buildLogger()

	s, err := sharepoint.New(cfg, sharepoint.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}

	return s, logger, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
