// simvis detects the format of simulation output files, local or remote,
// and extracts them into one table.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simvis/simvis/pkg/config"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	verbosity  int
	sessionID  string
	logFormat  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "simvis",
	Short: "simvis - Extract simulation output from local and remote files",
	Long: `simvis recognises simulation output formats (PLUMED COLVAR, LAMMPS logs,
DeePMD lcurve and model deviation, plus YAML-defined formats) and extracts
them into a single table.

Targets are local paths, host:path for SSH, or s3://bucket/key.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file applied after the standard locations")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "Session id for connection reuse (generated if empty)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
}

// loadConfig resolves the layered configuration plus CLI overrides.
func loadConfig() (*config.Config, error) {
	m := config.NewManager()
	if err := m.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if configFile != "" {
		if err := m.LoadFile(configFile); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	cfg := m.Get()
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	switch {
	case verbosity >= 2:
		cfg.Log.Level = "debug"
	case verbosity == 1:
		cfg.Log.Level = "info"
	}
	return cfg, nil
}

// newLogger builds the process logger on stderr.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
