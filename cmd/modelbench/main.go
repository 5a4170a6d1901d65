// Command modelbench downloads a model artifact and benchmarks streaming
// generation on it, either once from the terminal or behind an HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"modelbench/internal/config"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	logLevel   string
	token      string
	dataDir    string
	trace      bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "modelbench",
		Short: "Download a model and benchmark streaming generation",
		Long: `modelbench fetches a single model artifact with resumable, verified
downloads and measures prefill and decode performance of streaming generation.

Key Commands:
  pull      - Download or resume the model artifact
  status    - Show the artifact state on disk
  generate  - Run one prompt and print performance metrics
  serve     - Expose status, download and generation over HTTP
  presets   - List the sampling presets`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (.yaml, .json or .toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: trace|debug|info|warn|error (overrides config)")
	pf.StringVar(&opts.token, "token", "", "access token (default $"+config.TokenEnv+" or token_file)")
	pf.StringVar(&opts.dataDir, "data-dir", "", "directory holding the artifact (overrides config)")
	pf.BoolVar(&opts.trace, "trace", false, "write OpenTelemetry spans for outbound HTTP to stderr")

	root.AddCommand(
		newPullCmd(opts),
		newStatusCmd(opts),
		newRmCmd(opts),
		newGenerateCmd(opts),
		newServeCmd(opts),
		newPresetsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (o *globalOptions) loadConfig() (config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return config.Config{}, err
		}
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.trace {
		cfg.Trace = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds a console logger on w at the configured level.
func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func main() {
	// Ctrl+C cancels a running download or generation and stops serve.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
