package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/internal/config"
	"github.com/tonimelisma/mega-go/internal/mega"
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

// cfgHolder holds the effective configuration loaded by PersistentPreRunE.
// Long-running commands hand it to a config.Watcher so edits take effect
// without a restart.
var cfgHolder *config.Holder

// logOutput is where log records go: stderr, or log_file when configured.
var logOutput io.Writer = os.Stderr

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mega-go",
		Short:   "MEGA cloud storage client",
		Long:    "A MEGA client: account session, folder and link management, and queued transfers.",
		Version: version,
		// Silence Cobra's default error/usage printing; exitOnError handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, args)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return closeLogOutput()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newShareCmd())
	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newQueueCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and stores it in cfgHolder for use by subcommands.
func loadConfig(cmd *cobra.Command, args []string) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	// login takes the account as its positional argument.
	if cmd.Name() == "login" && len(args) > 0 {
		cli.Email = &args[0]
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgHolder = config.NewHolder(cfg, path)

	return openLogOutput(cfg.Logging.LogFile)
}

// currentConfig returns the loaded config, or defaults when a command runs
// without the root pre-run (tests).
func currentConfig() *config.Config {
	if cfgHolder == nil {
		return config.DefaultConfig()
	}

	return cfgHolder.Config()
}

func openLogOutput(path string) error {
	if path == "" {
		logOutput = os.Stderr
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	logOutput = f

	return nil
}

func closeLogOutput() error {
	f, ok := logOutput.(*os.File)
	if !ok || f == os.Stderr {
		return nil
	}

	logOutput = os.Stderr

	return f.Close()
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	cfg := currentConfig()

	level, err := config.ParseLogLevel(cfg.Logging.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(cfg.Logging.LogFormat, logOutput) {
		return slog.New(slog.NewJSONHandler(logOutput, opts))
	}

	return slog.New(slog.NewTextHandler(logOutput, opts))
}

// useJSONLogs resolves log_format; "auto" picks text for a terminal and
// JSON for anything else.
func useJSONLogs(format string, w io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	default:
		return !isTerminal(w)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newHTTPClient builds the API transport from the [api] timeouts.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.API.ConnectTimeoutDuration()}).DialContext

	return &http.Client{
		Timeout:   cfg.API.RequestTimeoutDuration(),
		Transport: transport,
	}
}

// newMegaClient returns an unauthenticated client for the configured
// endpoint. Public link operations need nothing more.
func newMegaClient(cfg *config.Config, logger *slog.Logger) *mega.Client {
	c := mega.NewClient(cfg.API.URL, newHTTPClient(cfg), logger, cfg.API.UserAgent)

	if cfg.API.APIKey != "" {
		c.SetAPIKey(cfg.API.APIKey)
	}

	return c
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
