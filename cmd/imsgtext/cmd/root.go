package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/config"
	"github.com/wesm/imsgtext/internal/store"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "imsgtext",
	Short: "Recover message text from iMessage databases",
	Long: `imsgtext recovers the display text of macOS Messages rows, including
rows whose text column is empty and whose content lives only in the
attributedBody blob (typedstream or NSKeyedArchiver binary plist).

It can decode single payloads, import a whole chat.db into a local
database, and serve decoding over HTTP.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnvironment,
}

// loadEnvironment sets up the logger, config and data directory shared by
// every command except version.
func loadEnvironment(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	logger = newLogger(os.Stderr, verbose)

	var err error
	if cfg, err = config.Load(cfgFile, homeDir); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureHomeDir(); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.HomeDir, err)
	}
	return nil
}

// newLogger logs text to w at info level, or debug with --verbose.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the CLI without cancellation.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the CLI; commands observe ctx through cmd.Context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newResolver builds a resolver from the [resolver] config section.
func newResolver() (*attrbody.Resolver, error) {
	policy, err := cfg.ResolverPolicy()
	if err != nil {
		return nil, err
	}
	return attrbody.NewResolver(policy)
}

// openStore opens the configured database with its schema applied.
func openStore() (*store.Store, error) {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return st, nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ~/.imsgtext/config.toml)")
	flags.StringVar(&homeDir, "home", "", "data directory (overrides IMSGTEXT_HOME)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log debug output")
}
