package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/cache"
	"github.com/wesm/imsgtext/internal/imessage"
	"github.com/wesm/imsgtext/internal/store"
)

var (
	importWorkers int
	importLimit   int
	importFull    bool
)

var importCmd = &cobra.Command{
	Use:   "import [chat.db]",
	Short: "Import message text from a Messages database",
	Long: `Resolve the text of every message in a macOS Messages chat.db and store
it in the imsgtext database.

The chat.db defaults to [data] chat_db in config.toml. Imports resume
after the last stored message; use --full to re-import everything.
When [cache] redis_url is set, results decoded from attributedBody are
cached in Redis.

Examples:
  imsgtext import
  imsgtext import --workers 8 ~/backup/chat.db
  imsgtext import --full --limit 1000`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	chatDB := cfg.Data.ChatDB
	if len(args) > 0 {
		chatDB = args[0]
	}
	if _, err := os.Stat(chatDB); err != nil {
		return fmt.Errorf("chat.db not found: %w", err)
	}

	resolver, err := newResolver()
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	importer, closeCache, err := newImporter(ctx, s, resolver, &importCLIProgress{out: out})
	if err != nil {
		return err
	}
	defer closeCache()

	opts := importOptions()
	if importWorkers > 0 {
		opts.Workers = importWorkers
	}
	opts.Limit = importLimit
	opts.Full = importFull

	fmt.Fprintf(out, "Importing messages from %s\n", chatDB)
	fmt.Fprintf(out, "Database: %s\n", s.Path())
	if importLimit > 0 {
		fmt.Fprintf(out, "Limit: %d messages\n", importLimit)
	}
	fmt.Fprintln(out)

	summary, err := importer.Import(ctx, chatDB, opts)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, "\nImport interrupted. Run again to continue.")
			return ctx.Err()
		}
		return fmt.Errorf("import failed: %w", err)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "import complete", summary.LogAttrs()...)
	writeSummary(out, summary)
	return nil
}

// newImporter builds an importer over s, attaching the Redis resolve
// cache when [cache] redis_url is set. The returned func closes the cache.
func newImporter(ctx context.Context, s *store.Store, resolver *attrbody.Resolver, progress imessage.ImportProgress) (*imessage.Importer, func(), error) {
	importer := imessage.NewImporter(s, resolver, progress)
	importer.SetLogger(logger)

	if cfg.Cache.RedisURL == "" {
		return importer, func() {}, nil
	}
	ttl, err := cfg.CacheTTL()
	if err != nil {
		return nil, nil, err
	}
	rc, err := cache.Dial(ctx, cfg.Cache.RedisURL, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("connect resolve cache: %w", err)
	}
	importer.SetCache(rc)
	return importer, func() { _ = rc.Close() }, nil
}

// importOptions returns import options from the [import] config section.
func importOptions() imessage.ImportOptions {
	opts := imessage.DefaultOptions()
	if cfg.Import.Workers > 0 {
		opts.Workers = cfg.Import.Workers
	}
	if cfg.Import.BatchSize > 0 {
		opts.BatchSize = cfg.Import.BatchSize
	}
	return opts
}

func writeSummary(w io.Writer, summary *imessage.ImportSummary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Import complete!")
	fmt.Fprintf(w, "  Duration:     %s\n", summary.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Messages:     %d processed (rows %d-%d)\n",
		summary.MessagesProcessed, summary.StartRowID+1, summary.LastRowID)
	for _, src := range attrbody.Sources() {
		if n := summary.BySource[src]; n > 0 {
			fmt.Fprintf(w, "    %-22s %d\n", src.String()+":", n)
		}
	}
	if summary.CacheHits > 0 {
		fmt.Fprintf(w, "  Cache hits:   %d\n", summary.CacheHits)
	}
	if secs := summary.Duration.Seconds(); summary.MessagesProcessed > 0 && secs > 0 {
		fmt.Fprintf(w, "  Rate:         %.0f messages/sec\n", float64(summary.MessagesProcessed)/secs)
	}
}

// importCLIProgress implements imessage.ImportProgress for terminal output.
type importCLIProgress struct {
	out       io.Writer
	startTime time.Time
	lastPrint time.Time
}

func (p *importCLIProgress) OnStart(startRowID int64) {
	p.startTime = time.Now()
	p.lastPrint = time.Now()
	if startRowID > 0 {
		fmt.Fprintf(p.out, "Resuming after row %d\n", startRowID)
	}
}

func (p *importCLIProgress) OnProgress(processed, lastRowID int64) {
	if p.startTime.IsZero() {
		p.startTime = time.Now()
	}
	// Throttle output to every 2 seconds.
	if time.Since(p.lastPrint) < 2*time.Second {
		return
	}
	p.lastPrint = time.Now()

	elapsed := time.Since(p.startTime)
	rate := 0.0
	if elapsed.Seconds() >= 1 {
		rate = float64(processed) / elapsed.Seconds()
	}
	fmt.Fprintf(p.out, "\r  Processed: %d | Row: %d | Rate: %.0f/s | Elapsed: %s    ",
		processed, lastRowID, rate, elapsed.Round(time.Second))
}

func (p *importCLIProgress) OnComplete(*imessage.ImportSummary) {}

// OnError reports cache failures through the logger; the progress line
// stays intact.
func (p *importCLIProgress) OnError(err error) {
	if logger != nil {
		logger.Warn("import warning", "error", err)
	}
}

func init() {
	importCmd.Flags().IntVar(&importWorkers, "workers", 0, "concurrent resolvers (default: [import] workers)")
	importCmd.Flags().IntVar(&importLimit, "limit", 0, "limit number of messages (for testing)")
	importCmd.Flags().BoolVar(&importFull, "full", false, "re-import from the first message")
	rootCmd.AddCommand(importCmd)
}
