package imessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/cache"
	"github.com/wesm/imsgtext/internal/store"
)

// SourceType identifies chat.db sources in the store.
const SourceType = "imessage"

// Importer reads a chat.db, resolves every message and writes the text
// into the imsgtext store.
type Importer struct {
	store       *store.Store
	resolver    *attrbody.Resolver
	fingerprint string
	cache       cache.Cache
	progress    ImportProgress
	logger      *slog.Logger
}

// NewImporter creates an importer. A nil progress reports nothing.
func NewImporter(s *store.Store, r *attrbody.Resolver, progress ImportProgress) *Importer {
	if progress == nil {
		progress = NullProgress{}
	}
	return &Importer{
		store:       s,
		resolver:    r,
		fingerprint: r.Policy().Fingerprint(),
		progress:    progress,
		logger:      slog.Default(),
	}
}

// SetCache enables result caching for rows resolved from attributedBody.
func (imp *Importer) SetCache(c cache.Cache) {
	imp.cache = c
}

// SetLogger sets the logger used for non-fatal problems.
func (imp *Importer) SetLogger(l *slog.Logger) {
	if l != nil {
		imp.logger = l
	}
}

// Import resolves the messages of chatDBPath into the store. Unless
// opts.Full is set it resumes after the highest row already stored for
// this chat.db.
func (imp *Importer) Import(ctx context.Context, chatDBPath string, opts ImportOptions) (summary *ImportSummary, err error) {
	startTime := time.Now()
	summary = newSummary()

	if abs, absErr := filepath.Abs(chatDBPath); absErr == nil {
		chatDBPath = abs
	}
	chatDB, err := openChatDB(chatDBPath)
	if err != nil {
		return nil, err
	}
	defer chatDB.Close()

	if err := verifyChatDB(chatDB); err != nil {
		return nil, err
	}

	source, err := imp.store.GetOrCreateSource(SourceType, chatDBPath)
	if err != nil {
		return nil, fmt.Errorf("get or create source: %w", err)
	}

	runID, err := imp.store.StartRun(source.ID)
	if err != nil {
		return nil, fmt.Errorf("start import run: %w", err)
	}
	summary.RunID = runID

	// Complete or fail the run on exit.
	defer func() {
		if err != nil {
			if failErr := imp.store.FailRun(runID, err.Error()); failErr != nil {
				imp.logger.Warn("failed to mark import run failed", "run_id", runID, "error", failErr)
			}
			return
		}
		if doneErr := imp.store.CompleteRun(runID, summary.MessagesProcessed); doneErr != nil {
			imp.logger.Warn("failed to mark import run completed", "run_id", runID, "error", doneErr)
		}
	}()

	afterRowID := int64(0)
	if !opts.Full {
		afterRowID, err = imp.store.LastSourceMessageID(source.ID)
		if err != nil {
			return nil, fmt.Errorf("find resume point: %w", err)
		}
	}
	summary.StartRowID = afterRowID
	summary.LastRowID = afterRowID

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultOptions().BatchSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultOptions().Workers
	}

	imp.progress.OnStart(afterRowID)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := batchSize
		if opts.Limit > 0 {
			left := int64(opts.Limit) - summary.MessagesProcessed
			if left <= 0 {
				break
			}
			if left < int64(remaining) {
				remaining = int(left)
			}
		}

		rows, err := fetchMessages(ctx, chatDB, afterRowID, remaining)
		if err != nil {
			return nil, fmt.Errorf("fetch messages after %d: %w", afterRowID, err)
		}
		if len(rows) == 0 {
			break
		}

		texts, hits, err := imp.resolveBatch(ctx, rows, workers)
		if err != nil {
			return nil, err
		}
		if err := imp.store.UpsertMessageTexts(source.ID, texts); err != nil {
			return nil, fmt.Errorf("write batch after %d: %w", afterRowID, err)
		}

		for _, t := range texts {
			src, _ := attrbody.ParseSource(t.TextSource)
			summary.BySource[src]++
		}
		afterRowID = rows[len(rows)-1].RowID
		summary.MessagesProcessed += int64(len(rows))
		summary.CacheHits += hits
		summary.LastRowID = afterRowID

		if err := imp.store.UpdateRunProgress(runID, summary.MessagesProcessed); err != nil {
			imp.logger.Warn("failed to record import progress", "run_id", runID, "error", err)
		}
		imp.progress.OnProgress(summary.MessagesProcessed, afterRowID)

		if len(rows) < remaining {
			break
		}
	}

	summary.Duration = time.Since(startTime)
	imp.progress.OnComplete(summary)
	return summary, nil
}

// resolveBatch resolves rows concurrently. Results keep the order of rows.
func (imp *Importer) resolveBatch(ctx context.Context, rows []chatMessage, workers int) ([]store.MessageText, int64, error) {
	texts := make([]store.MessageText, len(rows))
	hit := make([]bool, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, cached := imp.resolve(gctx, toMessage(rows[i]))
			texts[i] = toMessageText(rows[i], result)
			hit[i] = cached
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var hits int64
	for _, h := range hit {
		if h {
			hits++
		}
	}
	return texts, hits, nil
}

// resolve resolves one message, consulting the cache for rows whose text
// can only come from the attributedBody. Cache failures are logged and
// the message is resolved directly.
func (imp *Importer) resolve(ctx context.Context, m attrbody.Message) (attrbody.Result, bool) {
	if imp.cache == nil || len(m.AttributedBody) == 0 || strings.TrimSpace(m.Text) != "" {
		return imp.resolver.Resolve(m), false
	}

	key := cache.Key(imp.fingerprint, m)
	if r, ok, err := imp.cache.Get(ctx, key); err != nil {
		imp.cacheError(err)
	} else if ok {
		return r, true
	}

	r := imp.resolver.Resolve(m)
	if err := imp.cache.Set(ctx, key, r); err != nil {
		imp.cacheError(err)
	}
	return r, false
}

func (imp *Importer) cacheError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	imp.logger.Debug("resolve cache unavailable", "error", err)
	imp.progress.OnError(err)
}
