package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/imsgtext/internal/api"
	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/imessage"
	"github.com/wesm/imsgtext/internal/scheduler"
	"github.com/wesm/imsgtext/internal/store"
)

var serveNoStore bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP decode service",
	Long: `Run an HTTP service that resolves message payloads, optionally
re-importing chat.db on a schedule.

Endpoints:
  GET  /health
  POST /api/v1/resolve          {"text", "attributed_body" (base64), "has_attachments", "is_reaction", "explain"}
  POST /api/v1/detect           same body, returns the payload format
  GET  /api/v1/stats            import statistics
  GET  /api/v1/texts/recent     newest imported messages (?limit=N)
  GET  /api/v1/imports          import schedule status
  POST /api/v1/imports/trigger  start a scheduled import now

Configure in config.toml:
  [server]
  api_port = 8080
  bind_addr = "127.0.0.1"
  api_key = "..."   # required when binding beyond loopback

  [import]
  schedule = "*/30 * * * *"   # cron format; empty disables

Use Ctrl+C to stop the server gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}
	if cfg.Import.Schedule != "" {
		if err := scheduler.ValidateCronExpr(cfg.Import.Schedule); err != nil {
			return fmt.Errorf("[import] schedule: %w", err)
		}
	}

	resolver, err := newResolver()
	if err != nil {
		return err
	}

	var (
		textStore api.TextStore
		sched     *scheduler.Scheduler
		apiSched  api.ImportScheduler
	)
	if !serveNoStore {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		textStore = s

		sched = scheduler.New(func(ctx context.Context, chatDB string) error {
			return runScheduledImport(ctx, s, resolver, chatDB)
		}).WithLogger(logger)
		if _, err := sched.AddFromConfig(cfg); err != nil {
			return err
		}
		sched.Start()
		apiSched = sched
	} else if cfg.Import.Schedule != "" {
		logger.Warn("ignoring [import] schedule without a database")
	}

	apiServer := api.NewServer(cfg, resolver, textStore, apiSched, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "imsgtext server started\n")
	fmt.Fprintf(out, "  API server: http://%s\n", cfg.Server.Addr())
	if textStore != nil {
		fmt.Fprintf(out, "  Database: %s\n", cfg.DatabasePath())
	}
	if sched != nil {
		for _, st := range sched.Status() {
			fmt.Fprintf(out, "  Import: %s (%s, next %s)\n",
				st.ChatDB, st.Schedule, st.NextRun.Local().Format(time.DateTime))
		}
	}
	fmt.Fprintln(out, "Press Ctrl+C to stop.")

	ctx := cmd.Context()
	var runErr error
	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("API server error", "error", err)
			runErr = fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	fmt.Fprintln(out, "\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduled import did not stop in time")
		}
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintln(out, "Shutdown complete.")
	return nil
}

// runScheduledImport performs an incremental import for the scheduler.
func runScheduledImport(ctx context.Context, s *store.Store, resolver *attrbody.Resolver, chatDB string) error {
	importer, closeCache, err := newImporter(ctx, s, resolver, imessage.NullProgress{})
	if err != nil {
		return err
	}
	defer closeCache()

	summary, err := importer.Import(ctx, chatDB, importOptions())
	if err != nil {
		return err
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "scheduled import complete", summary.LogAttrs()...)
	return nil
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoStore, "no-store", false, "serve decoding only, without opening the database")
	rootCmd.AddCommand(serveCmd)
}
