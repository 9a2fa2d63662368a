package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/change"
	"github.com/SudoKMaar/CodeSentinel/internal/config"
	"github.com/SudoKMaar/CodeSentinel/internal/discovery"
	"github.com/SudoKMaar/CodeSentinel/internal/server"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
	"github.com/SudoKMaar/CodeSentinel/internal/telemetry"
)

var (
	analyzePath        string
	analyzeSessionID   string
	analyzeConcurrency int
	analyzeBaseRef     string
	analyzeHeadRef     string
	analyzeHash        bool
	analyzeInclude     []string
	analyzeExclude     []string
	analyzeDetach      bool

	sessionsStatus string

	cleanupKeep   int
	cleanupMaxAge time.Duration
)

func init() {
	analyzeCmd.Flags().StringVar(&analyzePath, "path", ".", "codebase root to analyze")
	analyzeCmd.Flags().StringVar(&analyzeSessionID, "session", "", "session id (generated if empty)")
	analyzeCmd.Flags().IntVar(&analyzeConcurrency, "concurrency", 0, "worker pool size (0 uses config)")
	analyzeCmd.Flags().StringVar(&analyzeBaseRef, "base-ref", "", "analyze only files changed since this git ref")
	analyzeCmd.Flags().StringVar(&analyzeHeadRef, "head-ref", "", "git ref to compare against base-ref (default HEAD)")
	analyzeCmd.Flags().BoolVar(&analyzeHash, "hash", false, "use content hashes for change detection")
	analyzeCmd.Flags().StringSliceVar(&analyzeInclude, "include", nil, "include glob patterns (overrides config)")
	analyzeCmd.Flags().StringSliceVar(&analyzeExclude, "exclude", nil, "exclude glob patterns")
	analyzeCmd.Flags().BoolVar(&analyzeDetach, "detach", false, "start the session and exit without waiting")

	sessionsCmd.Flags().StringVar(&sessionsStatus, "status", "", "filter by status (created|running|paused|completed|failed)")

	cleanupCmd.Flags().IntVar(&cleanupKeep, "keep", -1, "completed sessions to keep (-1 uses config)")
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "expire non-terminal sessions older than this (0 uses config)")
}

func discoveryForWalk(detector *change.Detector, cfg config.AnalysisConfig, logger *zap.Logger) (*discovery.Walker, error) {
	return discovery.NewWalker(detector, cfg.MaxFileSize, logger)
}

func discoveryForChangeset(detector *change.Detector, cfg config.AnalysisConfig, logger *zap.Logger) (*discovery.PRWalker, error) {
	return discovery.NewPRWalker(detector, cfg.BaseRef, cfg.HeadRef, logger)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Start an analysis session",
	Long: `Start an analysis session over a codebase.

The run checkpoints its progress; Ctrl-C pauses it instead of losing
work, and 'codesentinel resume' picks it back up.

Examples:
  codesentinel analyze --path ./src
  codesentinel analyze --path . --base-ref origin/main
  codesentinel analyze --path . --session nightly --concurrency 8`,
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	app, err := newApp(applyAnalyzeFlags)
	if err != nil {
		return err
	}
	defer app.logger.Sync()

	ctx := cmd.Context()
	sess, err := app.coord.Start(ctx, analyzeSessionID, app.cfg.Analysis)
	if err != nil {
		return err
	}
	fmt.Printf("session %s started: %d items\n", sess.ID, len(sess.Pending))
	if analyzeDetach {
		return nil
	}

	// Ctrl-C pauses the run so it can be resumed later
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\npausing session...")
		pauseCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := app.coord.Pause(pauseCtx, sess.ID); err != nil {
			app.logger.Warn("pause on signal failed", zap.Error(err))
		}
	}()

	if err := app.coord.Wait(ctx, sess.ID); err != nil {
		return err
	}
	final, err := app.coord.Status(ctx, sess.ID)
	if err != nil {
		return err
	}
	printSessionSummary(final)
	if final.Status == session.StatusFailed {
		return fmt.Errorf("session failed: %s", final.FailureReason)
	}
	return nil
}

// applyAnalyzeFlags overlays analyze command flags onto the loaded
// config, so precedence is flags > env > file > defaults.
func applyAnalyzeFlags(cfg *config.Config) {
	cfg.Analysis.TargetPath = analyzePath
	if analyzeConcurrency > 0 {
		cfg.Analysis.Concurrency = analyzeConcurrency
	}
	if analyzeBaseRef != "" {
		cfg.Analysis.BaseRef = analyzeBaseRef
		cfg.Analysis.HeadRef = analyzeHeadRef
		if cfg.Analysis.HeadRef == "" {
			cfg.Analysis.HeadRef = "HEAD"
		}
	}
	if analyzeHash {
		cfg.Analysis.HashContents = true
	}
	if len(analyzeInclude) > 0 {
		cfg.Analysis.IncludePatterns = analyzeInclude
	}
	if len(analyzeExclude) > 0 {
		cfg.Analysis.ExcludePatterns = analyzeExclude
	}
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.logger.Sync()

		sess, err := app.coord.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printSessionSummary(sess)
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.logger.Sync()

		var filter []session.Status
		if sessionsStatus != "" {
			filter = append(filter, session.Status(sessionsStatus))
		}
		sessions, err := app.coord.List(cmd.Context(), filter...)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%-38s %-10s %5.1f%%  %s\n",
				s.ID, s.Status, s.Progress()*100, s.CheckpointAt.Format(time.RFC3339))
		}
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <session-id>",
	Short: "Pause a running session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.logger.Sync()

		sess, err := app.coord.Pause(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("session %s paused at %d/%d items\n",
			sess.ID, len(sess.Processed)+len(sess.Skipped), sess.Total())
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused session",
	Long: `Resume a paused session. Files modified since they were processed
are detected and re-queued before work continues.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.logger.Sync()

		ctx := cmd.Context()
		sess, err := app.coord.Resume(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("session %s resumed: %d items remaining\n", sess.ID, len(sess.Pending))

		if err := app.coord.Wait(ctx, sess.ID); err != nil {
			return err
		}
		final, err := app.coord.Status(ctx, sess.ID)
		if err != nil {
			return err
		}
		printSessionSummary(final)
		if final.Status == session.StatusFailed {
			return fmt.Errorf("session failed: %s", final.FailureReason)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <session-id>",
	Short: "Cancel a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.logger.Sync()

		sess, err := app.coord.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("session %s canceled\n", sess.ID)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Print the report of a completed session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.logger.Sync()

		report, err := app.coord.Report(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old sessions",
	Long: `Remove old sessions from the store: completed sessions beyond the
retention count, expired non-terminal sessions, and all failed sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.logger.Sync()

		keep := cleanupKeep
		if keep < 0 {
			keep = app.cfg.Storage.KeepRecent
		}
		maxAge := cleanupMaxAge
		if maxAge <= 0 {
			maxAge = app.cfg.Storage.MaxAge.Duration()
		}

		ctx := cmd.Context()
		completed, err := app.store.CleanupCompleted(ctx, keep)
		if err != nil {
			return err
		}
		expired, err := app.store.CleanupExpired(ctx, maxAge)
		if err != nil {
			return err
		}
		failed, err := app.store.CleanupFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d completed, %d expired, %d failed sessions\n",
			completed, expired, failed)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tel, err := telemetry.New(ctx, app.cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				app.logger.Warn("telemetry shutdown", zap.Error(err))
			}
		}()

		srv, err := server.New(app.cfg.Server, app.coord, app.store, app.logger)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		app.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func printSessionSummary(s *session.Session) {
	fmt.Printf("session:   %s\n", s.ID)
	fmt.Printf("status:    %s\n", s.Status)
	fmt.Printf("progress:  %d/%d items (%.1f%%)\n",
		len(s.Processed)+len(s.Skipped), s.Total(), s.Progress()*100)
	if len(s.Skipped) > 0 {
		fmt.Printf("skipped:   %d\n", len(s.Skipped))
	}
	if s.FailureReason != "" {
		fmt.Printf("reason:    %s\n", s.FailureReason)
	}
}
