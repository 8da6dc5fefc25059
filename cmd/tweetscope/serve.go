package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/tweetscope/api"
	"github.com/use-agent/tweetscope/api/handler"
	"github.com/use-agent/tweetscope/browser"
	"github.com/use-agent/tweetscope/cache"
	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/notify"
	"github.com/use-agent/tweetscope/scheduler"
	"github.com/use-agent/tweetscope/scraper"
	"github.com/use-agent/tweetscope/store"
	"github.com/use-agent/tweetscope/task"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the scheduler and the health guard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(setup())
		},
	}
}

func serve(cfg *config.Config) error {
	slog.Info("tweetscope starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"acquisition", cfg.AcquisitionEnabled(),
	)

	ctx, stop := signalContext()
	defer stop()

	// ── 1. Store ────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	// ── 2. Notification hub and read cache ─────────────────────────
	hub := notify.NewHub(cfg.Notify.SinkTimeout)
	cc := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)

	// ── 3. Acquisition (needs both the session token and the store) ─
	var (
		acquisitions handler.Acquisitions
		posts        handler.Posts
		schedMgr     scheduler.Manager
		sweeper      scheduler.Sweeper
		mgr          *task.Manager
	)
	if st != nil {
		posts = st
		sweeper = st
	}
	if cfg.AcquisitionEnabled() && st != nil {
		rb := browser.NewRodBrowser(cfg.Browser, cfg.Platform)
		defer rb.Close()

		mgr = newManager(cfg, rb, st, hub, cc)
		acquisitions = mgr
		schedMgr = mgr
	} else {
		slog.Warn("acquisition disabled", "token", cfg.AcquisitionEnabled(), "store", st != nil)
	}

	// ── 4. Scheduler and health guard ───────────────────────────────
	sched := scheduler.New(schedMgr, sweeper, cfg.Scheduler, cfg.Acquisition.DefaultQueries)
	sched.Start(ctx)
	defer sched.Stop()

	// ── 5. Router and HTTP server ───────────────────────────────────
	router := api.NewRouter(api.Deps{
		Acquisitions: acquisitions,
		Posts:        posts,
		Runtime:      sched,
		Hub:          hub,
		Cache:        cc,
		StartTime:    time.Now(),
	}, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── 6. Graceful shutdown ────────────────────────────────────────
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	// Give in-flight requests 5 seconds to complete. SSE streams end
	// when their request contexts are cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	if mgr != nil && mgr.ForceReset("shutdown") {
		slog.Warn("run aborted by shutdown")
	}
	hub.Wait()
	slog.Info("tweetscope stopped")
	return nil
}

// newManager wires the acquisition engine to the task manager. Committed
// runs purge the read cache; a forced reset kills the browser.
func newManager(cfg *config.Config, b *browser.RodBrowser, st *store.Store, hub *notify.Hub, cc *cache.Cache) *task.Manager {
	acquirer := scraper.NewAcquirer(b, cfg.Platform, cfg.Acquisition)
	mgr := task.NewManager(acquirer, st, hub, cfg.Scheduler.TaskTTL)
	mgr.SetResetHook(b.Reset)
	mgr.SetCommitHook(func(inserted int) {
		cc.Purge()
		attempts, collected := acquirer.Counters()
		slog.Debug("read cache purged",
			"inserted", inserted,
			"attempts_total", attempts,
			"collected_total", collected,
		)
	})
	return mgr
}
