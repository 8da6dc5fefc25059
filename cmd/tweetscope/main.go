package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/use-agent/tweetscope/config"
	"github.com/use-agent/tweetscope/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tweetscope",
		Short: "Acquire, rank and serve social posts from live search timelines",
		Long: `tweetscope drives an authenticated headless browser through platform
search timelines, keeps the posts in Postgres and serves ranked reads over
HTTP. Configuration comes from TWEETSCOPE_* environment variables; a .env
file in the working directory is honoured.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd(), acquireCmd(), sweepCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration, installs the logger and logs the
// configuration warnings every command shares.
func setup() *config.Config {
	cfg := config.Load()
	initLogger(cfg.Log)
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}
	return cfg
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openStore connects and migrates the store. A missing DSN yields a nil
// store and no error.
func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
