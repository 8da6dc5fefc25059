package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/tweetscope/browser"
	"github.com/use-agent/tweetscope/cache"
	"github.com/use-agent/tweetscope/models"
	"github.com/use-agent/tweetscope/notify"
	"github.com/use-agent/tweetscope/task"
)

const cliChannel = "cli"

func acquireCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "acquire [query...]",
		Short: "Run one acquisition in the foreground and print the task record",
		Long: `acquire runs the given queries (or TWEETSCOPE_QUERIES when none are given)
through the same pipeline the server uses, commits the posts and prints the
finished task as JSON. It exits non-zero when the task fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup()
			if !cfg.AcquisitionEnabled() {
				return errors.New("TWEETSCOPE_AUTH_TOKEN is required")
			}
			if cfg.Store.DSN == "" {
				return errors.New("TWEETSCOPE_PG_DSN is required")
			}
			queries := args
			if len(queries) == 0 {
				queries = cfg.Acquisition.DefaultQueries
			}

			ctx, stop := signalContext()
			defer stop()

			st, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			rb := browser.NewRodBrowser(cfg.Browser, cfg.Platform)
			defer rb.Close()

			hub := notify.NewHub(cfg.Notify.SinkTimeout)
			sink := notify.NewStreamSink(1)
			hub.Subscribe(cliChannel, sink)

			mgr := newManager(cfg, rb, st, hub, cache.New(1, 0))
			t, err := mgr.Submit(ctx, task.SubmitRequest{
				Queries:   queries,
				ChannelID: cliChannel,
				Origin:    models.OriginCLI,
			})
			if err != nil {
				return err
			}

			var deadline <-chan time.Time
			if timeout > 0 {
				timer := time.NewTimer(timeout)
				defer timer.Stop()
				deadline = timer.C
			}
			select {
			case <-sink.Events():
			case <-ctx.Done():
				mgr.ForceReset("interrupted")
			case <-deadline:
				mgr.ForceReset("run exceeded " + timeout.String())
			}
			mgr.Wait()
			hub.Wait()

			view, _ := mgr.Get(t.ID)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(view); err != nil {
				return err
			}
			if view.Status != models.TaskCompleted {
				return fmt.Errorf("acquisition %s: %s", view.Status, view.Error)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 60*time.Minute, "Abort the run after this long (0 for no limit)")
	return cmd
}
