package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete posts older than the retention age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup()
			if cfg.Store.DSN == "" {
				return errors.New("TWEETSCOPE_PG_DSN is required")
			}
			if olderThan <= 0 {
				olderThan = cfg.Scheduler.RetentionAge
			}
			if olderThan <= 0 {
				return errors.New("retention age must be positive")
			}

			ctx, stop := signalContext()
			defer stop()

			st, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Sweep(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d posts older than %s\n", n, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention age (default TWEETSCOPE_RETENTION)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the post store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := setup()
			if cfg.Store.DSN == "" {
				return errors.New("TWEETSCOPE_PG_DSN is required")
			}
			ctx, stop := signalContext()
			defer stop()

			// openStore migrates on connect.
			st, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			st.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
