package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"syncline/internal/models"

	"github.com/spf13/cobra"
)

var (
	syncSince string
	syncLimit int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-shot full sync of all entity kinds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync()
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncSince, "since", "", "only fetch records changed since this RFC3339 timestamp")
	syncCmd.Flags().IntVar(&syncLimit, "limit", 0, "cap the number of records fetched per entity kind")
}

func runSync() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := models.SyncOptions{FullSync: true, Limit: syncLimit}
	if syncSince != "" {
		since, parseErr := time.Parse(time.RFC3339, syncSince)
		if parseErr != nil {
			return fmt.Errorf("invalid --since value: %w", parseErr)
		}
		opts.Since = since
		opts.FullSync = false
	}

	progress, err := a.syncer.SyncAll(ctx, a.cfg.App.TenantID, opts)
	if err != nil {
		return err
	}

	for _, res := range progress.Results {
		outcome := "ok"
		if !res.Success {
			outcome = "failed: " + res.Message
		}
		fmt.Printf("%-12s %5d records  %8s  %s\n",
			res.EntityKind, res.Counts.Updated, res.Duration.Round(time.Millisecond), outcome)
	}
	fmt.Printf("status: %s\n", progress.Overall.Status)

	if progress.Overall.Status != models.SyncComplete {
		return fmt.Errorf("full sync finished with status %s", progress.Overall.Status)
	}
	return nil
}
