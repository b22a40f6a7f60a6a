package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print queue depth, cache usage and recent sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func runStatus() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats, err := a.cache.Stats(ctx)
	if err != nil {
		return fmt.Errorf("cache stats: %w", err)
	}

	runs, err := a.syncer.History(ctx, a.cfg.App.TenantID)
	if err != nil {
		return fmt.Errorf("sync history: %w", err)
	}

	out := map[string]any{
		"queue": a.queue.Status(),
		"cache": stats,
	}
	if len(runs) > 0 {
		last := runs[len(runs)-1]
		out["last_sync"] = map[string]any{
			"status":       last.Status,
			"completed_at": last.CompletedAt,
			"duration":     last.Duration.Round(time.Millisecond).String(),
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
