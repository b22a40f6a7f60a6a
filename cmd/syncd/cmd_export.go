package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a diagnostics workbook with run history and dead letters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport()
	},
}

func runExport() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path, err := a.exporter.WriteReport(ctx, a.cfg.App.TenantID)
	if err != nil {
		return err
	}

	fmt.Println(path)
	return nil
}
