package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"syncline/internal/config"
	"syncline/internal/domain"
	"syncline/internal/fullsync"
	"syncline/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	sheetRuns        = "Sync Runs"
	sheetDeadLetters = "Dead Letters"
)

// Exporter writes a diagnostics workbook: one sheet per full-sync run
// history and one for the dead-letter store.
type Exporter struct {
	cfg    config.ExportConfig
	syncer *fullsync.Orchestrator
	queue  domain.MutationQueue
	logger zerolog.Logger
}

func New(cfg config.ExportConfig, syncer *fullsync.Orchestrator, queue domain.MutationQueue, logger zerolog.Logger) *Exporter {
	return &Exporter{
		cfg:    cfg,
		syncer: syncer,
		queue:  queue,
		logger: logger.With().Str("component", "export").Logger(),
	}
}

// WriteReport renders the workbook and returns the saved file path.
func (e *Exporter) WriteReport(ctx context.Context, tenantID string) (string, error) {
	if err := os.MkdirAll(e.cfg.Path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	runs, err := e.syncer.History(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("error loading run history: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetRuns)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	e.writeRuns(f, runs)

	if _, err := f.NewSheet(sheetDeadLetters); err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	e.writeDeadLetters(f, e.queue.DeadLetters())

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("sync_report_%s_%s.xlsx", tenantID, time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.cfg.Path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("runs", len(runs)).Msg("diagnostics report created")
	return filePath, nil
}

func (e *Exporter) writeRuns(f *excelize.File, runs []models.SyncRun) {
	headers := []string{
		"Started", "Completed", "Status", "Duration", "Entity",
		"Success", "Created", "Updated", "Deleted", "Errors", "Message",
	}
	writeHeaderRow(f, sheetRuns, headers)

	row := 2
	// Newest runs first.
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		if len(run.Results) == 0 {
			setRow(f, sheetRuns, row, []any{
				run.StartedAt.Format("02.01.2006 15:04:05"),
				run.CompletedAt.Format("02.01.2006 15:04:05"),
				run.Status,
				run.Duration.Round(time.Millisecond).String(),
			})
			row++
			continue
		}
		for _, res := range run.Results {
			setRow(f, sheetRuns, row, []any{
				run.StartedAt.Format("02.01.2006 15:04:05"),
				run.CompletedAt.Format("02.01.2006 15:04:05"),
				run.Status,
				run.Duration.Round(time.Millisecond).String(),
				res.EntityKind,
				res.Success,
				res.Counts.Created,
				res.Counts.Updated,
				res.Counts.Deleted,
				res.Counts.Errors,
				res.Message,
			})
			row++
		}
	}

	_ = f.SetColWidth(sheetRuns, "A", "B", 20)
	_ = f.SetColWidth(sheetRuns, "C", "J", 12)
	_ = f.SetColWidth(sheetRuns, "K", "K", 40)
}

func (e *Exporter) writeDeadLetters(f *excelize.File, letters []models.FailedMutation) {
	headers := []string{
		"ID", "Entity", "Operation", "Method", "Endpoint",
		"Priority", "Attempts", "Enqueued", "Failed", "Error",
	}
	writeHeaderRow(f, sheetDeadLetters, headers)

	for i, letter := range letters {
		setRow(f, sheetDeadLetters, i+2, []any{
			letter.ID,
			letter.EntityKind,
			letter.OpKind,
			letter.Method,
			letter.Endpoint,
			letter.Priority,
			letter.Attempt,
			letter.EnqueuedAt.Format("02.01.2006 15:04:05"),
			letter.FailedAt.Format("02.01.2006 15:04:05"),
			letter.Error,
		})
	}

	_ = f.SetColWidth(sheetDeadLetters, "A", "A", 28)
	_ = f.SetColWidth(sheetDeadLetters, "B", "G", 12)
	_ = f.SetColWidth(sheetDeadLetters, "H", "I", 20)
	_ = f.SetColWidth(sheetDeadLetters, "J", "J", 50)
}

func writeHeaderRow(f *excelize.File, sheetName string, headers []string) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

func setRow(f *excelize.File, sheetName string, row int, values []any) {
	for i, value := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheetName, cell, value)
	}
}
