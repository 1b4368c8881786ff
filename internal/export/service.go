package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/cv-screener/internal/entity"
	"github.com/joseph-ayodele/cv-screener/internal/repository"
)

const (
	sheet          = "Documents"
	previewChars   = 500
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Service produces XLSX bytes for document job exports.
type Service struct {
	jobs   repository.DocumentJobRepository
	logger *slog.Logger
}

func NewService(jobs repository.DocumentJobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

// Window bounds an export by job creation date. Both ends are inclusive dates (UTC).
// If only From is provided -> From..today.
// If only To is provided   -> beginning..To.
// If neither is provided   -> every job matching the filter.
type Window struct {
	From *time.Time
	To   *time.Time
}

// ExportJobsXLSX returns an XLSX workbook (as bytes) of the jobs matching filter and window.
func (s *Service) ExportJobsXLSX(ctx context.Context, filter repository.ListFilter, w Window) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	jobs = w.apply(jobs)

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Document ID",
		"Filename",
		"Content Type",
		"Status",
		"Uploaded",
		"Processed",
		"Text Length",
		"Error",
		"Text Preview",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	for i, j := range jobs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, j.ID.String())
		write(2, j.Filename)
		write(3, j.ContentType)
		write(4, string(j.Status))
		write(5, j.CreatedAt.UTC().Format(dateTimeLayout))
		if j.ProcessedAt != nil {
			write(6, j.ProcessedAt.UTC().Format(dateTimeLayout))
		}
		if j.ProcessedText != nil {
			write(7, utf8.RuneCountInString(*j.ProcessedText))
			write(9, truncate(*j.ProcessedText, previewChars))
		}
		if j.Error != nil {
			write(8, *j.Error)
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // id
	_ = f.SetColWidth(sheet, "B", "B", 32) // filename
	_ = f.SetColWidth(sheet, "C", "D", 18)
	_ = f.SetColWidth(sheet, "E", "F", 20) // timestamps
	_ = f.SetColWidth(sheet, "H", "H", 40)
	_ = f.SetColWidth(sheet, "I", "I", 80) // preview
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"status", string(filter.Status),
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (w Window) apply(jobs []*entity.DocumentJob) []*entity.DocumentJob {
	if w.From == nil && w.To == nil {
		return jobs
	}
	var from, until time.Time
	if w.From != nil {
		from = dateOnly(*w.From)
		until = dateOnly(time.Now()).AddDate(0, 0, 1)
	}
	if w.To != nil {
		until = dateOnly(*w.To).AddDate(0, 0, 1)
	}
	out := jobs[:0:0]
	for _, j := range jobs {
		c := j.CreatedAt.UTC()
		if c.Before(from) || !c.Before(until) {
			continue
		}
		out = append(out, j)
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
