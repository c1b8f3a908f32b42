package report

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

const (
	summarySheet = "Summary"
	recordsSheet = "Records"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var recordHeader = []any{
	"Email ID", "Received", "Sender", "Subject", "Category", "Priority", "Degraded",
	"Status", "Task", "Notification", "Last error",
}

// WriteWorkbook renders the dashboard statistics and every processing record
// into an XLSX workbook with a Summary and a Records sheet.
func WriteWorkbook(w io.Writer, stats domain.Stats, records iter.Seq2[domain.ProcessingRecord, error]) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	if err := writeSummary(f, stats, bold); err != nil {
		return err
	}
	if _, err := f.NewSheet(recordsSheet); err != nil {
		return fmt.Errorf("create records sheet: %w", err)
	}
	if err := writeRecords(f, records, bold); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, stats domain.Stats, headerStyle int) error {
	rows := [][]any{
		{"Metric", "Value"},
		{"Total", stats.Total},
		{"Degraded", stats.Degraded},
	}
	for _, status := range domain.RecordStatuses {
		rows = append(rows, []any{"Status: " + string(status), stats.ByOutcome[status]})
	}
	for _, p := range domain.Priorities() {
		rows = append(rows, []any{"Priority: " + string(p), stats.ByPriority[p]})
	}
	rows = append(rows, []any{}, []any{"Category", "Count", "Percentage"})
	categoryHeaderRow := len(rows)
	for _, share := range stats.CategoryBreakdown {
		rows = append(rows, []any{share.Emoji + " " + string(share.Category), share.Count, share.Percentage})
	}

	for i, row := range rows {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("style summary header: %w", err)
	}
	start := fmt.Sprintf("A%d", categoryHeaderRow)
	end := fmt.Sprintf("C%d", categoryHeaderRow)
	if err := f.SetCellStyle(summarySheet, start, end, headerStyle); err != nil {
		return fmt.Errorf("style category header: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "A", 28)
}

func writeRecords(f *excelize.File, records iter.Seq2[domain.ProcessingRecord, error], headerStyle int) error {
	if err := setRow(f, recordsSheet, 1, recordHeader); err != nil {
		return err
	}
	if err := f.SetCellStyle(recordsSheet, "A1", "K1", headerStyle); err != nil {
		return fmt.Errorf("style records header: %w", err)
	}
	if err := f.SetPanes(recordsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze records header: %w", err)
	}

	row := 2
	for rec, err := range records {
		if err != nil {
			return fmt.Errorf("read records: %w", err)
		}
		if err := setRow(f, recordsSheet, row, recordRow(rec)); err != nil {
			return err
		}
		row++
	}
	if err := f.SetColWidth(recordsSheet, "C", "D", 36); err != nil {
		return fmt.Errorf("size records columns: %w", err)
	}
	return nil
}

func recordRow(rec domain.ProcessingRecord) []any {
	category, priority, degraded := "", "", ""
	if rec.Classification != nil {
		category = string(rec.Classification.Category)
		priority = string(rec.Classification.Priority)
		if rec.Classification.Degraded {
			degraded = strings.Join(rec.Classification.DegradedReasons, "; ")
		}
	}
	received := ""
	if !rec.ReceivedAt.IsZero() {
		received = rec.ReceivedAt.UTC().Format(time.RFC3339)
	}
	return []any{
		rec.EmailID,
		received,
		rec.Sender,
		rec.Subject,
		category,
		priority,
		degraded,
		string(rec.Status),
		refText(rec.TaskRef),
		refText(rec.NotificationRef),
		lastError(rec),
	}
}

func refText(ref *domain.Reference) string {
	if ref == nil {
		return ""
	}
	if ref.URL != "" {
		return ref.URL
	}
	return ref.ID
}

func lastError(rec domain.ProcessingRecord) string {
	for i := len(rec.Outcomes) - 1; i >= 0; i-- {
		if rec.Outcomes[i].Status == domain.OutcomeFailed {
			return fmt.Sprintf("%s: %s", rec.Outcomes[i].Stage, rec.Outcomes[i].Error)
		}
	}
	return ""
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("resolve cell: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
