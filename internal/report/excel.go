package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"homebooking/internal/availability"
	"homebooking/internal/models"

	"github.com/xuri/excelize/v2"
)

// Cell labels of the week grid.
const (
	CellFree    = "free"
	CellBooked  = "booked"
	CellBlocked = "blocked"
	CellClosed  = "closed"
)

// sheetWriter appends rows to the sheets of one workbook.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel limits sheet names to 31 characters.
	if len(name) > 31 {
		name = name[:31]
	}
	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	if err := w.writeRow(toRow(columns)); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		start, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		end, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, start, end, style)
	}
	return nil
}

func (w *sheetWriter) writeRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, val); err != nil {
			return err
		}
	}
	w.currentRow++
	return nil
}

func toRow(values []string) []any {
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

// WeekSheetName is the grid sheet's name for a week starting on monday.
func WeekSheetName(monday string) string {
	return "Week " + monday
}

// SummarySheetName is the per-day summary sheet.
const SummarySheetName = "Summary"

// WriteWeek renders a week as a time-by-day grid plus a per-day summary.
func WriteWeek(out io.Writer, entry *availability.WeekEntry) error {
	if entry == nil {
		return fmt.Errorf("no week to export")
	}
	monday, err := models.ParseDate(entry.WeekStart)
	if err != nil {
		return err
	}
	dates := make([]string, 7)
	for i := range dates {
		dates[i] = monday.AddDate(0, 0, i).Format(models.DateLayout)
	}

	w := newSheetWriter()
	defer w.file.Close()

	if err := w.addSheet(WeekSheetName(entry.WeekStart)); err != nil {
		return err
	}
	header := []string{"Time"}
	for _, d := range dates {
		t, _ := models.ParseDate(d)
		header = append(header, fmt.Sprintf("%s %s", t.Weekday().String()[:3], d))
	}
	if err := w.writeHeader(header); err != nil {
		return err
	}

	for _, clock := range gridTimes(entry, dates) {
		row := []any{clock}
		for _, d := range dates {
			row = append(row, cellLabel(entry, d, clock))
		}
		if err := w.writeRow(row); err != nil {
			return err
		}
	}

	if err := w.addSheet(SummarySheetName); err != nil {
		return err
	}
	if err := w.writeHeader([]string{"Date", "Status", "Booked", "Unavailable", "Total", "Closed"}); err != nil {
		return err
	}
	for _, d := range dates {
		day := entry.Days[d]
		if err := w.writeRow([]any{d, string(day.Status), day.BookedSlots, day.UnavailableSlots, day.TotalSlots, day.IsClosed}); err != nil {
			return err
		}
	}

	return w.file.Write(out)
}

func gridTimes(entry *availability.WeekEntry, dates []string) []string {
	seen := make(map[string]struct{})
	for _, d := range dates {
		for _, s := range entry.Slots[d] {
			seen[s.Time] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for clock := range seen {
		out = append(out, clock)
	}
	sort.Strings(out)
	return out
}

func cellLabel(entry *availability.WeekEntry, date, clock string) string {
	if entry.Days[date].IsClosed {
		return CellClosed
	}
	for _, s := range entry.Slots[date] {
		if s.Time != clock {
			continue
		}
		switch {
		case s.IsBlocked:
			if s.BlockInfo != nil && s.BlockInfo.Title != "" {
				return CellBlocked + ": " + s.BlockInfo.Title
			}
			return CellBlocked
		case s.IsBooked:
			return CellBooked
		default:
			return CellFree
		}
	}
	return ""
}

// FileName is the download name of a week export.
func FileName(organizationID string, monday time.Time) string {
	return fmt.Sprintf("availability_%s_%s.xlsx", organizationID, monday.Format("20060102"))
}
