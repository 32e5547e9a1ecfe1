package report

import (
	"bytes"
	"testing"
	"time"

	"homebooking/internal/availability"
	"homebooking/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleWeek() *availability.WeekEntry {
	lunch := models.ScheduleBlock{Date: "2024-06-11", Time: "12:00", Type: models.BlockManual, Title: "Lunch"}
	return &availability.WeekEntry{
		WeekStart: "2024-06-10",
		Days: map[string]availability.DayAvailability{
			"2024-06-10": {Date: "2024-06-10", BookedSlots: 1, UnavailableSlots: 1, TotalSlots: 2, Status: availability.StatusAvailable},
			"2024-06-11": {Date: "2024-06-11", UnavailableSlots: 1, TotalSlots: 2, Status: availability.StatusAvailable},
			"2024-06-16": {Date: "2024-06-16", Status: availability.StatusFull, IsClosed: true},
		},
		Slots: map[string][]availability.TimeSlotAvailability{
			"2024-06-10": {{Time: "11:00"}, {Time: "12:00", IsBooked: true}},
			"2024-06-11": {{Time: "11:00"}, {Time: "12:00", IsBlocked: true, BlockInfo: &lunch}},
		},
	}
}

func TestWriteWeek(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWeek(&buf, sampleWeek()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{WeekSheetName("2024-06-10"), SummarySheetName}, f.GetSheetList())

	grid := WeekSheetName("2024-06-10")
	cell := func(sheet, name string) string {
		v, err := f.GetCellValue(sheet, name)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Time", cell(grid, "A1"))
	assert.Equal(t, "Mon 2024-06-10", cell(grid, "B1"))
	assert.Equal(t, "Sun 2024-06-16", cell(grid, "H1"))
	assert.Equal(t, "11:00", cell(grid, "A2"))
	assert.Equal(t, CellFree, cell(grid, "B2"))
	assert.Equal(t, CellBooked, cell(grid, "B3"))
	assert.Equal(t, "blocked: Lunch", cell(grid, "C3"))
	assert.Equal(t, CellClosed, cell(grid, "H2"))
	assert.Equal(t, "", cell(grid, "D2"))

	assert.Equal(t, "Date", cell(SummarySheetName, "A1"))
	assert.Equal(t, "2024-06-10", cell(SummarySheetName, "A2"))
	assert.Equal(t, "available", cell(SummarySheetName, "B2"))
	assert.Equal(t, "full", cell(SummarySheetName, "B8"))
	assert.Equal(t, "Unavailable", cell(SummarySheetName, "D1"))
	assert.Equal(t, "0", cell(SummarySheetName, "C3"), "blocked slots are not booked")
	assert.Equal(t, "1", cell(SummarySheetName, "D3"))
}

func TestWriteWeek_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteWeek(&buf, nil))
	assert.Error(t, WriteWeek(&buf, &availability.WeekEntry{WeekStart: "June"}))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "availability_org-1_20240610.xlsx", FileName("org-1", time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)))
}
