// Package export renders bookings as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"time"

	"tovis/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

var headers = []string{"ID", "Date", "Start", "End", "Service", "Client", "Status", "Started", "Finished", "Note"}

var statusColors = map[models.BookingStatus]string{
	models.StatusPending:   "#FFF2CC",
	models.StatusAccepted:  "#DDEBF7",
	models.StatusCompleted: "#E2EFDA",
	models.StatusCancelled: "#F8CBAD",
}

// Params describes one export. Times are rendered in Location.
type Params struct {
	From     time.Time
	To       time.Time
	Location *time.Location
	// Services maps service id to its display name.
	Services map[int64]string
}

// WriteBookings writes a workbook with one row per booking to w.
func WriteBookings(w io.Writer, bookings []*models.Booking, p Params) error {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s (%s)",
		p.From.In(loc).Format("02.01.2006"), p.To.In(loc).Format("02.01.2006"), loc.String()))
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	if style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err == nil {
		_ = f.SetCellStyle(sheetName, "A1", "A1", style)
	}

	if err := writeHeaders(f); err != nil {
		return err
	}

	styles := make(map[models.BookingStatus]int, len(statusColors))
	for status, color := range statusColors {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return fmt.Errorf("error creating style: %w", err)
		}
		styles[status] = style
	}

	for i, b := range bookings {
		row := i + 3
		start := b.ScheduledFor.In(loc)
		values := []interface{}{
			b.ID,
			start.Format("2006-01-02"),
			start.Format("15:04"),
			b.EndsAt().In(loc).Format("15:04"),
			serviceName(p.Services, b.ServiceID),
			b.ClientID,
			string(b.Status),
			formatOptional(b.StartedAt, loc),
			formatOptional(b.FinishedAt, loc),
			b.Note,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
		if style, ok := styles[b.Status]; ok {
			end, _ := excelize.CoordinatesToCellName(len(headers), row)
			_ = f.SetCellStyle(sheetName, cell, end, style)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "D", 12)
	_ = f.SetColWidth(sheetName, "E", "E", 25)
	_ = f.SetColWidth(sheetName, "F", "I", 16)
	_ = f.SetColWidth(sheetName, "J", "J", 40)

	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func writeHeaders(f *excelize.File) error {
	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9D9D9"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
	return nil
}

func serviceName(services map[int64]string, id int64) string {
	if name, ok := services[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func formatOptional(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("2006-01-02 15:04")
}
