// Package export renders daily attendance records as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/diagnosis/qr-attendance/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	SheetName   = "Attendance"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	NotOut      = "not checked out"
)

var header = []interface{}{"Name", "Contact", "Date", "Check-in", "Check-out", "Work hours", "Wage"}

var colWidths = map[string]float64{"A": 15, "B": 15, "C": 12, "D": 10, "E": 16, "F": 10, "G": 12}

// FileName is the download name for a range export.
func FileName(start, end time.Time) string {
	return fmt.Sprintf("attendance_%s_%s.xlsx", start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// Row returns the spreadsheet cells for one record. Times are HH:MM in loc.
func Row(r domain.DailyRecord, loc *time.Location) []interface{} {
	contact := r.Contact
	if contact == "" {
		contact = "-"
	}
	in, out := "", NotOut
	if r.InTime != nil {
		in = r.InTime.In(loc).Format("15:04")
	}
	if r.OutTime != nil {
		out = r.OutTime.In(loc).Format("15:04")
	}
	return []interface{}{r.UserName, contact, r.Date, in, out, r.WorkHours, r.Wage}
}

// WriteXLSX writes records as a single-sheet workbook to w.
func WriteXLSX(w io.Writer, records []domain.DailyRecord, loc *time.Location) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}
	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := Row(r, loc)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return err
		}
	}
	for col, width := range colWidths {
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return err
		}
	}
	return f.Write(w)
}
