package reporting

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/patientflow/patientflow/internal/domain/attendance"
	"github.com/patientflow/patientflow/internal/domain/patient"
)

const (
	dateLayout     = "2006-01-02"
	dailySheetName = "Daily Flow"
)

// TicketSource lists the tickets of a service date.
type TicketSource interface {
	DailyTickets(ctx context.Context, day time.Time) ([]*attendance.Ticket, error)
}

// PatientSource resolves patient details for the report rows.
type PatientSource interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// DailyRow is one ticket line of the daily flow sheet.
type DailyRow struct {
	Code        string
	Patient     string
	NationalID  string
	Priority    string
	Status      string
	Clinician   string
	Location    string
	Created     time.Time
	Called      *time.Time
	Finalized   *time.Time
	MinutesOpen int
}

var dailyHeader = []string{
	"Code",
	"Patient",
	"National ID",
	"Priority",
	"Status",
	"Clinician",
	"Location",
	"Created",
	"Last Called",
	"Finalized",
	"Minutes in Clinic",
}

var dailyColumnWidths = []float64{10, 32, 16, 14, 20, 28, 18, 10, 12, 10, 18}

// DailyReport builds the daily flow spreadsheet.
type DailyReport struct {
	tickets  TicketSource
	patients PatientSource
	loc      *time.Location
	now      func() time.Time
}

func NewDailyReport(tickets TicketSource, patients PatientSource, loc *time.Location) *DailyReport {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyReport{tickets: tickets, patients: patients, loc: loc, now: time.Now}
}

// Rows collects one row per ticket issued on day, in code order.
func (r *DailyReport) Rows(ctx context.Context, day time.Time) ([]DailyRow, error) {
	tickets, err := r.tickets.DailyTickets(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	nationalIDs := make(map[uuid.UUID]string)
	now := r.now()

	rows := make([]DailyRow, 0, len(tickets))
	for _, t := range tickets {
		nid, ok := nationalIDs[t.PatientID]
		if !ok {
			p, err := r.patients.GetPatient(ctx, t.PatientID)
			if err != nil {
				return nil, fmt.Errorf("patient %s: %w", t.PatientID, err)
			}
			nid = p.NationalID
			nationalIDs[t.PatientID] = nid
		}
		row := DailyRow{
			Code:       t.Code,
			Patient:    t.PatientName,
			NationalID: nid,
			Status:     string(t.Status),
			Clinician:  t.ClinicianName,
			Created:    t.CreatedAt,
			Called:     t.CalledAt,
			Finalized:  t.FinalizedAt,
		}
		if t.Priority != nil {
			row.Priority = t.Priority.String()
		}
		if t.Location != nil {
			row.Location = *t.Location
		}
		end := now
		switch {
		case t.FinalizedAt != nil:
			end = *t.FinalizedAt
		case t.CanceledAt != nil:
			end = *t.CanceledAt
		}
		row.MinutesOpen = int(math.Round(end.Sub(t.CreatedAt).Minutes()))
		rows = append(rows, row)
	}
	return rows, nil
}

// Generate returns the XLSX workbook for day.
func (r *DailyReport) Generate(ctx context.Context, day time.Time) ([]byte, error) {
	rows, err := r.Rows(ctx, day)
	if err != nil {
		return nil, err
	}
	return r.workbook(rows)
}

func (r *DailyReport) workbook(rows []DailyRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(dailySheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range dailyHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(dailySheetName, cell, header); err != nil {
			return nil, fmt.Errorf("set header %s: %w", cell, err)
		}
		if err := f.SetCellStyle(dailySheetName, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("style header %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(dailySheetName, name, name, dailyColumnWidths[col]); err != nil {
			return nil, fmt.Errorf("set width %s: %w", name, err)
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []interface{}{
			row.Code,
			row.Patient,
			row.NationalID,
			row.Priority,
			row.Status,
			row.Clinician,
			row.Location,
			r.clock(&row.Created),
			r.clock(row.Called),
			r.clock(row.Finalized),
			row.MinutesOpen,
		}
		if err := f.SetSheetRow(dailySheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(dailySheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *DailyReport) clock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(r.loc).Format("15:04")
}

// ParseDay parses a YYYY-MM-DD service date. An empty string yields the
// current date in loc.
func ParseDay(raw string, loc *time.Location, now time.Time) (time.Time, error) {
	if raw == "" {
		return attendance.ServiceDate(now, loc), nil
	}
	d, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return d, nil
}
