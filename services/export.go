package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"attendanceTracker/database"
)

const (
	exportDateLayout    = "01/02/2006"
	exportStampLayout   = "01/02/2006 03:04 PM"
	maxSheetNameLen     = 31
	invalidSheetNameSet = `[]:*?/\`
)

var legendLines = []string{
	"Present = Student was present",
	"Absent = Student was absent",
	"Late = Student was late",
	"Empty = No attendance record for that date",
}

type ExportRow struct {
	Student database.Student
	// Statuses is aligned with ExportMatrix.Dates; an empty status means no
	// record for that date.
	Statuses   []database.Status
	Present    int
	Absent     int
	Late       int
	Percentage float64
}

// ExportMatrix is a class's attendance laid out as students by dates.
type ExportMatrix struct {
	Class       database.Class
	TeacherName string
	Dates       []database.Date
	Rows        []ExportRow
	GeneratedAt time.Time
}

type Exporter struct {
	store *database.Store
	now   func() time.Time
}

func NewExporter(store *database.Store) *Exporter {
	return &Exporter{store: store, now: time.Now}
}

// Matrix collects every date with at least one record in the optional
// inclusive range. The percentage counts only Present against those dates.
func (e *Exporter) Matrix(ctx context.Context, p Principal, classID int64, from, to *database.Date) (*ExportMatrix, error) {
	db := e.store.DB()
	class, err := e.store.Classes.GetOwned(ctx, db, p.TeacherID, classID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, err
	}
	teacher, err := e.store.Teachers.GetByID(ctx, p.TeacherID)
	if err != nil {
		return nil, err
	}

	students, err := e.store.Students.ListByClass(ctx, db, class.ID)
	if err != nil {
		return nil, err
	}
	records, err := e.store.Attendance.ListByClassRange(ctx, class.ID, from, to)
	if err != nil {
		return nil, err
	}

	m := &ExportMatrix{Class: *class, TeacherName: teacher.Name, GeneratedAt: e.now()}

	dateIndex := make(map[database.Date]int)
	byStudent := make(map[int64]map[database.Date]database.Status)
	for _, r := range records {
		if _, ok := dateIndex[r.Date]; !ok {
			dateIndex[r.Date] = len(m.Dates)
			m.Dates = append(m.Dates, r.Date)
		}
		if byStudent[r.StudentID] == nil {
			byStudent[r.StudentID] = make(map[database.Date]database.Status)
		}
		byStudent[r.StudentID][r.Date] = r.Status
	}

	for _, st := range students {
		row := ExportRow{Student: st, Statuses: make([]database.Status, len(m.Dates))}
		for i, d := range m.Dates {
			status := byStudent[st.ID][d]
			row.Statuses[i] = status
			switch status {
			case database.StatusPresent:
				row.Present++
			case database.StatusAbsent:
				row.Absent++
			case database.StatusLate:
				row.Late++
			}
		}
		row.Percentage = attendancePercentage(row.Present, len(m.Dates))
		m.Rows = append(m.Rows, row)
	}

	return m, nil
}

func attendancePercentage(present, dates int) float64 {
	if dates == 0 {
		return 0
	}
	return math.Round(float64(present)/float64(dates)*10000) / 100
}

// FormatPercentage renders 75 as "75.0%" and 66.67 as "66.67%". With no dates
// the cell reads "0%".
func FormatPercentage(v float64, dates int) string {
	if dates == 0 {
		return "0%"
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "%"
}

func (m *ExportMatrix) preamble() [][]string {
	return [][]string{
		{"Class:", fmt.Sprintf("%s - %s", m.Class.Name, m.Class.Subject)},
		{"Teacher:", m.TeacherName},
		{"Export Date:", m.GeneratedAt.Format(exportStampLayout)},
	}
}

func (m *ExportMatrix) header() []string {
	h := []string{"S.No", "Student ID", "Student Name", "Email"}
	for _, d := range m.Dates {
		h = append(h, d.Format(exportDateLayout))
	}
	return append(h, "Total Present", "Total Absent", "Total Late", "Attendance %")
}

func (m *ExportMatrix) record(i int) []string {
	row := m.Rows[i]
	rec := []string{strconv.Itoa(i + 1), row.Student.StudentID, row.Student.Name, row.Student.Email}
	for _, s := range row.Statuses {
		rec = append(rec, string(s))
	}
	return append(rec,
		strconv.Itoa(row.Present),
		strconv.Itoa(row.Absent),
		strconv.Itoa(row.Late),
		FormatPercentage(row.Percentage, len(m.Dates)),
	)
}

func WriteCSV(w io.Writer, m *ExportMatrix) error {
	cw := csv.NewWriter(w)

	lines := m.preamble()
	lines = append(lines, []string{}, m.header())
	for i := range m.Rows {
		lines = append(lines, m.record(i))
	}
	lines = append(lines, []string{}, []string{"Legend:"})
	for _, l := range legendLines {
		lines = append(lines, []string{l})
	}

	if err := cw.WriteAll(lines); err != nil {
		return fmt.Errorf("write csv export: %w", err)
	}
	return nil
}

// WriteXLSX writes the same layout as WriteCSV into a single worksheet named
// after the class. Counts are stored as numbers.
func WriteXLSX(w io.Writer, m *ExportMatrix) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(m.Class.Name + " Attendance")
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name worksheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open worksheet: %w", err)
	}

	rowNum := 1
	put := func(values []interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		rowNum++
		return sw.SetRow(cell, values)
	}
	strs := func(in []string) []interface{} {
		out := make([]interface{}, len(in))
		for i, s := range in {
			out[i] = s
		}
		return out
	}

	for _, line := range m.preamble() {
		if err := put(strs(line)); err != nil {
			return err
		}
	}
	rowNum++
	if err := put(strs(m.header())); err != nil {
		return err
	}

	for i, row := range m.Rows {
		values := []interface{}{i + 1, row.Student.StudentID, row.Student.Name, row.Student.Email}
		for _, s := range row.Statuses {
			values = append(values, string(s))
		}
		values = append(values, row.Present, row.Absent, row.Late, FormatPercentage(row.Percentage, len(m.Dates)))
		if err := put(values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	rowNum++
	if err := put([]interface{}{"Legend:"}); err != nil {
		return err
	}
	for _, l := range legendLines {
		if err := put([]interface{}{l}); err != nil {
			return err
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush worksheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx export: %w", err)
	}
	return nil
}

// SheetName strips characters Excel forbids in sheet names and truncates to
// the allowed length.
func SheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidSheetNameSet, r) {
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), "'")
	if name == "" {
		name = "Attendance"
	}
	if r := []rune(name); len(r) > maxSheetNameLen {
		name = string(r[:maxSheetNameLen])
	}
	return name
}

// ExportFilename is "<class>_attendance[_<from>_<to>].<ext>"; the range
// suffix appears only when both bounds are set.
func ExportFilename(class database.Class, from, to *database.Date, ext string) string {
	name := class.Name + "_attendance"
	if from != nil && to != nil {
		name += "_" + from.String() + "_" + to.String()
	}
	return name + "." + ext
}
