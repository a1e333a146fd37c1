package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"attendanceTracker/database"
)

func TestExportMatrixPercentages(t *testing.T) {
	env := newTestEnv(t)
	students := env.addStudents(t, "S1", "S2")
	s1, s2 := students[0], students[1]
	ctx := context.Background()

	for i, s1Status := range []database.Status{database.StatusPresent, database.StatusPresent, database.StatusAbsent, database.StatusPresent} {
		_, err := env.attendance.Mark(ctx, env.principal, env.class.ID, jan10.AddDays(i), map[int64]database.Status{
			s1.ID: s1Status,
			s2.ID: database.StatusLate,
		})
		if err != nil {
			t.Fatalf("Mark day %d: %v", i, err)
		}
	}

	m, err := env.exporter.Matrix(ctx, env.principal, env.class.ID, nil, nil)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if len(m.Dates) != 4 || m.Dates[0] != jan10 {
		t.Fatalf("dates = %v", m.Dates)
	}
	if m.TeacherName != "Ada Lovelace" {
		t.Fatalf("teacher = %q", m.TeacherName)
	}

	r1 := m.Rows[0]
	if r1.Student.ID != s1.ID || r1.Present != 3 || r1.Absent != 1 || r1.Percentage != 75 {
		t.Fatalf("S1 row = %+v", r1)
	}
	if got := FormatPercentage(r1.Percentage, len(m.Dates)); got != "75.0%" {
		t.Fatalf("S1 percentage = %q", got)
	}
	if r2 := m.Rows[1]; r2.Late != 4 || r2.Percentage != 0 {
		t.Fatalf("S2 row = %+v", r2)
	}

	from, to := jan10.AddDays(1), jan10.AddDays(2)
	m, err = env.exporter.Matrix(ctx, env.principal, env.class.ID, &from, &to)
	if err != nil {
		t.Fatalf("ranged Matrix: %v", err)
	}
	if len(m.Dates) != 2 || m.Rows[0].Percentage != 50 {
		t.Fatalf("ranged matrix = %v / %+v", m.Dates, m.Rows[0])
	}
}

func TestFormatPercentage(t *testing.T) {
	cases := []struct {
		v     float64
		dates int
		want  string
	}{
		{75, 4, "75.0%"},
		{66.67, 3, "66.67%"},
		{100, 1, "100.0%"},
		{0, 0, "0%"},
		{0, 2, "0.0%"},
	}
	for _, tc := range cases {
		if got := FormatPercentage(tc.v, tc.dates); got != tc.want {
			t.Errorf("FormatPercentage(%v, %d) = %q, want %q", tc.v, tc.dates, got, tc.want)
		}
	}
	if got := attendancePercentage(2, 3); got != 66.67 {
		t.Errorf("attendancePercentage(2, 3) = %v", got)
	}
}

func sampleMatrix() *ExportMatrix {
	return &ExportMatrix{
		Class:       database.Class{Name: "Algebra I", Subject: "Math"},
		TeacherName: "Ada Lovelace",
		Dates:       []database.Date{jan10, jan10.AddDays(1)},
		GeneratedAt: time.Date(2024, time.January, 12, 15, 4, 0, 0, time.UTC),
		Rows: []ExportRow{{
			Student:    database.Student{StudentID: "S1", Name: "Student S1", Email: "s1@example.com"},
			Statuses:   []database.Status{database.StatusPresent, ""},
			Present:    1,
			Percentage: 50,
		}},
	}
}

func TestWriteCSVLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleMatrix()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	lines, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}

	want := [][]string{
		{"Class:", "Algebra I - Math"},
		{"Teacher:", "Ada Lovelace"},
		{"Export Date:", "01/12/2024 03:04 PM"},
		{"S.No", "Student ID", "Student Name", "Email", "01/10/2024", "01/11/2024", "Total Present", "Total Absent", "Total Late", "Attendance %"},
		{"1", "S1", "Student S1", "s1@example.com", "Present", "", "1", "0", "0", "50.0%"},
		{"Legend:"},
	}
	// encoding/csv drops blank lines on read.
	for i, w := range want {
		if strings.Join(lines[i], ",") != strings.Join(w, ",") {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
	if last := lines[len(lines)-1]; last[0] != "Empty = No attendance record for that date" {
		t.Errorf("last line = %q", last)
	}
}

func TestWriteXLSXReadsBackAsRoster(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sampleMatrix()); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}
	path := filepath.Join(t.TempDir(), "export.xlsx")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	table, err := NewTableReader().Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if table.Headers[0] != "Class:" || table.Headers[1] != "Algebra I - Math" {
		t.Fatalf("first row = %q", table.Headers)
	}

	var found bool
	for _, row := range table.Rows {
		if len(row) > 9 && row[1] == "S1" && row[9] == "50.0%" {
			found = true
		}
	}
	if !found {
		t.Fatalf("student row missing from %q", table.Rows)
	}
}

func TestSheetNameAndFilename(t *testing.T) {
	if got := SheetName("Grade 10/B [Morning] Attendance Register"); got != "Grade 10B Morning Attendance Re" {
		t.Fatalf("SheetName = %q", got)
	}
	if got := SheetName("Math: Algebra?"); got != "Math Algebra" {
		t.Fatalf("SheetName = %q", got)
	}

	from, to := jan10, jan10.AddDays(5)
	class := database.Class{Name: "Algebra I"}
	if got := ExportFilename(class, &from, &to, "csv"); got != "Algebra I_attendance_2024-01-10_2024-01-15.csv" {
		t.Fatalf("ExportFilename = %q", got)
	}
	if got := ExportFilename(class, &from, nil, "xlsx"); got != "Algebra I_attendance.xlsx" {
		t.Fatalf("ExportFilename = %q", got)
	}
}
