package maxAPI

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/max-messenger/max-bot-api-client-go/schemes"

	"attendanceTracker/database"
	"attendanceTracker/services"
)

func testSheet() *services.Sheet {
	return &services.Sheet{
		Class: database.Class{ID: 7, Name: "Algebra I", Subject: "Math"},
		Date:  database.NewDate(2024, 1, 10),
		Rows: []services.SheetRow{
			{Student: database.Student{ID: 1, StudentID: "S1", Name: "Ada"}},
			{Student: database.Student{ID: 2, StudentID: "S2", Name: "Grace"}, Status: database.StatusAbsent},
			{Student: database.Student{ID: 3, StudentID: "S3", Name: "Linus"}, Status: database.StatusLate},
		},
	}
}

func TestDraftStatuses(t *testing.T) {
	d := newDraft(testSheet())

	got := d.statuses()
	want := map[int64]database.Status{1: database.StatusPresent, 2: database.StatusAbsent, 3: database.StatusLate}
	for id, status := range want {
		if got[id] != status {
			t.Fatalf("student %d = %q, want %q", id, got[id], status)
		}
	}

	if !d.toggle(1) || !d.toggle(2) || !d.toggle(3) {
		t.Fatal("toggle of a rostered student failed")
	}
	if d.toggle(99) {
		t.Fatal("toggle accepted a student outside the class")
	}

	got = d.statuses()
	want = map[int64]database.Status{1: database.StatusAbsent, 2: database.StatusPresent, 3: database.StatusAbsent}
	for id, status := range want {
		if got[id] != status {
			t.Fatalf("after toggle student %d = %q, want %q", id, got[id], status)
		}
	}

	d.toggle(3)
	if d.statuses()[3] != database.StatusLate {
		t.Fatal("untoggled late student should stay late")
	}
}

func TestDraftText(t *testing.T) {
	d := newDraft(testSheet())
	if got := d.label(d.students[1]); got != "❌ Grace (S2)" {
		t.Fatalf("label = %q", got)
	}
	if got := d.label(d.students[2]); got != "🕒 Linus (S3)" {
		t.Fatalf("label = %q", got)
	}
	if text := d.text(); !strings.Contains(text, "2024-01-10") || !strings.Contains(text, "1 of 3 absent") {
		t.Fatalf("text = %q", text)
	}
}

func TestDraftBookIsPerClass(t *testing.T) {
	book := newDraftBook()
	book.open(42, newDraft(testSheet()))

	if book.with(42, 8, func(*attendanceDraft) {}) {
		t.Fatal("draft for another class should not match")
	}
	if _, ok := book.take(43, 7); ok {
		t.Fatal("draft belongs to another user")
	}
	d, ok := book.take(42, 7)
	if !ok || d.classID != 7 {
		t.Fatalf("take = %v, %v", d, ok)
	}
	if _, ok := book.take(42, 7); ok {
		t.Fatal("draft taken twice")
	}
}

func TestFormatSummary(t *testing.T) {
	m := &services.ExportMatrix{
		Class: database.Class{Name: "Algebra I"},
		Dates: []database.Date{database.NewDate(2024, 1, 10), database.NewDate(2024, 1, 11)},
		Rows: []services.ExportRow{
			{Student: database.Student{StudentID: "S1", Name: "Ada"}, Present: 2, Percentage: 100},
			{Student: database.Student{StudentID: "S2", Name: "Grace"}, Present: 1, Absent: 1, Percentage: 50},
		},
	}
	text := formatSummary(m)
	for _, want := range []string{"**Algebra I**", "`S1` Ada — 2/2 (100.0%)", "`S2` Grace — 1/2 (50.0%)", "Sessions recorded: **2**", "Absences: **1**"} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}

	empty := formatSummary(&services.ExportMatrix{Class: database.Class{Name: "Algebra I"}})
	if empty != "No attendance has been recorded for **Algebra I** yet." {
		t.Fatalf("empty summary = %q", empty)
	}
}

func TestFormatImportReport(t *testing.T) {
	r := &services.ImportReport{Success: true, Imported: 2, Skipped: 1, Errors: []string{"Row 3: Student ID 'S1' already exists (skipped)"}}
	text := formatImportReport(r)
	if !strings.HasPrefix(text, "✅ Successfully imported 2 students! (1 duplicates skipped)") {
		t.Fatalf("text = %q", text)
	}
	if !strings.HasSuffix(text, "• Row 3: Student ID 'S1' already exists (skipped)") {
		t.Fatalf("text = %q", text)
	}

	var errs []string
	for i := 0; i < 12; i++ {
		errs = append(errs, fmt.Sprintf("Row %d: Invalid email format", i+2))
	}
	text = formatImportReport(&services.ImportReport{Errors: errs})
	if !strings.HasPrefix(text, "❌ Import failed.") || !strings.Contains(text, "... and 2 more errors.") {
		t.Fatalf("text = %q", text)
	}
	if strings.Contains(text, "Row 12:") {
		t.Fatal("errors beyond the limit should be summarized")
	}
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&services.FatalImportError{Message: "Could not find columns: Email"}, "Could not find columns: Email"},
		{fmt.Errorf("wrapped: %w", services.ErrClassNotFound), "Class not found!"},
		{services.ErrTeacherNotFound, notLinkedMessage},
		{errUnsupportedFile, unsupportedFileMessage},
		{errors.New("connection reset"), genericErrMessage},
	}
	for _, tc := range cases {
		if got := userMessage(tc.err); got != tc.want {
			t.Errorf("userMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestExtractFileAttachments(t *testing.T) {
	file := &schemes.FileAttachment{Filename: "roster.csv"}
	got := extractFileAttachments([]interface{}{"text", file, 3})
	if len(got) != 1 || got[0] != file {
		t.Fatalf("attachments = %v", got)
	}
}
