package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"attendanceTracker/database"
	"attendanceTracker/logger"
	"attendanceTracker/metrics"
)

const (
	noValidStudentsMessage = "No valid student data found to import"

	// MaxReportedErrors caps the row errors shown to a teacher.
	MaxReportedErrors = 10
)

var errNothingToImport = errors.New("nothing to import")

type ImportOptions struct {
	// ColumnMapping overrides the header looked up first for a roster field
	// (student_id, name, email).
	ColumnMapping  map[string]string
	SkipDuplicates bool
}

type ImportReport struct {
	Success          bool           `json:"success"`
	TotalRows        int            `json:"total_rows"`
	Imported         int            `json:"imported"`
	Skipped          int            `json:"skipped"`
	Errors           []string       `json:"errors"`
	ImportedStudents []StudentInput `json:"imported_students"`

	// Problems holds the typed form of Errors.
	Problems []error `json:"-"`
}

// Message is the one-line outcome shown after an import.
func (r *ImportReport) Message() string {
	if !r.Success {
		return "Import failed. Please check your file format and try again."
	}
	msg := fmt.Sprintf("Successfully imported %d students!", r.Imported)
	if r.Skipped > 0 {
		msg += fmt.Sprintf(" (%d duplicates skipped)", r.Skipped)
	}
	return msg
}

// VisibleErrors returns at most MaxReportedErrors errors followed by a
// summary line, and how many were left out.
func (r *ImportReport) VisibleErrors() ([]string, int) {
	if len(r.Errors) <= MaxReportedErrors {
		return r.Errors, 0
	}
	more := len(r.Errors) - MaxReportedErrors
	visible := append(r.Errors[:MaxReportedErrors:MaxReportedErrors],
		fmt.Sprintf("... and %d more errors. Please check your file.", more))
	return visible, more
}

func (r *ImportReport) add(err error) {
	r.Problems = append(r.Problems, err)
	r.Errors = append(r.Errors, err.Error())
}

type Importer struct {
	store   *database.Store
	reader  *TableReader
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewImporter(store *database.Store, log *logger.Logger, m *metrics.Metrics) *Importer {
	return &Importer{
		store:   store,
		reader:  NewTableReader(),
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
}

// ImportFile loads students from file into the class. The file is always
// released. Row problems are collected in the report; the returned error is
// non-nil only when the whole import was abandoned, and the report then
// describes why.
func (imp *Importer) ImportFile(ctx context.Context, p Principal, classID int64, file *UploadedFile, opts ImportOptions) (*ImportReport, error) {
	defer file.Release()

	report := &ImportReport{Errors: []string{}, ImportedStudents: []StudentInput{}}

	if _, err := imp.store.Classes.GetOwned(ctx, imp.store.DB(), p.TeacherID, classID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return report, ErrClassNotFound
		}
		return report, err
	}

	table, err := imp.reader.Read(file.Path)
	if err != nil {
		imp.logger.Errorf("Error reading file %s: %v", file.Name, err)
		report.add(err)
		imp.metrics.Import("fatal")
		return report, err
	}
	report.TotalRows = len(table.Rows)

	cols, err := ResolveColumns(table.Headers, opts.ColumnMapping)
	if err != nil {
		report.add(err)
		imp.metrics.Import("fatal")
		return report, err
	}

	var accepted []database.Student
	err = imp.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		existing, err := imp.store.Students.StudentIDsByClass(ctx, tx, classID)
		if err != nil {
			return fmt.Errorf("load existing students: %w", err)
		}

		accepted = imp.collectRows(table, cols, classID, existing, opts, report)
		if len(accepted) == 0 {
			return errNothingToImport
		}
		return imp.store.Students.InsertBatch(ctx, tx, accepted)
	})

	switch {
	case errors.Is(err, errNothingToImport):
		if len(report.Errors) == 0 {
			report.Errors = append(report.Errors, noValidStudentsMessage)
		}
		imp.metrics.Import("empty")
		return report, nil
	case err != nil:
		imp.logger.Errorf("Bulk import into class %d failed: %v", classID, err)
		report.Imported = 0
		report.ImportedStudents = []StudentInput{}
		report.Success = false
		report.add(&FatalImportError{Message: "Import failed", Err: err})
		imp.metrics.Import("failed")
		return report, err
	}

	report.Imported = len(accepted)
	report.Success = true
	imp.metrics.Import("success")
	imp.metrics.ImportRows("imported", report.Imported)
	imp.metrics.ImportRows("skipped", report.Skipped)
	imp.logger.Infof("Successfully imported %d students to class %d", report.Imported, classID)

	return report, nil
}

// collectRows validates every data row and returns the ones to insert.
// existing seeds the case-insensitive duplicate set.
func (imp *Importer) collectRows(table *Table, cols ColumnMap, classID int64, existing []string, opts ImportOptions, report *ImportReport) []database.Student {
	seen := make(map[string]struct{}, len(existing)+len(table.Rows))
	for _, id := range existing {
		seen[strings.ToLower(id)] = struct{}{}
	}

	now := imp.now()
	var accepted []database.Student
	report.ImportedStudents = report.ImportedStudents[:0]

	for i := range table.Rows {
		rowNum := i + 2
		in := StudentInput{
			StudentID: table.Cell(i, cols[FieldStudentID]),
			Name:      table.Cell(i, cols[FieldName]),
			Email:     table.Cell(i, cols[FieldEmail]),
		}.Trimmed()

		if in.Blank() {
			continue
		}

		if err := ValidateStudent(in); err != nil {
			report.add(&RowValidationError{Row: rowNum, Message: err.Error()})
			imp.metrics.ImportRows("invalid", 1)
			continue
		}

		key := strings.ToLower(in.StudentID)
		if _, dup := seen[key]; dup {
			if opts.SkipDuplicates {
				report.Skipped++
			} else {
				imp.metrics.ImportRows("duplicate", 1)
			}
			report.add(&DuplicateSkip{Row: rowNum, StudentID: in.StudentID, Skipped: opts.SkipDuplicates})
			continue
		}

		seen[key] = struct{}{}
		accepted = append(accepted, database.Student{
			ClassID:   classID,
			StudentID: in.StudentID,
			Name:      in.Name,
			Email:     in.Email,
			CreatedAt: now,
		})
		report.ImportedStudents = append(report.ImportedStudents, in)
	}

	return accepted
}
