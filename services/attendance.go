package services

import (
	"context"
	"errors"
	"fmt"

	"attendanceTracker/database"
	"attendanceTracker/logger"
)

type MarkResult struct {
	ClassID       int64           `json:"class_id"`
	Date          database.Date   `json:"date"`
	Created       int             `json:"created"`
	Updated       int             `json:"updated"`
	Present       int             `json:"present"`
	Absent        int             `json:"absent"`
	Late          int             `json:"late"`
	Notifications *DispatchReport `json:"notifications"`
}

// Messages are the user-facing lines describing the outcome.
func (r *MarkResult) Messages() []string {
	total := r.Present + r.Absent + r.Late
	messages := []string{fmt.Sprintf("Attendance marked successfully for %d students!", total)}
	if n := r.Notifications; n != nil {
		switch {
		case n.Sent > 0:
			messages = append(messages, fmt.Sprintf("Email notifications sent to %d absent students.", n.Sent))
		case n.Failed > 0 || n.Reason != "":
			messages = append(messages, "Attendance marked but emails not sent. Please configure SMTP settings.")
		}
	}
	return messages
}

// SheetRow is one student on the attendance page. Status is empty when the
// student has no record for the date yet.
type SheetRow struct {
	Student  database.Student `json:"student"`
	Status   database.Status  `json:"status,omitempty"`
	Notified bool             `json:"notified"`
}

type Sheet struct {
	Class database.Class `json:"class"`
	Date  database.Date  `json:"date"`
	Rows  []SheetRow     `json:"rows"`
}

type AttendanceService struct {
	store      *database.Store
	reconciler *Reconciler
	dispatcher *Dispatcher
	logger     *logger.Logger
}

func NewAttendanceService(store *database.Store, r *Reconciler, d *Dispatcher, log *logger.Logger) *AttendanceService {
	return &AttendanceService{store: store, reconciler: r, dispatcher: d, logger: log}
}

// Mark records statuses for the whole roster and then notifies the newly
// absent students. A failed notification never undoes the marks.
func (s *AttendanceService) Mark(ctx context.Context, p Principal, classID int64, date database.Date, statuses map[int64]database.Status) (*MarkResult, error) {
	teacher, err := s.store.Teachers.GetByID(ctx, p.TeacherID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrTeacherNotFound
	}
	if err != nil {
		return nil, err
	}

	rec, err := s.reconciler.Reconcile(ctx, p, Submission{ClassID: classID, Date: date, Statuses: statuses})
	if err != nil {
		return nil, err
	}

	result := &MarkResult{
		ClassID: rec.Class.ID,
		Date:    rec.Date,
		Created: rec.Created,
		Updated: rec.Updated,
	}
	for _, r := range rec.Records {
		switch r.Status {
		case database.StatusPresent:
			result.Present++
		case database.StatusAbsent:
			result.Absent++
		case database.StatusLate:
			result.Late++
		}
	}

	report, err := s.dispatcher.Dispatch(ctx, *teacher, rec.Class, rec.Date, rec.Pending)
	if err != nil {
		// The marks are committed; unsent notices stay pending for the next mark.
		s.logger.Warnf("Notifications for class %d on %s interrupted: %v", rec.Class.ID, rec.Date, err)
		if report == nil {
			report = &DispatchReport{}
		}
		if report.Reason == "" {
			report.Reason = fmt.Sprintf("notifications interrupted: %v", err)
		}
	}
	result.Notifications = report
	return result, nil
}

func (s *AttendanceService) Sheet(ctx context.Context, p Principal, classID int64, date database.Date) (*Sheet, error) {
	db := s.store.DB()
	class, err := s.store.Classes.GetOwned(ctx, db, p.TeacherID, classID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, err
	}

	students, err := s.store.Students.ListByClass(ctx, db, class.ID)
	if err != nil {
		return nil, err
	}
	records, err := s.store.Attendance.ListByClassDate(ctx, db, class.ID, date)
	if err != nil {
		return nil, err
	}
	byStudent := make(map[int64]database.Attendance, len(records))
	for _, r := range records {
		byStudent[r.StudentID] = r
	}

	sheet := &Sheet{Class: *class, Date: date, Rows: make([]SheetRow, 0, len(students))}
	for _, st := range students {
		row := SheetRow{Student: st}
		if r, ok := byStudent[st.ID]; ok {
			row.Status = r.Status
			row.Notified = r.Notified
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}
