package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"attendanceTracker/database"
	"attendanceTracker/logger"
	"attendanceTracker/metrics"
)

// Submission is a teacher's marks for one class on one date, keyed by the
// student's database id. Students left out are recorded as absent.
type Submission struct {
	ClassID  int64
	Date     database.Date
	Statuses map[int64]database.Status
}

// PendingNotification is an absent, not yet notified record together with the
// student to notify.
type PendingNotification struct {
	Attendance database.Attendance
	Student    database.Student
}

type Reconciliation struct {
	Class   database.Class
	Date    database.Date
	Created int
	Updated int
	Records []database.Attendance
	Pending []PendingNotification
}

type Reconciler struct {
	store   *database.Store
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewReconciler(store *database.Store, log *logger.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{store: store, logger: log, metrics: m, now: time.Now}
}

// Reconcile applies a submission to the whole roster in one transaction.
// Existing records keep their notified flag; only status and marked_at move.
// Records of other dates are never touched.
func (r *Reconciler) Reconcile(ctx context.Context, p Principal, sub Submission) (*Reconciliation, error) {
	if sub.Date.IsZero() {
		return nil, fmt.Errorf("attendance date is required")
	}
	for studentID, status := range sub.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w %q for student %d", ErrInvalidStatus, status, studentID)
		}
	}

	result := &Reconciliation{Date: sub.Date}
	markedAt := r.now()

	err := r.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		result.Created, result.Updated = 0, 0
		result.Records = result.Records[:0]
		result.Pending = result.Pending[:0]

		class, err := r.store.Classes.GetOwned(ctx, tx, p.TeacherID, sub.ClassID)
		if errors.Is(err, database.ErrNotFound) {
			return ErrClassNotFound
		}
		if err != nil {
			return err
		}
		result.Class = *class

		students, err := r.store.Students.ListByClass(ctx, tx, class.ID)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}

		existing, err := r.store.Attendance.ListByClassDate(ctx, tx, class.ID, sub.Date)
		if err != nil {
			return fmt.Errorf("load attendance: %w", err)
		}
		byStudent := make(map[int64]database.Attendance, len(existing))
		for _, rec := range existing {
			byStudent[rec.StudentID] = rec
		}

		for _, student := range students {
			status, ok := sub.Statuses[student.ID]
			if !ok {
				status = database.StatusAbsent
			}

			rec, found := byStudent[student.ID]
			if !found {
				rec = database.Attendance{
					StudentID: student.ID,
					ClassID:   class.ID,
					Date:      sub.Date,
					Status:    status,
					MarkedAt:  markedAt,
				}
				err := r.store.Attendance.Insert(ctx, tx, &rec)
				switch {
				case err == nil:
					result.Created++
				case errors.Is(err, database.ErrConflict):
					r.logger.Infof("Attendance for student %d on %s inserted concurrently, updating instead", student.ID, sub.Date)
					winner, err := r.store.Attendance.GetByKey(ctx, tx, student.ID, class.ID, sub.Date)
					if err != nil {
						return fmt.Errorf("reload conflicting attendance: %w", err)
					}
					rec = *winner
					found = true
				default:
					return err
				}
			}

			if found {
				if err := r.store.Attendance.UpdateStatus(ctx, tx, rec.ID, status, markedAt); err != nil {
					return err
				}
				rec.Status = status
				rec.MarkedAt = markedAt
				result.Updated++
			}

			result.Records = append(result.Records, rec)
			if rec.Status == database.StatusAbsent && !rec.Notified {
				result.Pending = append(result.Pending, PendingNotification{Attendance: rec, Student: student})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.Reconciled(result.Created, result.Updated)
	r.logger.Infof("Reconciled class %d on %s: %d created, %d updated, %d pending notifications",
		result.Class.ID, sub.Date, result.Created, result.Updated, len(result.Pending))

	return result, nil
}
