package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const attendanceColumns = `id, student_id, class_id, attendance_date, status, marked_at, notified, notified_at`

type AttendanceRepository struct {
	db *sqlx.DB
}

func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

func (r *AttendanceRepository) ListByClassDate(ctx context.Context, q sqlx.QueryerContext, classID int64, date Date) ([]Attendance, error) {
	var records []Attendance
	err := sqlx.SelectContext(ctx, q, &records, r.db.Rebind(`
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE class_id = ? AND attendance_date = ?`), classID, date)
	return records, err
}

func (r *AttendanceRepository) GetByKey(ctx context.Context, q sqlx.QueryerContext, studentID, classID int64, date Date) (*Attendance, error) {
	a := new(Attendance)
	err := sqlx.GetContext(ctx, q, a, r.db.Rebind(`
		SELECT `+attendanceColumns+`
		FROM attendance
		WHERE student_id = ? AND class_id = ? AND attendance_date = ?`), studentID, classID, date)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// Insert adds a record with notified=false. When a record for the same
// (student, class, date) already exists nothing is written and ErrConflict is
// returned; the statement itself never fails on the duplicate, so an enclosing
// transaction stays usable.
func (r *AttendanceRepository) Insert(ctx context.Context, tx *sqlx.Tx, a *Attendance) error {
	var id int64
	err := tx.GetContext(ctx, &id, tx.Rebind(`
		INSERT INTO attendance (student_id, class_id, attendance_date, status, marked_at, notified)
		VALUES (?, ?, ?, ?, ?, FALSE)
		ON CONFLICT (student_id, class_id, attendance_date) DO NOTHING
		RETURNING id`),
		a.StudentID, a.ClassID, a.Date, a.Status, a.MarkedAt.UTC())
	if errors.Is(err, sql.ErrNoRows) || IsUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	a.ID = id
	a.Notified = false
	a.NotifiedAt = nil
	return nil
}

// UpdateStatus rewrites status and marked_at only; notified is left alone.
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id int64, status Status, markedAt time.Time) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE attendance
		SET status = ?, marked_at = ?
		WHERE id = ?`), status, markedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("update attendance %d: %w", id, err)
	}
	return expectOneRow(res)
}

// MarkNotified flips notified to true. It reports false when the record was
// already notified or no longer exists.
func (r *AttendanceRepository) MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE attendance
		SET notified = TRUE, notified_at = ?
		WHERE id = ? AND notified = FALSE`), at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("mark attendance %d notified: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *AttendanceRepository) GetByID(ctx context.Context, id int64) (*Attendance, error) {
	a := new(Attendance)
	err := r.db.GetContext(ctx, a, r.db.Rebind(`SELECT `+attendanceColumns+` FROM attendance WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListByClassRange returns the class's records within the optional inclusive
// date bounds, oldest first.
func (r *AttendanceRepository) ListByClassRange(ctx context.Context, classID int64, from, to *Date) ([]Attendance, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE class_id = ?`
	args := []interface{}{classID}
	if from != nil {
		query += ` AND attendance_date >= ?`
		args = append(args, *from)
	}
	if to != nil {
		query += ` AND attendance_date <= ?`
		args = append(args, *to)
	}
	query += ` ORDER BY attendance_date, student_id`

	var records []Attendance
	err := r.db.SelectContext(ctx, &records, r.db.Rebind(query), args...)
	return records, err
}

type HistoryFilter struct {
	TeacherID int64
	ClassID   *int64
	From      *Date
	To        *Date
	Limit     int
}

// History lists the teacher's attendance joined with student and class,
// newest date first and then newest mark first.
func (r *AttendanceRepository) History(ctx context.Context, f HistoryFilter) ([]AttendanceEntry, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT a.id, a.student_id, a.class_id, a.attendance_date, a.status, a.marked_at, a.notified, a.notified_at,
			s.student_id AS student_code, s.name AS student_name, s.email AS student_email, c.name AS class_name
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		JOIN classes c ON c.id = a.class_id
		WHERE c.teacher_id = ?`)
	args := []interface{}{f.TeacherID}

	if f.ClassID != nil {
		sb.WriteString(` AND a.class_id = ?`)
		args = append(args, *f.ClassID)
	}
	if f.From != nil {
		sb.WriteString(` AND a.attendance_date >= ?`)
		args = append(args, *f.From)
	}
	if f.To != nil {
		sb.WriteString(` AND a.attendance_date <= ?`)
		args = append(args, *f.To)
	}
	sb.WriteString(` ORDER BY a.attendance_date DESC, a.marked_at DESC, a.id DESC`)
	if f.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	var entries []AttendanceEntry
	err := r.db.SelectContext(ctx, &entries, r.db.Rebind(sb.String()), args...)
	return entries, err
}

// Recent returns the teacher's latest marks regardless of attendance date.
func (r *AttendanceRepository) Recent(ctx context.Context, teacherID int64, limit int) ([]AttendanceEntry, error) {
	var entries []AttendanceEntry
	err := r.db.SelectContext(ctx, &entries, r.db.Rebind(`
		SELECT a.id, a.student_id, a.class_id, a.attendance_date, a.status, a.marked_at, a.notified, a.notified_at,
			s.student_id AS student_code, s.name AS student_name, s.email AS student_email, c.name AS class_name
		FROM attendance a
		JOIN students s ON s.id = a.student_id
		JOIN classes c ON c.id = a.class_id
		WHERE c.teacher_id = ?
		ORDER BY a.marked_at DESC, a.id DESC
		LIMIT ?`), teacherID, limit)
	return entries, err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
