package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const teacherColumns = `id, name, email, password_hash, max_user_id, smtp_email, smtp_secret_ref,
	smtp_server, smtp_port, notifications_enabled, created_at`

type TeacherRepository struct {
	db *sqlx.DB
}

func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// Create inserts t and returns its id. A taken email yields ErrConflict.
func (r *TeacherRepository) Create(ctx context.Context, t *Teacher) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, r.db.Rebind(`
		INSERT INTO teachers (name, email, password_hash, smtp_email, smtp_secret_ref,
			smtp_server, smtp_port, notifications_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		t.Name, strings.ToLower(t.Email), t.PasswordHash, t.SMTPEmail, t.SMTPSecretRef,
		t.SMTPServer, t.SMTPPort, t.NotificationsEnabled, t.CreatedAt.UTC())
	if IsUniqueViolation(err) {
		return 0, ErrConflict
	}
	if err != nil {
		return 0, fmt.Errorf("insert teacher: %w", err)
	}
	t.ID = id
	return id, nil
}

func (r *TeacherRepository) GetByID(ctx context.Context, id int64) (*Teacher, error) {
	t := new(Teacher)
	err := r.db.GetContext(ctx, t, r.db.Rebind(`SELECT `+teacherColumns+` FROM teachers WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *TeacherRepository) GetByEmail(ctx context.Context, email string) (*Teacher, error) {
	t := new(Teacher)
	err := r.db.GetContext(ctx, t, r.db.Rebind(`SELECT `+teacherColumns+` FROM teachers WHERE email = ?`),
		strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *TeacherRepository) GetByMaxUserID(ctx context.Context, maxUserID int64) (*Teacher, error) {
	t := new(Teacher)
	err := r.db.GetContext(ctx, t, r.db.Rebind(`SELECT `+teacherColumns+` FROM teachers WHERE max_user_id = ?`), maxUserID)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// UpdateMailSettings overwrites every mail-related column of the teacher.
func (r *TeacherRepository) UpdateMailSettings(ctx context.Context, t *Teacher) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE teachers
		SET smtp_email = ?, smtp_secret_ref = ?, smtp_server = ?, smtp_port = ?, notifications_enabled = ?
		WHERE id = ?`),
		t.SMTPEmail, t.SMTPSecretRef, t.SMTPServer, t.SMTPPort, t.NotificationsEnabled, t.ID)
	if err != nil {
		return fmt.Errorf("update mail settings: %w", err)
	}
	return expectOneRow(res)
}

// UpdateProfile changes the display name and, when passwordHash is not
// empty, the login password.
func (r *TeacherRepository) UpdateProfile(ctx context.Context, teacherID int64, name, passwordHash string) error {
	query := `UPDATE teachers SET name = ? WHERE id = ?`
	args := []interface{}{name, teacherID}
	if passwordHash != "" {
		query = `UPDATE teachers SET name = ?, password_hash = ? WHERE id = ?`
		args = []interface{}{name, passwordHash, teacherID}
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return expectOneRow(res)
}

// SetMaxUserID links (or with nil unlinks) a messenger account.
func (r *TeacherRepository) SetMaxUserID(ctx context.Context, teacherID int64, maxUserID *int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE teachers SET max_user_id = ? WHERE id = ?`), maxUserID, teacherID)
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("set max user id: %w", err)
	}
	return expectOneRow(res)
}

type ClassRepository struct {
	db *sqlx.DB
}

func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

func (r *ClassRepository) Create(ctx context.Context, c *Class) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, r.db.Rebind(`
		INSERT INTO classes (teacher_id, name, subject, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`),
		c.TeacherID, c.Name, c.Subject, c.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert class: %w", err)
	}
	c.ID = id
	return id, nil
}

// GetOwned returns the class only when it belongs to teacherID.
func (r *ClassRepository) GetOwned(ctx context.Context, q sqlx.QueryerContext, teacherID, classID int64) (*Class, error) {
	c := new(Class)
	err := sqlx.GetContext(ctx, q, c, r.db.Rebind(`
		SELECT id, teacher_id, name, subject, created_at
		FROM classes
		WHERE id = ? AND teacher_id = ?`), classID, teacherID)
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (r *ClassRepository) ListByTeacher(ctx context.Context, teacherID int64) ([]Class, error) {
	var classes []Class
	err := r.db.SelectContext(ctx, &classes, r.db.Rebind(`
		SELECT id, teacher_id, name, subject, created_at
		FROM classes
		WHERE teacher_id = ?
		ORDER BY name, id`), teacherID)
	return classes, err
}

func (r *ClassRepository) CountByTeacher(ctx context.Context, teacherID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM classes WHERE teacher_id = ?`), teacherID)
	return n, err
}

// Delete removes the class with its students and attendance.
func (r *ClassRepository) Delete(ctx context.Context, teacherID, classID int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM classes WHERE id = ? AND teacher_id = ?`), classID, teacherID)
	if err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return expectOneRow(res)
}

const studentColumns = `id, class_id, student_id, name, email, created_at`

type StudentRepository struct {
	db *sqlx.DB
}

func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) ListByClass(ctx context.Context, q sqlx.QueryerContext, classID int64) ([]Student, error) {
	var students []Student
	err := sqlx.SelectContext(ctx, q, &students, r.db.Rebind(`
		SELECT `+studentColumns+`
		FROM students
		WHERE class_id = ?
		ORDER BY name, id`), classID)
	return students, err
}

// StudentIDsByClass returns the external student_id strings enrolled in the class.
func (r *StudentRepository) StudentIDsByClass(ctx context.Context, q sqlx.QueryerContext, classID int64) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, q, &ids, r.db.Rebind(`SELECT student_id FROM students WHERE class_id = ?`), classID)
	return ids, err
}

func (r *StudentRepository) CountByTeacher(ctx context.Context, teacherID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`
		SELECT COUNT(*)
		FROM students s
		JOIN classes c ON c.id = s.class_id
		WHERE c.teacher_id = ?`), teacherID)
	return n, err
}

func (r *StudentRepository) Insert(ctx context.Context, tx *sqlx.Tx, s *Student) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, tx.Rebind(`
		INSERT INTO students (class_id, student_id, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		s.ClassID, s.StudentID, s.Name, s.Email, s.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert student %q: %w", s.StudentID, err)
	}
	s.ID = id
	return id, nil
}

// InsertBatch inserts every student through one prepared statement and fills
// in the generated ids.
func (r *StudentRepository) InsertBatch(ctx context.Context, tx *sqlx.Tx, students []Student) error {
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO students (class_id, student_id, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`))
	if err != nil {
		return fmt.Errorf("prepare student insert: %w", err)
	}
	defer stmt.Close()

	for i := range students {
		s := &students[i]
		if err := stmt.GetContext(ctx, &s.ID, s.ClassID, s.StudentID, s.Name, s.Email, s.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert student %q: %w", s.StudentID, err)
		}
	}
	return nil
}
