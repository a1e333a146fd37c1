package database

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
	StatusLate    Status = "Late"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate:
		return true
	default:
		return false
	}
}

// ParseStatus accepts any casing of a known status name.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "present":
		return StatusPresent, nil
	case "absent":
		return StatusAbsent, nil
	case "late":
		return StatusLate, nil
	default:
		return "", fmt.Errorf("unknown attendance status %q", raw)
	}
}

const (
	DefaultSMTPServer = "smtp.gmail.com"
	DefaultSMTPPort   = 587
)

type Teacher struct {
	ID                   int64     `db:"id" json:"id"`
	Name                 string    `db:"name" json:"name"`
	Email                string    `db:"email" json:"email"`
	PasswordHash         string    `db:"password_hash" json:"-"`
	MaxUserID            *int64    `db:"max_user_id" json:"max_user_id,omitempty"`
	SMTPEmail            string    `db:"smtp_email" json:"smtp_email"`
	SMTPSecretRef        string    `db:"smtp_secret_ref" json:"-"`
	SMTPServer           string    `db:"smtp_server" json:"smtp_server"`
	SMTPPort             int       `db:"smtp_port" json:"smtp_port"`
	NotificationsEnabled bool      `db:"notifications_enabled" json:"notifications_enabled"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// HasMailConfig reports whether the teacher can send mail at all: a sender
// address and a stored secret are both required.
func (t Teacher) HasMailConfig() bool {
	return t.SMTPEmail != "" && t.SMTPSecretRef != ""
}

type Class struct {
	ID        int64     `db:"id" json:"id"`
	TeacherID int64     `db:"teacher_id" json:"teacher_id"`
	Name      string    `db:"name" json:"name"`
	Subject   string    `db:"subject" json:"subject"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Student struct {
	ID        int64     `db:"id" json:"id"`
	ClassID   int64     `db:"class_id" json:"class_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Attendance struct {
	ID         int64      `db:"id" json:"id"`
	StudentID  int64      `db:"student_id" json:"student_id"`
	ClassID    int64      `db:"class_id" json:"class_id"`
	Date       Date       `db:"attendance_date" json:"date"`
	Status     Status     `db:"status" json:"status"`
	MarkedAt   time.Time  `db:"marked_at" json:"marked_at"`
	Notified   bool       `db:"notified" json:"notified"`
	NotifiedAt *time.Time `db:"notified_at" json:"notified_at,omitempty"`
}

// AttendanceEntry is an attendance row joined with its student and class,
// as shown in history listings.
type AttendanceEntry struct {
	Attendance
	StudentCode  string `db:"student_code" json:"student_code"`
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
	ClassName    string `db:"class_name" json:"class_name"`
}

type Secret struct {
	Ref       string    `db:"ref"`
	Sealed    string    `db:"sealed"`
	CreatedAt time.Time `db:"created_at"`
}
