package services

import (
	"errors"
	"fmt"
)

var (
	ErrClassNotFound      = errors.New("class not found")
	ErrTeacherNotFound    = errors.New("teacher not found")
	ErrStudentNotFound    = errors.New("student not found")
	ErrInvalidStatus      = errors.New("invalid attendance status")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDuplicateStudent   = errors.New("student already exists in this class")
	ErrMailNotConfigured  = errors.New("email settings are incomplete")
	ErrNotificationsOff   = errors.New("email notifications are disabled")
	ErrMaxAccountTaken    = errors.New("messenger account already linked to another teacher")
)

// FatalImportError aborts a whole import: the file could not be read or its
// columns could not be resolved.
type FatalImportError struct {
	Message string
	Err     error
}

func (e *FatalImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *FatalImportError) Unwrap() error { return e.Err }

// RowValidationError rejects a single input row.
type RowValidationError struct {
	Row     int
	Message string
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("Row %d: %s", e.Row, e.Message)
}

// DuplicateSkip reports a row whose student_id already exists in the class.
type DuplicateSkip struct {
	Row       int
	StudentID string
	Skipped   bool
}

func (e *DuplicateSkip) Error() string {
	if e.Skipped {
		return fmt.Sprintf("Row %d: Student ID '%s' already exists (skipped)", e.Row, e.StudentID)
	}
	return fmt.Sprintf("Row %d: Student ID '%s' already exists", e.Row, e.StudentID)
}

// TransportError is a failed delivery for one attendance record. The record
// stays eligible for a later attempt.
type TransportError struct {
	AttendanceID int64
	Recipient    string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("notify %s (attendance %d): %v", e.Recipient, e.AttendanceID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
