package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	maxStudentIDLen = 50
	maxNameLen      = 100
	maxEmailLen     = 120
)

var validate = validator.New()

// StudentInput is one roster entry before it is stored.
type StudentInput struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

func (in StudentInput) Trimmed() StudentInput {
	return StudentInput{
		StudentID: strings.TrimSpace(in.StudentID),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
	}
}

func (in StudentInput) Blank() bool {
	return in.StudentID == "" && in.Name == "" && in.Email == ""
}

// ValidationError is a user-facing validation message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidateStudent checks required fields, email syntax and length limits, in
// that order, and reports the first failure.
func ValidateStudent(in StudentInput) error {
	switch {
	case in.StudentID == "":
		return &ValidationError{Message: "Student ID is required"}
	case in.Name == "":
		return &ValidationError{Message: "Name is required"}
	case in.Email == "":
		return &ValidationError{Message: "Email is required"}
	}

	if err := validate.Var(in.Email, "email"); err != nil {
		return &ValidationError{Message: fmt.Sprintf("Invalid email format: %s", in.Email)}
	}

	switch {
	case utf8.RuneCountInString(in.StudentID) > maxStudentIDLen:
		return &ValidationError{Message: fmt.Sprintf("Student ID too long (max %d characters)", maxStudentIDLen)}
	case utf8.RuneCountInString(in.Name) > maxNameLen:
		return &ValidationError{Message: fmt.Sprintf("Name too long (max %d characters)", maxNameLen)}
	case utf8.RuneCountInString(in.Email) > maxEmailLen:
		return &ValidationError{Message: fmt.Sprintf("Email too long (max %d characters)", maxEmailLen)}
	}

	return nil
}
