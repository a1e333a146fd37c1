package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"attendanceTracker/database"
	"attendanceTracker/logger"
)

const recentMarksLimit = 5

type ClassInput struct {
	Name    string `json:"name" binding:"required"`
	Subject string `json:"subject" binding:"required"`
}

type Dashboard struct {
	TotalClasses  int                        `json:"total_classes"`
	TotalStudents int                        `json:"total_students"`
	Recent        []database.AttendanceEntry `json:"recent_attendance"`
}

type RosterService struct {
	store  *database.Store
	logger *logger.Logger
	now    func() time.Time
}

func NewRosterService(store *database.Store, log *logger.Logger) *RosterService {
	return &RosterService{store: store, logger: log, now: time.Now}
}

func (s *RosterService) CreateClass(ctx context.Context, p Principal, in ClassInput) (*database.Class, error) {
	name := strings.TrimSpace(in.Name)
	subject := strings.TrimSpace(in.Subject)
	switch {
	case name == "":
		return nil, &ValidationError{Message: "Class name is required"}
	case subject == "":
		return nil, &ValidationError{Message: "Subject is required"}
	}

	c := &database.Class{TeacherID: p.TeacherID, Name: name, Subject: subject, CreatedAt: s.now()}
	if _, err := s.store.Classes.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Infof("Teacher %d created class %d", p.TeacherID, c.ID)
	return c, nil
}

func (s *RosterService) ListClasses(ctx context.Context, p Principal) ([]database.Class, error) {
	return s.store.Classes.ListByTeacher(ctx, p.TeacherID)
}

func (s *RosterService) Class(ctx context.Context, p Principal, classID int64) (*database.Class, error) {
	c, err := s.store.Classes.GetOwned(ctx, s.store.DB(), p.TeacherID, classID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrClassNotFound
	}
	return c, err
}

// DeleteClass removes the class together with its students and attendance.
func (s *RosterService) DeleteClass(ctx context.Context, p Principal, classID int64) error {
	err := s.store.Classes.Delete(ctx, p.TeacherID, classID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrClassNotFound
	}
	if err == nil {
		s.logger.Infof("Teacher %d deleted class %d", p.TeacherID, classID)
	}
	return err
}

func (s *RosterService) ListStudents(ctx context.Context, p Principal, classID int64) ([]database.Student, error) {
	if _, err := s.Class(ctx, p, classID); err != nil {
		return nil, err
	}
	return s.store.Students.ListByClass(ctx, s.store.DB(), classID)
}

// AddStudent enrolls one student with the same validation and duplicate
// rules as a roster import.
func (s *RosterService) AddStudent(ctx context.Context, p Principal, classID int64, in StudentInput) (*database.Student, error) {
	in = in.Trimmed()
	if err := ValidateStudent(in); err != nil {
		return nil, err
	}

	var student *database.Student
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.store.Classes.GetOwned(ctx, tx, p.TeacherID, classID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return ErrClassNotFound
			}
			return err
		}

		existing, err := s.store.Students.StudentIDsByClass(ctx, tx, classID)
		if err != nil {
			return err
		}
		for _, id := range existing {
			if strings.EqualFold(id, in.StudentID) {
				return ErrDuplicateStudent
			}
		}

		student = &database.Student{
			ClassID:   classID,
			StudentID: in.StudentID,
			Name:      in.Name,
			Email:     in.Email,
			CreatedAt: s.now(),
		}
		_, err = s.store.Students.Insert(ctx, tx, student)
		return err
	})
	if err != nil {
		return nil, err
	}
	return student, nil
}

// History lists marks newest date first. A class filter must name one of the
// teacher's classes.
func (s *RosterService) History(ctx context.Context, p Principal, classID *int64, from, to *database.Date) ([]database.AttendanceEntry, error) {
	if classID != nil {
		if _, err := s.Class(ctx, p, *classID); err != nil {
			return nil, err
		}
	}
	return s.store.Attendance.History(ctx, database.HistoryFilter{
		TeacherID: p.TeacherID,
		ClassID:   classID,
		From:      from,
		To:        to,
	})
}

func (s *RosterService) Dashboard(ctx context.Context, p Principal) (*Dashboard, error) {
	d := &Dashboard{}
	var err error
	if d.TotalClasses, err = s.store.Classes.CountByTeacher(ctx, p.TeacherID); err != nil {
		return nil, err
	}
	if d.TotalStudents, err = s.store.Students.CountByTeacher(ctx, p.TeacherID); err != nil {
		return nil, err
	}
	if d.Recent, err = s.store.Attendance.Recent(ctx, p.TeacherID, recentMarksLimit); err != nil {
		return nil, err
	}
	return d, nil
}
