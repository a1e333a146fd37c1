package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Store bundles the repositories over one connection pool.
type Store struct {
	db *sqlx.DB

	Teachers   *TeacherRepository
	Classes    *ClassRepository
	Students   *StudentRepository
	Attendance *AttendanceRepository
	Secrets    *SecretRepository
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:         db,
		Teachers:   NewTeacherRepository(db),
		Classes:    NewClassRepository(db),
		Students:   NewStudentRepository(db),
		Attendance: NewAttendanceRepository(db),
		Secrets:    NewSecretRepository(db),
	}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, committing only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
