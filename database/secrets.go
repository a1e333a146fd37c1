package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type SecretRepository struct {
	db *sqlx.DB
}

func NewSecretRepository(db *sqlx.DB) *SecretRepository {
	return &SecretRepository{db: db}
}

func (r *SecretRepository) Put(ctx context.Context, s Secret) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO secrets (ref, sealed, created_at)
		VALUES (?, ?, ?)`), s.Ref, s.Sealed, s.CreatedAt.UTC())
	if IsUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert secret: %w", err)
	}
	return nil
}

func (r *SecretRepository) Get(ctx context.Context, ref string) (*Secret, error) {
	s := new(Secret)
	err := r.db.GetContext(ctx, s, r.db.Rebind(`SELECT ref, sealed, created_at FROM secrets WHERE ref = ?`), ref)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (r *SecretRepository) Delete(ctx context.Context, ref string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM secrets WHERE ref = ?`), ref)
	return err
}
