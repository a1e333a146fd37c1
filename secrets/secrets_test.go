package secrets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"attendanceTracker/database"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]database.Secret
}

func newMemStore() *memStore { return &memStore{rows: map[string]database.Secret{}} }

func (m *memStore) Put(_ context.Context, s database.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.Ref]; ok {
		return database.ErrConflict
	}
	m.rows[s.Ref] = s
	return nil
}

func (m *memStore) Get(_ context.Context, ref string) (*database.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[ref]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, ref)
	return nil
}

func TestVaultRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()

	v, err := NewVault(store, "master")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	ref, err := v.Put(ctx, "app-password")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := store.rows[ref].Sealed; got == "" || got == "app-password" {
		t.Fatalf("stored value is not sealed: %q", got)
	}

	got, err := v.Resolve(ctx, ref)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "app-password" {
		t.Fatalf("Resolve = %q", got)
	}

	if err := v.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := v.Resolve(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after delete: expected ErrNotFound, got %v", err)
	}
}

func TestVaultWrongKeyCannotOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemStore()

	a, _ := NewVault(store, "key-a")
	b, _ := NewVault(store, "key-b")

	ref, err := a.Put(ctx, "secret")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := b.Resolve(ctx, ref); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestChainResolvesEnvRefs(t *testing.T) {
	t.Parallel()

	chain := Chain{Env: Env{Lookup: func(name string) (string, bool) {
		if name == "SMTP_PASSWORD" {
			return "from-env", true
		}
		return "", false
	}}}

	got, err := chain.Resolve(context.Background(), "env:SMTP_PASSWORD")
	if err != nil || got != "from-env" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	if _, err := chain.Resolve(context.Background(), "env:MISSING"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing env: expected ErrNotFound, got %v", err)
	}
	if _, err := chain.Resolve(context.Background(), "plaintext"); !errors.Is(err, ErrUnknownRef) {
		t.Fatalf("bare value: expected ErrUnknownRef, got %v", err)
	}
}
