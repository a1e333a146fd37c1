package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"attendanceTracker/database"
)

const (
	EnvPrefix   = "env:"
	VaultPrefix = "vault:"

	nonceSize = 24
	keyInfo   = "attendance-tracker smtp secrets v1"
)

var (
	ErrUnknownRef = errors.New("unknown secret reference")
	ErrNotFound   = errors.New("secret not found")
	ErrCorrupt    = errors.New("secret cannot be opened")
)

// Resolver turns a stored reference into the secret value at use time.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Store is the persistence Vault needs.
type Store interface {
	Put(ctx context.Context, s database.Secret) error
	Get(ctx context.Context, ref string) (*database.Secret, error)
	Delete(ctx context.Context, ref string) error
}

// Vault keeps secrets sealed with NaCl secretbox and hands out opaque
// "vault:<uuid>" references.
type Vault struct {
	store Store
	key   [32]byte
	now   func() time.Time
}

func NewVault(store Store, masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, errors.New("secrets master key is required")
	}
	v := &Vault{store: store, now: time.Now}
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte(keyInfo)), v.key[:]); err != nil {
		return nil, fmt.Errorf("derive secrets key: %w", err)
	}
	return v, nil
}

// Put seals value and returns its reference.
func (v *Vault) Put(ctx context.Context, value string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &v.key)
	ref := VaultPrefix + uuid.NewString()

	err := v.store.Put(ctx, database.Secret{
		Ref:       ref,
		Sealed:    base64.StdEncoding.EncodeToString(sealed),
		CreatedAt: v.now(),
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (v *Vault) Resolve(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, VaultPrefix) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}

	s, err := v.store.Get(ctx, ref)
	if errors.Is(err, database.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(s.Sealed)
	if err != nil || len(raw) < nonceSize {
		return "", ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &v.key)
	if !ok {
		return "", ErrCorrupt
	}
	return string(plain), nil
}

// Delete removes a vault secret. Other reference kinds are ignored.
func (v *Vault) Delete(ctx context.Context, ref string) error {
	if !strings.HasPrefix(ref, VaultPrefix) {
		return nil
	}
	return v.store.Delete(ctx, ref)
}

// Env resolves "env:NAME" references from the process environment.
type Env struct {
	Lookup func(string) (string, bool)
}

func (e Env) Resolve(_ context.Context, ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, EnvPrefix)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, found := lookup(name)
	if !found || value == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, name)
	}
	return value, nil
}

// Chain dispatches a reference to the resolver that owns its prefix.
type Chain struct {
	Vault *Vault
	Env   Env
}

func (c Chain) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, VaultPrefix) && c.Vault != nil:
		return c.Vault.Resolve(ctx, ref)
	case strings.HasPrefix(ref, EnvPrefix):
		return c.Env.Resolve(ctx, ref)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}
}

// Put seals value in the vault.
func (c Chain) Put(ctx context.Context, value string) (string, error) {
	if c.Vault == nil {
		return "", errors.New("secrets vault is not configured")
	}
	return c.Vault.Put(ctx, value)
}

func (c Chain) Delete(ctx context.Context, ref string) error {
	if c.Vault == nil {
		return nil
	}
	return c.Vault.Delete(ctx, ref)
}
