package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"attendanceTracker/claims"
	"attendanceTracker/config"
	"attendanceTracker/database"
	"attendanceTracker/logger"
	"attendanceTracker/mailer"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []mailer.Message
	// fail maps a recipient to the error its delivery returns.
	fail map[string]error
}

func (f *fakeTransport) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[msg.To]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) messages() []mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailer.Message(nil), f.sent...)
}

// sendFunc adapts a function to mailer.Transport.
type sendFunc func(ctx context.Context, msg mailer.Message) error

func (f sendFunc) Send(ctx context.Context, msg mailer.Message) error { return f(ctx, msg) }

type memSecrets struct {
	mu     sync.Mutex
	values map[string]string
	next   int
}

func (m *memSecrets) Put(_ context.Context, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	ref := fmt.Sprintf("vault:test-%d", m.next)
	m.values[ref] = value
	return ref, nil
}

func (m *memSecrets) Resolve(_ context.Context, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[ref]
	if !ok {
		return "", errors.New("secret not found")
	}
	return v, nil
}

func (m *memSecrets) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, ref)
	return nil
}

type testEnv struct {
	store      *database.Store
	transport  *fakeTransport
	settings   []mailer.Settings
	secrets    *memSecrets
	accounts   *AccountService
	roster     *RosterService
	importer   *Importer
	dispatcher *Dispatcher
	attendance *AttendanceService
	exporter   *Exporter
	principal  Principal
	class      *database.Class
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenDB(&config.DatabaseConfig{
		Driver: database.DriverSQLite,
		URI:    filepath.Join(t.TempDir(), "attendance.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		store:     database.NewStore(db),
		transport: &fakeTransport{fail: map[string]error{}},
		secrets:   &memSecrets{values: map[string]string{}},
	}
	log := logger.Discard()

	factory := func(s mailer.Settings) (mailer.Transport, error) {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		env.settings = append(env.settings, s)
		return env.transport, nil
	}

	env.accounts = NewAccountService(env.store, env.secrets, factory, time.Second, log)
	env.roster = NewRosterService(env.store, log)
	env.importer = NewImporter(env.store, log, nil)
	env.dispatcher = NewDispatcher(DispatcherConfig{
		Store:       env.store.Attendance,
		Transports:  factory,
		Secrets:     env.secrets,
		Claims:      claims.NewMemory(time.Minute),
		SendTimeout: time.Second,
		Logger:      log,
	})
	env.attendance = NewAttendanceService(env.store, NewReconciler(env.store, log, nil), env.dispatcher, log)
	env.exporter = NewExporter(env.store)

	teacher, err := env.accounts.Register(ctx, Registration{Name: "Ada Lovelace", Email: "ada@example.com", Password: "analytical"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	env.principal = Principal{TeacherID: teacher.ID, Email: teacher.Email}

	env.class, err = env.roster.CreateClass(ctx, env.principal, ClassInput{Name: "Algebra I", Subject: "Math"})
	if err != nil {
		t.Fatalf("create class: %v", err)
	}
	return env
}

// configureMail stores working SMTP settings for the env's teacher.
func (e *testEnv) configureMail(t *testing.T, enabled bool) {
	t.Helper()
	_, err := e.accounts.UpdateMailSettings(context.Background(), e.principal, MailSettingsUpdate{
		SMTPEmail:            "ada.smtp@example.com",
		Password:             "app-password",
		Server:               "smtp.example.com",
		Port:                 587,
		NotificationsEnabled: enabled,
	})
	if err != nil {
		t.Fatalf("update mail settings: %v", err)
	}
}

func (e *testEnv) addStudents(t *testing.T, codes ...string) []database.Student {
	t.Helper()
	var out []database.Student
	for _, code := range codes {
		s, err := e.roster.AddStudent(context.Background(), e.principal, e.class.ID, StudentInput{
			StudentID: code,
			Name:      "Student " + code,
			Email:     code + "@example.com",
		})
		if err != nil {
			t.Fatalf("add student %s: %v", code, err)
		}
		out = append(out, *s)
	}
	return out
}

// writeUpload stages content as an uploaded file with the given name.
func writeUpload(t *testing.T, name string, content []byte) *UploadedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return OpenUpload(path, name, logger.Discard())
}
