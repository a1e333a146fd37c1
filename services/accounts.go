package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"attendanceTracker/database"
	"attendanceTracker/logger"
	"attendanceTracker/mailer"
	"attendanceTracker/secrets"
)

const minPasswordLen = 6

// SecretWriter stores SMTP passwords and hands back references to them.
type SecretWriter interface {
	secrets.Resolver
	Put(ctx context.Context, value string) (string, error)
	Delete(ctx context.Context, ref string) error
}

type Registration struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ProfileUpdate struct {
	Name        string `json:"name"`
	NewPassword string `json:"new_password"`
}

// MailSettingsUpdate mirrors the email settings form. An empty Password keeps
// the stored one.
type MailSettingsUpdate struct {
	SMTPEmail            string `json:"smtp_email"`
	Password             string `json:"smtp_password"`
	Server               string `json:"smtp_server"`
	Port                 int    `json:"smtp_port"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
}

// MailStatus describes the mail configuration without exposing the secret.
type MailStatus struct {
	SMTPEmail            string `json:"smtp_email"`
	UsernameConfigured   bool   `json:"username_configured"`
	PasswordConfigured   bool   `json:"password_configured"`
	Server               string `json:"server"`
	Port                 int    `json:"port"`
	FullyConfigured      bool   `json:"fully_configured"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
}

type AccountService struct {
	store       *database.Store
	secrets     SecretWriter
	transports  mailer.Factory
	sendTimeout time.Duration
	logger      *logger.Logger
	now         func() time.Time
}

func NewAccountService(store *database.Store, sw SecretWriter, transports mailer.Factory, sendTimeout time.Duration, log *logger.Logger) *AccountService {
	if transports == nil {
		transports = mailer.NewSMTP
	}
	return &AccountService{
		store:       store,
		secrets:     sw,
		transports:  transports,
		sendTimeout: sendTimeout,
		logger:      log,
		now:         time.Now,
	}
}

func (s *AccountService) Register(ctx context.Context, reg Registration) (*database.Teacher, error) {
	name := strings.TrimSpace(reg.Name)
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	if name == "" {
		return nil, &ValidationError{Message: "Name is required"}
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid email format: %s", reg.Email)}
	}
	if len(reg.Password) < minPasswordLen {
		return nil, &ValidationError{Message: fmt.Sprintf("Password must be at least %d characters", minPasswordLen)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	t := &database.Teacher{
		Name:                 name,
		Email:                email,
		PasswordHash:         string(hash),
		SMTPServer:           database.DefaultSMTPServer,
		SMTPPort:             database.DefaultSMTPPort,
		NotificationsEnabled: true,
		CreatedAt:            s.now(),
	}
	if _, err := s.store.Teachers.Create(ctx, t); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.logger.Infof("Registered teacher %d", t.ID)
	return t, nil
}

// Authenticate checks the credentials and returns the principal to act as.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (Principal, error) {
	t, err := s.store.Teachers.GetByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		return Principal{}, ErrInvalidCredentials
	}
	if err != nil {
		return Principal{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(t.PasswordHash), []byte(password)); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{TeacherID: t.ID, Email: t.Email}, nil
}

func (s *AccountService) Teacher(ctx context.Context, p Principal) (*database.Teacher, error) {
	t, err := s.store.Teachers.GetByID(ctx, p.TeacherID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrTeacherNotFound
	}
	return t, err
}

func (s *AccountService) UpdateProfile(ctx context.Context, p Principal, upd ProfileUpdate) error {
	name := strings.TrimSpace(upd.Name)
	if name == "" {
		return &ValidationError{Message: "Name is required"}
	}

	var hash string
	if pw := strings.TrimSpace(upd.NewPassword); pw != "" {
		if len(pw) < minPasswordLen {
			return &ValidationError{Message: fmt.Sprintf("Password must be at least %d characters", minPasswordLen)}
		}
		b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		hash = string(b)
	}

	err := s.store.Teachers.UpdateProfile(ctx, p.TeacherID, name, hash)
	if errors.Is(err, database.ErrNotFound) {
		return ErrTeacherNotFound
	}
	return err
}

// UpdateMailSettings saves the form. A new password is sealed before the
// teacher row is touched and the previous secret is dropped afterwards.
func (s *AccountService) UpdateMailSettings(ctx context.Context, p Principal, upd MailSettingsUpdate) (*MailStatus, error) {
	t, err := s.Teacher(ctx, p)
	if err != nil {
		return nil, err
	}

	smtpEmail := strings.TrimSpace(upd.SMTPEmail)
	if smtpEmail != "" {
		if err := validate.Var(smtpEmail, "email"); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("Invalid email format: %s", smtpEmail)}
		}
	}
	server := strings.TrimSpace(upd.Server)
	if server == "" {
		server = database.DefaultSMTPServer
	}
	port := upd.Port
	if port == 0 {
		port = database.DefaultSMTPPort
	}
	if port < 0 || port > 65535 {
		return nil, &ValidationError{Message: fmt.Sprintf("Invalid SMTP port: %d", port)}
	}

	oldRef := t.SMTPSecretRef
	if pw := strings.TrimSpace(upd.Password); pw != "" {
		ref, err := s.secrets.Put(ctx, pw)
		if err != nil {
			return nil, fmt.Errorf("store smtp password: %w", err)
		}
		t.SMTPSecretRef = ref
	}
	t.SMTPEmail = smtpEmail
	t.SMTPServer = server
	t.SMTPPort = port
	t.NotificationsEnabled = upd.NotificationsEnabled

	if err := s.store.Teachers.UpdateMailSettings(ctx, t); err != nil {
		if t.SMTPSecretRef != oldRef {
			_ = s.secrets.Delete(ctx, t.SMTPSecretRef)
		}
		s.logger.Errorf("Failed to update email settings: %v", err)
		return nil, err
	}
	if oldRef != "" && oldRef != t.SMTPSecretRef {
		if err := s.secrets.Delete(ctx, oldRef); err != nil {
			s.logger.Warnf("Could not delete replaced smtp secret: %v", err)
		}
	}

	status := mailStatus(t)
	return &status, nil
}

func (s *AccountService) MailStatus(ctx context.Context, p Principal) (*MailStatus, error) {
	t, err := s.Teacher(ctx, p)
	if err != nil {
		return nil, err
	}
	status := mailStatus(t)
	return &status, nil
}

func mailStatus(t *database.Teacher) MailStatus {
	server := t.SMTPServer
	if server == "" {
		server = database.DefaultSMTPServer
	}
	port := t.SMTPPort
	if port == 0 {
		port = database.DefaultSMTPPort
	}
	return MailStatus{
		SMTPEmail:            t.SMTPEmail,
		UsernameConfigured:   t.SMTPEmail != "",
		PasswordConfigured:   t.SMTPSecretRef != "",
		Server:               server,
		Port:                 port,
		FullyConfigured:      t.HasMailConfig(),
		NotificationsEnabled: t.NotificationsEnabled,
	}
}

// SendTestEmail sends the configuration test message to recipient using the
// teacher's own account.
func (s *AccountService) SendTestEmail(ctx context.Context, p Principal, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	if err := validate.Var(recipient, "required,email"); err != nil {
		return &ValidationError{Message: fmt.Sprintf("Invalid email format: %s", recipient)}
	}

	t, err := s.Teacher(ctx, p)
	if err != nil {
		return err
	}
	if !t.HasMailConfig() {
		return ErrMailNotConfigured
	}

	password, err := s.secrets.Resolve(ctx, t.SMTPSecretRef)
	if err != nil {
		return fmt.Errorf("resolve smtp secret: %w", err)
	}
	transport, err := s.transports(mailer.Settings{
		Server:   t.SMTPServer,
		Port:     t.SMTPPort,
		Username: t.SMTPEmail,
		Password: password,
		Timeout:  s.sendTimeout,
	})
	if err != nil {
		return err
	}

	msg := mailer.TestMessage(mailer.TestNotice{
		Recipient:   recipient,
		Server:      t.SMTPServer,
		Port:        t.SMTPPort,
		From:        t.SMTPEmail,
		TeacherName: t.Name,
		SentAt:      s.now(),
	})

	sendCtx := ctx
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}
	if err := transport.Send(sendCtx, msg); err != nil {
		s.logger.Errorf("Failed to send test email: %v", err)
		return fmt.Errorf("send test email: %w", err)
	}

	s.logger.Infof("Test email sent successfully to %s", recipient)
	return nil
}

// LinkMaxUser binds a messenger account to the teacher; nil unlinks it.
func (s *AccountService) LinkMaxUser(ctx context.Context, p Principal, maxUserID *int64) error {
	err := s.store.Teachers.SetMaxUserID(ctx, p.TeacherID, maxUserID)
	switch {
	case errors.Is(err, database.ErrConflict):
		return ErrMaxAccountTaken
	case errors.Is(err, database.ErrNotFound):
		return ErrTeacherNotFound
	}
	return err
}

// PrincipalForMaxUser resolves the teacher linked to a messenger account.
func (s *AccountService) PrincipalForMaxUser(ctx context.Context, maxUserID int64) (Principal, *database.Teacher, error) {
	t, err := s.store.Teachers.GetByMaxUserID(ctx, maxUserID)
	if errors.Is(err, database.ErrNotFound) {
		return Principal{}, nil, ErrTeacherNotFound
	}
	if err != nil {
		return Principal{}, nil, err
	}
	return Principal{TeacherID: t.ID, Email: t.Email}, t, nil
}
