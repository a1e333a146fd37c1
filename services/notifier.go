package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendanceTracker/claims"
	"attendanceTracker/database"
	"attendanceTracker/logger"
	"attendanceTracker/mailer"
	"attendanceTracker/metrics"
	"attendanceTracker/secrets"
)

// NotificationStore reads the current delivery state and persists confirmed
// deliveries.
type NotificationStore interface {
	GetByID(ctx context.Context, id int64) (*database.Attendance, error)
	MarkNotified(ctx context.Context, id int64, at time.Time) (bool, error)
}

type DispatchReport struct {
	Attempted int      `json:"attempted"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Reason    string   `json:"reason,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Problems  []error  `json:"-"`
}

func (r *DispatchReport) fail(err error) {
	r.Failed++
	r.Problems = append(r.Problems, err)
	r.Errors = append(r.Errors, err.Error())
}

type Dispatcher struct {
	store       NotificationStore
	transports  mailer.Factory
	secrets     secrets.Resolver
	claims      claims.Claimer
	sendTimeout time.Duration
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type DispatcherConfig struct {
	Store       NotificationStore
	Transports  mailer.Factory
	Secrets     secrets.Resolver
	Claims      claims.Claimer
	SendTimeout time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.Metrics
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		store:       cfg.Store,
		transports:  cfg.Transports,
		secrets:     cfg.Secrets,
		claims:      cfg.Claims,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
	if d.transports == nil {
		d.transports = mailer.NewSMTP
	}
	if d.claims == nil {
		d.claims = claims.NewMemory(2 * time.Minute)
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = 15 * time.Second
	}
	if d.logger == nil {
		d.logger = logger.Discard()
	}
	return d
}

// Dispatch sends absence notices for the pending records of one class and
// date. Delivery failures are collected in the report; the returned error is
// reserved for a cancelled context.
func (d *Dispatcher) Dispatch(ctx context.Context, teacher database.Teacher, class database.Class, date database.Date, pending []PendingNotification) (*DispatchReport, error) {
	report := &DispatchReport{}
	if len(pending) == 0 {
		return report, nil
	}

	if !teacher.NotificationsEnabled {
		report.Skipped = len(pending)
		report.Reason = ErrNotificationsOff.Error()
		d.metrics.Notification("skipped", len(pending))
		return report, nil
	}

	transport, err := d.transportFor(ctx, teacher)
	if err != nil {
		report.Failed = len(pending)
		report.Reason = err.Error()
		d.metrics.Notification("failed", len(pending))
		d.logger.Warnf("Notifications for class %d on %s not sent: %v", class.ID, date, err)
		return report, nil
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d.dispatchOne(ctx, transport, teacher, class, date, p, report)
	}

	d.logger.Infof("Notifications for class %d on %s: %d sent, %d failed, %d skipped",
		class.ID, date, report.Sent, report.Failed, report.Skipped)
	return report, nil
}

func (d *Dispatcher) transportFor(ctx context.Context, teacher database.Teacher) (mailer.Transport, error) {
	if !teacher.HasMailConfig() {
		return nil, ErrMailNotConfigured
	}
	password, err := d.secrets.Resolve(ctx, teacher.SMTPSecretRef)
	if err != nil {
		return nil, fmt.Errorf("resolve smtp secret: %w", err)
	}
	return d.transports(mailer.Settings{
		Server:   teacher.SMTPServer,
		Port:     teacher.SMTPPort,
		Username: teacher.SMTPEmail,
		Password: password,
		Timeout:  d.sendTimeout,
	})
}

func (d *Dispatcher) dispatchOne(ctx context.Context, transport mailer.Transport, teacher database.Teacher, class database.Class, date database.Date, p PendingNotification, report *DispatchReport) {
	rec := p.Attendance
	if rec.Notified || rec.Status != database.StatusAbsent {
		report.Skipped++
		d.metrics.Notification("skipped", 1)
		return
	}

	key := fmt.Sprintf("notify:%d", rec.ID)
	claimed, err := d.claims.Claim(ctx, key)
	if err != nil {
		report.Attempted++
		report.fail(&TransportError{AttendanceID: rec.ID, Recipient: p.Student.Email, Err: fmt.Errorf("claim: %w", err)})
		d.metrics.Notification("failed", 1)
		return
	}
	if !claimed {
		d.logger.Debugf("Notification for attendance %d is held by another sender", rec.ID)
		report.Skipped++
		d.metrics.Notification("skipped", 1)
		return
	}

	current, err := d.store.GetByID(ctx, rec.ID)
	if err != nil {
		d.release(key)
		report.Attempted++
		report.fail(&TransportError{AttendanceID: rec.ID, Recipient: p.Student.Email, Err: fmt.Errorf("reload attendance: %w", err)})
		d.metrics.Notification("failed", 1)
		return
	}
	if current.Notified || current.Status != database.StatusAbsent {
		d.release(key)
		report.Skipped++
		d.metrics.Notification("skipped", 1)
		return
	}

	report.Attempted++
	msg := mailer.AbsenceMessage(mailer.AbsenceNotice{
		StudentName:  p.Student.Name,
		StudentEmail: p.Student.Email,
		ClassName:    class.Name,
		Subject:      class.Subject,
		Date:         date.Time(),
		TeacherName:  teacher.Name,
		TeacherEmail: teacher.Email,
		From:         teacher.SMTPEmail,
	})

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err = transport.Send(sendCtx, msg)
	cancel()
	if err != nil {
		d.release(key)
		report.fail(&TransportError{AttendanceID: rec.ID, Recipient: p.Student.Email, Err: err})
		d.metrics.Notification("failed", 1)
		d.logger.Warnf("Absence notice to %s failed: %v", p.Student.Email, err)
		return
	}

	marked, err := d.store.MarkNotified(ctx, rec.ID, d.now())
	if err != nil {
		// The mail went out; keep the claim so the record is not resent
		// before its flag can be written.
		report.fail(&TransportError{AttendanceID: rec.ID, Recipient: p.Student.Email, Err: fmt.Errorf("record delivery: %w", err)})
		d.metrics.Notification("failed", 1)
		d.logger.Errorf("Absence notice to %s sent but not recorded: %v", p.Student.Email, err)
		return
	}
	if !marked {
		d.logger.Warnf("Attendance %d was already marked notified", rec.ID)
	}

	report.Sent++
	d.metrics.Notification("sent", 1)
}

func (d *Dispatcher) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.claims.Release(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warnf("Release claim %s: %v", key, err)
	}
}
