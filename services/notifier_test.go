package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"attendanceTracker/claims"
	"attendanceTracker/database"
	"attendanceTracker/logger"
	"attendanceTracker/mailer"
)

func markAbsent(t *testing.T, env *testEnv, students ...database.Student) *Reconciliation {
	t.Helper()
	r := NewReconciler(env.store, logger.Discard(), nil)
	rec, err := r.Reconcile(context.Background(), env.principal, Submission{ClassID: env.class.ID, Date: jan10})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(rec.Pending) != len(students) {
		t.Fatalf("pending = %d, want %d", len(rec.Pending), len(students))
	}
	return rec
}

func loadTeacher(t *testing.T, env *testEnv) database.Teacher {
	t.Helper()
	teacher, err := env.store.Teachers.GetByID(context.Background(), env.principal.TeacherID)
	if err != nil {
		t.Fatalf("load teacher: %v", err)
	}
	return *teacher
}

func TestDispatchSkipsWhenDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.configureMail(t, false)
	students := env.addStudents(t, "S1", "S2")
	rec := markAbsent(t, env, students...)

	report, err := env.dispatcher.Dispatch(context.Background(), loadTeacher(t, env), rec.Class, rec.Date, rec.Pending)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Skipped != 2 || report.Sent != 0 || report.Reason == "" {
		t.Fatalf("report = %+v", report)
	}
	if n := len(env.transport.messages()); n != 0 {
		t.Fatalf("sent %d messages while disabled", n)
	}
}

func TestDispatchFailsWholeBatchWithoutMailConfig(t *testing.T) {
	env := newTestEnv(t)
	students := env.addStudents(t, "S1", "S2")
	rec := markAbsent(t, env, students...)

	report, err := env.dispatcher.Dispatch(context.Background(), loadTeacher(t, env), rec.Class, rec.Date, rec.Pending)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Failed != 2 || report.Reason != ErrMailNotConfigured.Error() {
		t.Fatalf("report = %+v", report)
	}
}

func TestDispatchFailureLeavesRecordEligible(t *testing.T) {
	env := newTestEnv(t)
	env.configureMail(t, true)
	students := env.addStudents(t, "S1", "S2")
	ctx := context.Background()

	boom := errors.New("mailbox unavailable")
	env.transport.fail[students[0].Email] = boom

	rec := markAbsent(t, env, students...)
	report, err := env.dispatcher.Dispatch(ctx, loadTeacher(t, env), rec.Class, rec.Date, rec.Pending)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Sent != 1 || report.Failed != 1 || report.Attempted != 2 {
		t.Fatalf("report = %+v", report)
	}
	var te *TransportError
	if len(report.Problems) != 1 || !errors.As(report.Problems[0], &te) || !errors.Is(te, boom) {
		t.Fatalf("problems = %v", report.Problems)
	}

	// The failed record is still pending and goes out once delivery works.
	delete(env.transport.fail, students[0].Email)
	rec = markAbsent(t, env, students[0])
	report, err = env.dispatcher.Dispatch(ctx, loadTeacher(t, env), rec.Class, rec.Date, rec.Pending)
	if err != nil {
		t.Fatalf("retry Dispatch: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("retry report = %+v", report)
	}
	if n := len(env.transport.messages()); n != 2 {
		t.Fatalf("messages = %d, want 2", n)
	}
}

func TestDispatchStalePendingIsNotResent(t *testing.T) {
	env := newTestEnv(t)
	env.configureMail(t, true)
	students := env.addStudents(t, "S1")
	ctx := context.Background()
	teacher := loadTeacher(t, env)

	rec := markAbsent(t, env, students...)
	if _, err := env.dispatcher.Dispatch(ctx, teacher, rec.Class, rec.Date, rec.Pending); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// Same pending slice again, as a second concurrent request would hold it.
	if err := env.dispatcher.claims.Release(ctx, "notify:"+strconv.FormatInt(rec.Pending[0].Attendance.ID, 10)); err != nil {
		t.Fatalf("Release: %v", err)
	}
	report, err := env.dispatcher.Dispatch(ctx, teacher, rec.Class, rec.Date, rec.Pending)
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if report.Sent != 0 || report.Skipped != 1 {
		t.Fatalf("second report = %+v", report)
	}
	if n := len(env.transport.messages()); n != 1 {
		t.Fatalf("messages = %d, want 1", n)
	}
}

func TestDispatchSendTimeoutIsDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.configureMail(t, true)
	students := env.addStudents(t, "S1", "S2")
	stalled, delivered := students[0], students[1]
	ctx := context.Background()

	var sentTo []string
	transport := sendFunc(func(ctx context.Context, msg mailer.Message) error {
		if msg.To == stalled.Email {
			<-ctx.Done()
			return ctx.Err()
		}
		sentTo = append(sentTo, msg.To)
		return nil
	})
	d := NewDispatcher(DispatcherConfig{
		Store:       env.store.Attendance,
		Transports:  func(mailer.Settings) (mailer.Transport, error) { return transport, nil },
		Secrets:     env.secrets,
		Claims:      claims.NewMemory(time.Minute),
		SendTimeout: 20 * time.Millisecond,
		Logger:      logger.Discard(),
	})

	rec := markAbsent(t, env, students...)
	report, err := d.Dispatch(ctx, loadTeacher(t, env), rec.Class, rec.Date, rec.Pending)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Failed != 1 || report.Sent != 1 || report.Attempted != 2 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Problems) != 1 || !errors.Is(report.Problems[0], context.DeadlineExceeded) {
		t.Fatalf("problems = %v", report.Problems)
	}
	if len(sentTo) != 1 || sentTo[0] != delivered.Email {
		t.Fatalf("delivered to %v, want %s", sentTo, delivered.Email)
	}

	for _, p := range rec.Pending {
		stored, err := env.store.Attendance.GetByID(ctx, p.Attendance.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if want := p.Student.ID == delivered.ID; stored.Notified != want {
			t.Errorf("%s notified = %v, want %v", p.Student.StudentID, stored.Notified, want)
		}
	}
}
