package maxAPI

import (
	"context"
	"fmt"
	"strings"
	"sync"

	maxbot "github.com/max-messenger/max-bot-api-client-go"

	"attendanceTracker/database"
	"attendanceTracker/services"
)

const (
	selectClassForAttendanceMsg = "Select a class to mark attendance:"
	markAbsenteesMsg            = "Attendance for **%s** on `%s`\n\nTap students to mark them absent, then save. %d of %d absent."
	noStudentsMsg               = "This class has no students yet. Import a students file first."
	draftExpiredMsg             = "This attendance sheet is no longer open. Start again from the menu."
)

// attendanceDraft holds the absentees a teacher has toggled but not saved.
type attendanceDraft struct {
	classID   int64
	className string
	date      database.Date
	students  []database.Student
	absent    map[int64]bool
	late      map[int64]bool
}

func newDraft(sheet *services.Sheet) *attendanceDraft {
	d := &attendanceDraft{
		classID:   sheet.Class.ID,
		className: sheet.Class.Name,
		date:      sheet.Date,
		students:  make([]database.Student, 0, len(sheet.Rows)),
		absent:    make(map[int64]bool),
		late:      make(map[int64]bool),
	}
	for _, row := range sheet.Rows {
		d.students = append(d.students, row.Student)
		switch row.Status {
		case database.StatusAbsent:
			d.absent[row.Student.ID] = true
		case database.StatusLate:
			d.late[row.Student.ID] = true
		}
	}
	return d
}

// toggle flips a student between present and absent. Unknown students are
// ignored.
func (d *attendanceDraft) toggle(studentID int64) bool {
	for _, st := range d.students {
		if st.ID != studentID {
			continue
		}
		if d.absent[studentID] {
			delete(d.absent, studentID)
		} else {
			d.absent[studentID] = true
		}
		return true
	}
	return false
}

// statuses marks every student present except the toggled absentees.
// Students already recorded late stay late unless toggled absent.
func (d *attendanceDraft) statuses() map[int64]database.Status {
	out := make(map[int64]database.Status, len(d.students))
	for _, st := range d.students {
		switch {
		case d.absent[st.ID]:
			out[st.ID] = database.StatusAbsent
		case d.late[st.ID]:
			out[st.ID] = database.StatusLate
		default:
			out[st.ID] = database.StatusPresent
		}
	}
	return out
}

func (d *attendanceDraft) label(st database.Student) string {
	mark := "✅"
	switch {
	case d.absent[st.ID]:
		mark = "❌"
	case d.late[st.ID]:
		mark = "🕒"
	}
	return fmt.Sprintf("%s %s (%s)", mark, st.Name, st.StudentID)
}

func (d *attendanceDraft) text() string {
	return fmt.Sprintf(markAbsenteesMsg, d.className, d.date, len(d.absent), len(d.students))
}

// draftBook keeps one open draft per Max user.
type draftBook struct {
	mu     sync.Mutex
	drafts map[int64]*attendanceDraft
}

func newDraftBook() *draftBook {
	return &draftBook{drafts: make(map[int64]*attendanceDraft)}
}

func (book *draftBook) open(userID int64, d *attendanceDraft) {
	book.mu.Lock()
	defer book.mu.Unlock()
	book.drafts[userID] = d
}

// with runs fn on the user's draft for classID while holding the lock.
func (book *draftBook) with(userID, classID int64, fn func(d *attendanceDraft)) bool {
	book.mu.Lock()
	defer book.mu.Unlock()
	d, ok := book.drafts[userID]
	if !ok || d.classID != classID {
		return false
	}
	fn(d)
	return true
}

// take removes and returns the user's draft for classID.
func (book *draftBook) take(userID, classID int64) (*attendanceDraft, bool) {
	book.mu.Lock()
	defer book.mu.Unlock()
	d, ok := book.drafts[userID]
	if !ok || d.classID != classID {
		return nil, false
	}
	delete(book.drafts, userID)
	return d, true
}

func (book *draftBook) discard(userID int64) {
	book.mu.Lock()
	defer book.mu.Unlock()
	delete(book.drafts, userID)
}

func (b *Bot) handleMarkAttendanceStart(ctx context.Context, p services.Principal, callbackID string) error {
	return b.answerWithClasses(ctx, p, callbackID, selectClassForAttendanceMsg, payloadMarkClass)
}

func (b *Bot) handleAttendanceCallback(ctx context.Context, p services.Principal, userID int64, callbackID, payload string) error {
	switch {
	case strings.HasPrefix(payload, "att_cls_"):
		var classID int64
		if _, err := fmt.Sscanf(payload, payloadMarkClass, &classID); err != nil {
			return fmt.Errorf("invalid attendance payload %q: %w", payload, err)
		}
		return b.handleAttendanceClassSelected(ctx, p, userID, callbackID, classID)
	case strings.HasPrefix(payload, "att_tgl_"):
		var classID, studentID int64
		if _, err := fmt.Sscanf(payload, payloadToggle, &classID, &studentID); err != nil {
			return fmt.Errorf("invalid attendance payload %q: %w", payload, err)
		}
		return b.handleAttendanceToggle(ctx, userID, callbackID, classID, studentID)
	case strings.HasPrefix(payload, "att_save_"):
		var classID int64
		if _, err := fmt.Sscanf(payload, payloadSave, &classID); err != nil {
			return fmt.Errorf("invalid attendance payload %q: %w", payload, err)
		}
		return b.handleAttendanceSave(ctx, p, userID, callbackID, classID)
	default:
		return fmt.Errorf("unknown attendance callback: %s", payload)
	}
}

func (b *Bot) handleAttendanceClassSelected(ctx context.Context, p services.Principal, userID int64, callbackID string, classID int64) error {
	sheet, err := b.svc.Attendance.Sheet(ctx, p, classID, database.DateOf(b.today()))
	if err != nil {
		b.logger.Errorf("Failed to load attendance sheet for class %d: %v", classID, err)
		return b.answerCallbackWithNotification(ctx, callbackID, userMessage(err))
	}
	if len(sheet.Rows) == 0 {
		return b.answerCallbackWithNotification(ctx, callbackID, noStudentsMsg)
	}

	d := newDraft(sheet)
	text, keyboard := d.text(), GetAttendanceKeyboard(b.MaxAPI, d)
	b.drafts.open(userID, d)
	return b.answerWithKeyboardMarkdown(ctx, callbackID, text, keyboard)
}

func (b *Bot) handleAttendanceToggle(ctx context.Context, userID int64, callbackID string, classID, studentID int64) error {
	var (
		text     string
		keyboard *maxbot.Keyboard
		found    bool
	)
	ok := b.drafts.with(userID, classID, func(d *attendanceDraft) {
		if found = d.toggle(studentID); found {
			text = d.text()
			keyboard = GetAttendanceKeyboard(b.MaxAPI, d)
		}
	})
	if !ok || !found {
		return b.answerCallbackWithNotification(ctx, callbackID, draftExpiredMsg)
	}
	return b.answerWithKeyboardMarkdown(ctx, callbackID, text, keyboard)
}

func (b *Bot) handleAttendanceSave(ctx context.Context, p services.Principal, userID int64, callbackID string, classID int64) error {
	d, ok := b.drafts.take(userID, classID)
	if !ok {
		return b.answerCallbackWithNotification(ctx, callbackID, draftExpiredMsg)
	}

	result, err := b.svc.Attendance.Mark(ctx, p, classID, d.date, d.statuses())
	if err != nil {
		b.logger.Errorf("Failed to mark attendance for class %d: %v", classID, err)
		if result == nil {
			b.drafts.open(userID, d)
			return b.answerCallbackWithNotification(ctx, callbackID, userMessage(err))
		}
	}

	b.logger.Infof("Attendance for class %d on %s saved from Max by teacher %d", classID, d.date, p.TeacherID)
	text := "✅ " + strings.Join(result.Messages(), "\n")
	return b.answerWithKeyboard(ctx, callbackID, text, GetTeacherKeyboard(b.MaxAPI))
}
