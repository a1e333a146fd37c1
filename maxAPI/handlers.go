package maxAPI

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/max-messenger/max-bot-api-client-go/schemes"

	"attendanceTracker/services"
)

const (
	welcomeTeacherMsg  = "Welcome, %s! 👨‍🏫"
	mainMenuTeacherMsg = "Main menu:"
	notLinkedMessage   = "This Max account is not linked to a teacher yet."
	notLinkedHelpMsg   = notLinkedMessage + "\n\nOpen the web app settings and link Max user id `%d`."

	unknownMessage = "❓ I don't understand this message."
)

// teacherFor resolves the teacher linked to a Max user. ok is false when the
// account is not linked or the lookup failed; both are logged.
func (b *Bot) teacherFor(ctx context.Context, userID int64) (services.Principal, string, bool) {
	p, t, err := b.svc.Accounts.PrincipalForMaxUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, services.ErrTeacherNotFound) {
			b.logger.Errorf("Failed to resolve teacher for Max user %d: %v", userID, err)
		} else {
			b.logger.Debugf("Max user %d is not linked", userID)
		}
		return services.Principal{}, "", false
	}
	return p, t.Name, true
}

func (b *Bot) handleBotStarted(ctx context.Context, u *schemes.BotStartedUpdate) {
	userID := u.User.UserId

	_, name, ok := b.teacherFor(ctx, userID)
	if !ok {
		b.sendNotLinked(ctx, userID)
		return
	}

	b.sendKeyboard(ctx, GetTeacherKeyboard(b.MaxAPI), userID, fmt.Sprintf(welcomeTeacherMsg, name))
}

func (b *Bot) handleMessageCreated(ctx context.Context, u *schemes.MessageCreatedUpdate) {
	userID := u.Message.Sender.UserId
	messageID := u.Message.Body.Mid

	if b.isMessageProcessed(messageID) {
		b.logger.Debugf("Message %s already processed, skipping", messageID)
		return
	}

	b.markMessageProcessed(messageID)
	defer b.cleanupProcessedMessage(messageID)

	if _, _, ok := b.teacherFor(ctx, userID); !ok {
		b.sendNotLinked(ctx, userID)
		return
	}

	attachments := u.Message.Body.Attachments
	if len(attachments) > 0 {
		b.handleRosterFile(ctx, userID, attachments)
		return
	}

	switch strings.ToLower(strings.TrimSpace(u.Message.Body.Text)) {
	case "":
		return
	case "/start", "menu", "/menu":
		b.sendKeyboard(ctx, GetTeacherKeyboard(b.MaxAPI), userID, mainMenuTeacherMsg)
	default:
		b.handleUnexpectedMessage(ctx, userID)
	}
}

func (b *Bot) handleCallback(ctx context.Context, u *schemes.MessageCallbackUpdate) {
	userID := u.Callback.User.UserId
	callbackID := u.Callback.CallbackID
	payload := u.Callback.Payload

	b.logger.Debugf("Callback received: payload=%s, callbackID=%s, userID=%d", payload, callbackID, userID)

	p, _, ok := b.teacherFor(ctx, userID)
	if !ok {
		if err := b.answerCallbackWithNotification(ctx, callbackID, notLinkedMessage); err != nil {
			b.logger.Errorf("Failed to answer callback: %v", err)
		}
		return
	}

	var err error
	switch {
	case payload == payloadBackToMenu:
		err = b.handleBackToMenu(ctx, userID, callbackID)
	case payload == payloadMarkAttendance:
		err = b.handleMarkAttendanceStart(ctx, p, callbackID)
	case payload == payloadImportRoster:
		err = b.handleImportStart(ctx, p, callbackID)
	case payload == payloadClassSummary:
		err = b.handleSummaryStart(ctx, p, callbackID)
	case strings.HasPrefix(payload, "att_"):
		err = b.handleAttendanceCallback(ctx, p, userID, callbackID, payload)
	case strings.HasPrefix(payload, "imp_cls_"):
		err = b.handleImportClassSelected(ctx, p, userID, callbackID, payload)
	case strings.HasPrefix(payload, "sum_cls_"):
		err = b.handleSummaryClassSelected(ctx, p, callbackID, payload)
	default:
		b.logger.Warnf("Unknown callback: %s", payload)
		return
	}
	if err != nil {
		b.logger.Errorf("Callback %s for user %d failed: %v", payload, userID, err)
	}
}

func (b *Bot) handleBackToMenu(ctx context.Context, userID int64, callbackID string) error {
	b.mu.Lock()
	delete(b.pendingUploads, userID)
	b.mu.Unlock()
	b.drafts.discard(userID)

	if err := b.answerWithKeyboard(ctx, callbackID, mainMenuTeacherMsg, GetTeacherKeyboard(b.MaxAPI)); err != nil {
		return err
	}

	b.logger.Infof("User %d returned to main menu", userID)
	return nil
}

func (b *Bot) handleUnexpectedMessage(ctx context.Context, userID int64) {
	b.mu.Lock()
	delete(b.pendingUploads, userID)
	b.mu.Unlock()

	b.sendKeyboard(ctx, GetTeacherKeyboard(b.MaxAPI), userID, unknownMessage)
}

func (b *Bot) sendNotLinked(ctx context.Context, userID int64) {
	if err := b.sendMessage(ctx, userID, fmt.Sprintf(notLinkedHelpMsg, userID)); err != nil {
		b.logger.Errorf("Failed to send link instructions to %d: %v", userID, err)
	}
}
