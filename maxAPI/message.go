package maxAPI

import (
	"context"
	"errors"
	"fmt"

	maxbot "github.com/max-messenger/max-bot-api-client-go"
	"github.com/max-messenger/max-bot-api-client-go/schemes"

	"attendanceTracker/services"
)

const (
	errorMessage      = "❌ Error:\n\n%s"
	noClassesMessage  = "You have no classes yet. Create one in the web app first."
	genericErrMessage = "Something went wrong. Please try again."
)

// userMessage turns a service error into text that is safe to show.
func userMessage(err error) string {
	var verr *services.ValidationError
	var fatal *services.FatalImportError

	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &fatal):
		return fatal.Message
	case errors.Is(err, services.ErrUploadTooLarge):
		return "The file is too large."
	case errors.Is(err, services.ErrTeacherNotFound):
		return notLinkedMessage
	case errors.Is(err, services.ErrClassNotFound):
		return "Class not found!"
	case errors.Is(err, services.ErrInvalidStatus):
		return "Invalid attendance status."
	case errors.Is(err, errUnsupportedFile):
		return unsupportedFileMessage
	default:
		return genericErrMessage
	}
}

func (b *Bot) isMessageProcessed(messageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.processedMessages[messageID]
}

func (b *Bot) markMessageProcessed(messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processedMessages[messageID] = true
}

func (b *Bot) cleanupProcessedMessage(messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.processedMessages, messageID)
}

func (b *Bot) sendErrorAndResetUpload(ctx context.Context, userID int64, errorMsg string) {
	b.mu.Lock()
	delete(b.pendingUploads, userID)
	b.mu.Unlock()

	b.sendKeyboard(ctx, GetTeacherKeyboard(b.MaxAPI), userID, fmt.Sprintf(errorMessage, errorMsg))
}

func (b *Bot) backKeyboard() *maxbot.Keyboard {
	keyboard := b.MaxAPI.Messages.NewKeyboardBuilder()
	keyboard.AddRow().AddCallback(btnBackToMenu, schemes.DEFAULT, payloadBackToMenu)
	return keyboard
}

// answerWithClasses replaces the callback message with the teacher's classes.
func (b *Bot) answerWithClasses(ctx context.Context, p services.Principal, callbackID, text, payloadFormat string) error {
	classes, err := b.svc.Roster.ListClasses(ctx, p)
	if err != nil {
		b.logger.Errorf("Failed to list classes for teacher %d: %v", p.TeacherID, err)
		return b.answerCallbackWithNotification(ctx, callbackID, genericErrMessage)
	}
	if len(classes) == 0 {
		return b.answerCallbackWithNotification(ctx, callbackID, noClassesMessage)
	}
	return b.answerWithKeyboard(ctx, callbackID, text, GetClassesKeyboard(b.MaxAPI, classes, payloadFormat))
}

func (b *Bot) answerWithKeyboard(ctx context.Context, callbackID, text string, keyboard *maxbot.Keyboard) error {
	return b.answer(ctx, callbackID, &schemes.NewMessageBody{
		Text:        text,
		Attachments: []interface{}{schemes.NewInlineKeyboardAttachmentRequest(keyboard.Build())},
	})
}

func (b *Bot) answerWithKeyboardMarkdown(ctx context.Context, callbackID, text string, keyboard *maxbot.Keyboard) error {
	return b.answer(ctx, callbackID, &schemes.NewMessageBody{
		Text:        text,
		Format:      "markdown",
		Attachments: []interface{}{schemes.NewInlineKeyboardAttachmentRequest(keyboard.Build())},
	})
}

func (b *Bot) answer(ctx context.Context, callbackID string, body *schemes.NewMessageBody) error {
	_, err := b.MaxAPI.Messages.AnswerOnCallback(ctx, callbackID, &schemes.CallbackAnswer{Message: body})
	if err != nil && err.Error() != "" {
		b.logger.Errorf("Failed to answer callback: %v", err)
		return err
	}
	return nil
}

func (b *Bot) answerCallbackWithNotification(ctx context.Context, callbackID, notification string) error {
	answer := &schemes.CallbackAnswer{
		Notification: notification,
	}
	_, err := b.MaxAPI.Messages.AnswerOnCallback(ctx, callbackID, answer)
	if err != nil && err.Error() != "" {
		return err
	}
	return nil
}

func (b *Bot) sendKeyboard(ctx context.Context, keyboard *maxbot.Keyboard, userID int64, msg string) {
	_, err := b.MaxAPI.Messages.Send(ctx, maxbot.NewMessage().
		SetUser(userID).
		AddKeyboard(keyboard).
		SetText(msg).SetFormat("markdown"))
	if err != nil && err.Error() != "" {
		b.logger.Errorf("Failed to send keyboard: %v", err)
	}
}

func (b *Bot) sendMessage(ctx context.Context, userID int64, text string) error {
	_, err := b.MaxAPI.Messages.Send(ctx, maxbot.NewMessage().
		SetUser(userID).
		SetText(text))
	if err != nil && err.Error() != "" {
		return err
	}
	return nil
}
