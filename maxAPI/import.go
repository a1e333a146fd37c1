package maxAPI

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/max-messenger/max-bot-api-client-go/schemes"

	"attendanceTracker/services"
)

const (
	selectClassForImportMsg = "Select the class to import students into:"
	sendRosterFileMsg       = "Send the students file for **%s** (.csv or .xlsx). It needs Student ID, Name and Email columns."
	fileNotFoundMessage     = "File not found. Send a .csv or .xlsx file."
	multipleFilesMessage    = "%d files were sent. Please send only one file at a time."
	unsupportedFileMessage  = "Invalid file format! Please upload .xlsx or .csv files only."
	importErrorsHeader      = "\n\n⚠️ Problems:\n"
)

var errUnsupportedFile = errors.New(unsupportedFileMessage)

func (b *Bot) handleImportStart(ctx context.Context, p services.Principal, callbackID string) error {
	return b.answerWithClasses(ctx, p, callbackID, selectClassForImportMsg, payloadImportClass)
}

func (b *Bot) handleImportClassSelected(ctx context.Context, p services.Principal, userID int64, callbackID, payload string) error {
	var classID int64
	if _, err := fmt.Sscanf(payload, payloadImportClass, &classID); err != nil {
		return fmt.Errorf("invalid import payload %q: %w", payload, err)
	}

	class, err := b.svc.Roster.Class(ctx, p, classID)
	if err != nil {
		return b.answerCallbackWithNotification(ctx, callbackID, userMessage(err))
	}

	b.mu.Lock()
	b.pendingUploads[userID] = class.ID
	b.mu.Unlock()

	return b.answerWithKeyboardMarkdown(ctx, callbackID, fmt.Sprintf(sendRosterFileMsg, class.Name), b.backKeyboard())
}

// handleRosterFile collects file attachments for a pending import. Files
// arriving within half a second of each other count as one batch, and a batch
// of more than one file is rejected.
func (b *Bot) handleRosterFile(ctx context.Context, userID int64, attachments []interface{}) {
	b.mu.Lock()
	classID, pending := b.pendingUploads[userID]
	b.mu.Unlock()
	if !pending {
		b.logger.Warnf("No pending upload for user %d", userID)
		b.handleUnexpectedMessage(ctx, userID)
		return
	}

	files := extractFileAttachments(attachments)
	if len(files) == 0 {
		b.sendErrorAndResetUpload(ctx, userID, fileNotFoundMessage)
		return
	}

	b.mu.Lock()
	b.uploadCounter[userID] += len(files)
	count := b.uploadCounter[userID]
	b.mu.Unlock()

	if count != len(files) {
		return
	}

	go func() {
		time.Sleep(500 * time.Millisecond)

		b.mu.Lock()
		total := b.uploadCounter[userID]
		delete(b.uploadCounter, userID)
		delete(b.pendingUploads, userID)
		b.mu.Unlock()

		if total > 1 {
			b.sendErrorAndResetUpload(ctx, userID, fmt.Sprintf(multipleFilesMessage, total))
			return
		}

		text, err := b.importAttachment(ctx, userID, classID, files[0])
		if err != nil {
			b.logger.Errorf("Failed to import file %s for class %d: %v", files[0].Filename, classID, err)
			b.sendErrorAndResetUpload(ctx, userID, userMessage(err))
			return
		}
		b.sendKeyboard(ctx, GetTeacherKeyboard(b.MaxAPI), userID, text)
	}()
}

// importAttachment downloads the file and runs the roster import. Row problems
// are part of the returned text; err is set only when nothing was attempted.
func (b *Bot) importAttachment(ctx context.Context, userID, classID int64, att *schemes.FileAttachment) (string, error) {
	if !services.SupportedExtension(att.Filename) {
		return "", errUnsupportedFile
	}

	p, _, err := b.svc.Accounts.PrincipalForMaxUser(ctx, userID)
	if err != nil {
		return "", err
	}

	file, err := b.downloadFile(ctx, att)
	if err != nil {
		return "", err
	}

	report, err := b.svc.Importer.ImportFile(ctx, p, classID, file, services.ImportOptions{SkipDuplicates: true})
	if err != nil && (report == nil || len(report.Errors) == 0) {
		return "", err
	}
	return formatImportReport(report), nil
}

func (b *Bot) downloadFile(ctx context.Context, att *schemes.FileAttachment) (*services.UploadedFile, error) {
	fileURL := att.Payload.Url
	b.logger.Debugf("Downloading file: %s from %s", att.Filename, fileURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b.logger.Errorf("Bad HTTP status when downloading file: %s", resp.Status)
		return nil, fmt.Errorf("failed to download file: status %s", resp.Status)
	}

	file, err := services.SaveUpload(b.uploadDir, att.Filename, resp.Body, b.maxUploadBytes, b.logger)
	if err != nil {
		return nil, err
	}
	b.logger.Infof("File %s saved to: %s", att.Filename, file.Path)
	return file, nil
}

func extractFileAttachments(attachments []interface{}) []*schemes.FileAttachment {
	files := []*schemes.FileAttachment{}
	for _, att := range attachments {
		if fileAtt, ok := att.(*schemes.FileAttachment); ok {
			files = append(files, fileAtt)
		}
	}
	return files
}

func formatImportReport(r *services.ImportReport) string {
	var sb strings.Builder
	if r.Success {
		sb.WriteString("✅ ")
	} else {
		sb.WriteString("❌ ")
	}
	sb.WriteString(r.Message())

	errs, _ := r.VisibleErrors()
	if len(errs) > 0 {
		sb.WriteString(importErrorsHeader)
		for _, e := range errs {
			sb.WriteString("• ")
			sb.WriteString(e)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
