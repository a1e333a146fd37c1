package maxAPI

import (
	"context"
	"fmt"
	"strings"

	"attendanceTracker/services"
)

const (
	selectClassForSummaryMsg = "Select a class to see its attendance:"
	summaryHeaderMsg         = "📊 Attendance for **%s**\n\n"
	summaryEntryFormat       = "`%s` %s — %d/%d (%s)\n"
	summaryFooter            = "\n📈 **Statistics:**\n" +
		"• Sessions recorded: **%d**\n" +
		"• Students: **%d**\n" +
		"• Absences: **%d**"
	summaryEmptyMsg = "No attendance has been recorded for **%s** yet."
)

func (b *Bot) handleSummaryStart(ctx context.Context, p services.Principal, callbackID string) error {
	return b.answerWithClasses(ctx, p, callbackID, selectClassForSummaryMsg, payloadSummary)
}

func (b *Bot) handleSummaryClassSelected(ctx context.Context, p services.Principal, callbackID, payload string) error {
	var classID int64
	if _, err := fmt.Sscanf(payload, payloadSummary, &classID); err != nil {
		return fmt.Errorf("invalid summary payload %q: %w", payload, err)
	}

	m, err := b.svc.Exporter.Matrix(ctx, p, classID, nil, nil)
	if err != nil {
		b.logger.Errorf("Failed to build summary for class %d: %v", classID, err)
		return b.answerCallbackWithNotification(ctx, callbackID, userMessage(err))
	}

	return b.answerWithKeyboardMarkdown(ctx, callbackID, formatSummary(m), GetTeacherKeyboard(b.MaxAPI))
}

func formatSummary(m *services.ExportMatrix) string {
	if len(m.Dates) == 0 {
		return fmt.Sprintf(summaryEmptyMsg, m.Class.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, summaryHeaderMsg, m.Class.Name)

	absences := 0
	for _, row := range m.Rows {
		absences += row.Absent
		fmt.Fprintf(&sb, summaryEntryFormat,
			row.Student.StudentID, row.Student.Name, row.Present, len(m.Dates),
			services.FormatPercentage(row.Percentage, len(m.Dates)))
	}

	fmt.Fprintf(&sb, summaryFooter, len(m.Dates), len(m.Rows), absences)
	return sb.String()
}
