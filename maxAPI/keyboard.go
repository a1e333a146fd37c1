package maxAPI

import (
	"fmt"

	maxbot "github.com/max-messenger/max-bot-api-client-go"
	"github.com/max-messenger/max-bot-api-client-go/schemes"

	"attendanceTracker/database"
)

const (
	btnImportRoster   = "Import students file"
	btnMarkAttendance = "Mark today's attendance"
	btnClassSummary   = "Class attendance summary"
	btnSaveAttendance = "✅ Save attendance"
	btnBackToMenu     = "← Main menu"

	payloadImportRoster   = "importRoster"
	payloadMarkAttendance = "markAttendance"
	payloadClassSummary   = "classSummary"
	payloadBackToMenu     = "backToMenu"

	payloadImportClass = "imp_cls_%d"
	payloadMarkClass   = "att_cls_%d"
	payloadToggle      = "att_tgl_%d_%d"
	payloadSave        = "att_save_%d"
	payloadSummary     = "sum_cls_%d"
)

func GetTeacherKeyboard(api *maxbot.Api) *maxbot.Keyboard {
	keyboard := api.Messages.NewKeyboardBuilder()
	keyboard.AddRow().AddCallback(btnMarkAttendance, schemes.POSITIVE, payloadMarkAttendance)
	keyboard.AddRow().AddCallback(btnImportRoster, schemes.DEFAULT, payloadImportRoster)
	keyboard.AddRow().AddCallback(btnClassSummary, schemes.DEFAULT, payloadClassSummary)
	return keyboard
}

// GetClassesKeyboard lists the classes with payloadFormat applied to each id.
func GetClassesKeyboard(api *maxbot.Api, classes []database.Class, payloadFormat string) *maxbot.Keyboard {
	keyboard := api.Messages.NewKeyboardBuilder()
	for _, class := range classes {
		keyboard.AddRow().AddCallback(classLabel(class), schemes.DEFAULT, fmt.Sprintf(payloadFormat, class.ID))
	}
	keyboard.AddRow().AddCallback(btnBackToMenu, schemes.DEFAULT, payloadBackToMenu)
	return keyboard
}

// GetAttendanceKeyboard shows one toggle per student; absentees are marked ❌.
func GetAttendanceKeyboard(api *maxbot.Api, d *attendanceDraft) *maxbot.Keyboard {
	keyboard := api.Messages.NewKeyboardBuilder()
	for _, st := range d.students {
		keyboard.AddRow().AddCallback(d.label(st), schemes.DEFAULT, fmt.Sprintf(payloadToggle, d.classID, st.ID))
	}
	keyboard.AddRow().AddCallback(btnSaveAttendance, schemes.POSITIVE, fmt.Sprintf(payloadSave, d.classID))
	keyboard.AddRow().AddCallback(btnBackToMenu, schemes.DEFAULT, payloadBackToMenu)
	return keyboard
}

func classLabel(c database.Class) string {
	if c.Subject == "" {
		return c.Name
	}
	return fmt.Sprintf("%s (%s)", c.Name, c.Subject)
}
