package mailer

import (
	"fmt"
	"strings"
	"time"
)

type AbsenceNotice struct {
	StudentName  string
	StudentEmail string
	ClassName    string
	Subject      string
	Date         time.Time
	TeacherName  string
	TeacherEmail string
	From         string
}

func AbsenceMessage(n AbsenceNotice) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", n.StudentName)
	b.WriteString("This is an automated notification to inform you that you were marked absent in the following class:\n\n")
	fmt.Fprintf(&b, "   Class:   %s\n", n.ClassName)
	fmt.Fprintf(&b, "   Subject: %s\n", n.Subject)
	fmt.Fprintf(&b, "   Date:    %s\n", n.Date.Format("Monday, January 02, 2006"))
	fmt.Fprintf(&b, "   Teacher: %s\n\n", n.TeacherName)
	b.WriteString("Please provide a reason for your absence by replying to this email.\n\n")
	b.WriteString("If you have already informed your teacher about this absence, please ignore this email. ")
	b.WriteString("If you believe this notification is incorrect, contact your teacher to resolve it.\n\n")
	fmt.Fprintf(&b, "Best regards,\n%s\n%s\n\n", n.TeacherName, n.TeacherEmail)
	b.WriteString("---\nThis is an automated message from the Attendance Management System.\n")

	return Message{
		From:    n.From,
		To:      n.StudentEmail,
		Subject: fmt.Sprintf("Absence Notification - %s - %s", n.ClassName, n.Date.Format("January 02, 2006")),
		Body:    b.String(),
	}
}

type TestNotice struct {
	Recipient   string
	Server      string
	Port        int
	From        string
	TeacherName string
	SentAt      time.Time
}

func TestMessage(n TestNotice) Message {
	var b strings.Builder
	b.WriteString("Dear User,\n\n")
	b.WriteString("This is a test email from the Attendance Management System.\n\n")
	b.WriteString("Email configuration status: working correctly.\n\n")
	fmt.Fprintf(&b, "   SMTP server: %s\n", n.Server)
	fmt.Fprintf(&b, "   Port:        %d\n", n.Port)
	fmt.Fprintf(&b, "   From:        %s\n", n.From)
	if n.TeacherName != "" {
		fmt.Fprintf(&b, "   Teacher:     %s\n", n.TeacherName)
	}
	fmt.Fprintf(&b, "   Test date:   %s\n\n", n.SentAt.Format("Monday, January 02, 2006 at 03:04 PM"))
	b.WriteString("If you received this email, absence notifications will be delivered to students automatically.\n\n")
	b.WriteString("Best regards,\nAttendance Management System\n")

	return Message{
		From:    n.From,
		To:      n.Recipient,
		Subject: "Test Email - Attendance Management System",
		Body:    b.String(),
	}
}
