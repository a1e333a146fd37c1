package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"attendanceTracker/database"
	"attendanceTracker/services"
)

func (h *handler) register(c *gin.Context) {
	var req services.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.Accounts.Register(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"teacher": t, "message": "Registration successful! Please login."})
}

func (h *handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.Accounts.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	token, exp, err := Issue(p, h.Auth.Issuer, h.Auth.SigningKey, h.Auth.TTL)
	if err != nil {
		h.respondError(c, fmt.Errorf("issue token: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
}

func (h *handler) me(c *gin.Context) {
	t, err := h.Accounts.Teacher(c.Request.Context(), principal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teacher": t})
}

func (h *handler) updateProfile(c *gin.Context) {
	var req services.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Accounts.UpdateProfile(c.Request.Context(), principal(c), req); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile updated successfully!"})
}

func (h *handler) dashboard(c *gin.Context) {
	d, err := h.Roster.Dashboard(c.Request.Context(), principal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) listClasses(c *gin.Context) {
	classes, err := h.Roster.ListClasses(c.Request.Context(), principal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func (h *handler) createClass(c *gin.Context) {
	var req services.ClassInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	class, err := h.Roster.CreateClass(c.Request.Context(), principal(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"class": class})
}

func (h *handler) deleteClass(c *gin.Context) {
	id, ok := classID(c)
	if !ok {
		return
	}
	if err := h.Roster.DeleteClass(c.Request.Context(), principal(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listStudents(c *gin.Context) {
	id, ok := classID(c)
	if !ok {
		return
	}
	students, err := h.Roster.ListStudents(c.Request.Context(), principal(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *handler) addStudent(c *gin.Context) {
	id, ok := classID(c)
	if !ok {
		return
	}
	var req services.StudentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	student, err := h.Roster.AddStudent(c.Request.Context(), principal(c), id, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"student": student})
}

type importResponse struct {
	Success          bool                    `json:"success"`
	Message          string                  `json:"message"`
	TotalRows        int                     `json:"total_rows"`
	Imported         int                     `json:"imported"`
	Skipped          int                     `json:"skipped"`
	Errors           []string                `json:"errors"`
	MoreErrors       int                     `json:"more_errors"`
	ImportedStudents []services.StudentInput `json:"imported_students"`
}

func newImportResponse(r *services.ImportReport) importResponse {
	errs, more := r.VisibleErrors()
	return importResponse{
		Success:          r.Success,
		Message:          r.Message(),
		TotalRows:        r.TotalRows,
		Imported:         r.Imported,
		Skipped:          r.Skipped,
		Errors:           errs,
		MoreErrors:       more,
		ImportedStudents: r.ImportedStudents,
	}
}

func (h *handler) importStudents(c *gin.Context) {
	id, ok := classID(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil || header.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file was selected for upload!"})
		return
	}
	if !services.SupportedExtension(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file format! Please upload .xlsx or .csv files only."})
		return
	}

	src, err := header.Open()
	if err != nil {
		h.respondError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer src.Close()

	file, err := services.SaveUpload(h.Import.UploadDir, header.Filename, src, h.Import.MaxUploadMB<<20, h.Logger)
	if err != nil {
		h.respondError(c, err)
		return
	}

	opts := services.ImportOptions{
		ColumnMapping: map[string]string{
			services.FieldStudentID: c.PostForm("student_id_column"),
			services.FieldName:      c.PostForm("name_column"),
			services.FieldEmail:     c.PostForm("email_column"),
		},
		SkipDuplicates: formPresent(c, "skip_duplicates"),
	}

	report, err := h.Importer.ImportFile(c.Request.Context(), principal(c), id, file, opts)
	if err != nil {
		if report == nil || len(report.Errors) == 0 {
			h.respondError(c, err)
			return
		}
		h.Logger.Warnf("Bulk import for class %d failed: %v", id, err)
		status := http.StatusInternalServerError
		var fatal *services.FatalImportError
		if errors.As(err, &fatal) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, newImportResponse(report))
		return
	}

	h.Logger.Infof("Bulk import completed for class %d: %d imported, %d skipped, %d errors",
		id, report.Imported, report.Skipped, len(report.Errors))
	c.JSON(http.StatusOK, newImportResponse(report))
}

// formPresent reports whether a checkbox-style field was submitted at all,
// whatever its value.
func formPresent(c *gin.Context, key string) bool {
	_, ok := c.GetPostForm(key)
	return ok
}

func (h *handler) sheet(c *gin.Context) {
	id, ok := classID(c)
	if !ok {
		return
	}
	date, err := database.ParseDate(c.Query("date"))
	if err != nil {
		date = database.DateOf(h.today())
	}
	sheet, err := h.Attendance.Sheet(c.Request.Context(), principal(c), id, date)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sheet)
}

func (h *handler) markAttendance(c *gin.Context) {
	id, ok := classID(c)
	if !ok {
		return
	}
	var req struct {
		Date     string            `json:"date" binding:"required"`
		Statuses map[string]string `json:"statuses"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := database.ParseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format!"})
		return
	}

	statuses := make(map[int64]database.Status, len(req.Statuses))
	for key, raw := range req.Statuses {
		studentID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid student id %q", key)})
			return
		}
		status, err := database.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		statuses[studentID] = status
	}

	result, err := h.Attendance.Mark(c.Request.Context(), principal(c), id, date, statuses)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result, "messages": result.Messages()})
}

func optionalDate(c *gin.Context, name string) (*database.Date, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	d, err := database.ParseDate(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format!"})
		return nil, false
	}
	return &d, true
}

func (h *handler) history(c *gin.Context) {
	var class *int64
	if raw := c.Query("class_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class id"})
			return
		}
		class = &id
	}
	from, ok := optionalDate(c, "start_date")
	if !ok {
		return
	}
	to, ok := optionalDate(c, "end_date")
	if !ok {
		return
	}

	entries, err := h.Roster.History(c.Request.Context(), principal(c), class, from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": entries})
}

func (h *handler) export(c *gin.Context) {
	id, ok := classID(c)
	if !ok {
		return
	}
	from, ok := optionalDate(c, "start_date")
	if !ok {
		return
	}
	to, ok := optionalDate(c, "end_date")
	if !ok {
		return
	}

	format := strings.ToLower(c.DefaultQuery("format", "csv"))
	var (
		write       func(*bytes.Buffer, *services.ExportMatrix) error
		contentType string
	)
	switch format {
	case "csv":
		write = func(b *bytes.Buffer, m *services.ExportMatrix) error { return services.WriteCSV(b, m) }
		contentType = "text/csv; charset=utf-8"
	case "xlsx":
		write = func(b *bytes.Buffer, m *services.ExportMatrix) error { return services.WriteXLSX(b, m) }
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
		return
	}

	m, err := h.Exporter.Matrix(c.Request.Context(), principal(c), id, from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := write(&buf, m); err != nil {
		h.Logger.Errorf("Export of class %d failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed. Please try again."})
		return
	}

	name := services.ExportFilename(m.Class, from, to, format)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (h *handler) mailStatus(c *gin.Context) {
	status, err := h.Accounts.MailStatus(c.Request.Context(), principal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handler) updateMailSettings(c *gin.Context) {
	var req services.MailSettingsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := h.Accounts.UpdateMailSettings(c.Request.Context(), principal(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	messages := []string{"Email settings updated successfully!"}
	if status.FullyConfigured && status.NotificationsEnabled {
		messages = append(messages, "Email configuration saved. You can now test it using the Test Email feature.")
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "messages": messages})
}

func (h *handler) testEmail(c *gin.Context) {
	var req struct {
		TestEmail string `json:"test_email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.Accounts.SendTestEmail(c.Request.Context(), principal(c), req.TestEmail)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Test email sent successfully to %s!", req.TestEmail)})
		return
	}

	var verr *services.ValidationError
	if errors.As(err, &verr) || errors.Is(err, services.ErrMailNotConfigured) || errors.Is(err, services.ErrTeacherNotFound) {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("Failed to send test email: %v", err)})
}

func (h *handler) linkMax(c *gin.Context) {
	var req struct {
		MaxUserID int64 `json:"max_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Accounts.LinkMaxUser(c.Request.Context(), principal(c), &req.MaxUserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"max_user_id": req.MaxUserID})
}

func (h *handler) unlinkMax(c *gin.Context) {
	if err := h.Accounts.LinkMaxUser(c.Request.Context(), principal(c), nil); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
