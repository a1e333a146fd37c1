package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"attendanceTracker/claims"
	"attendanceTracker/config"
	"attendanceTracker/database"
	"attendanceTracker/logger"
	"attendanceTracker/mailer"
	"attendanceTracker/metrics"
	"attendanceTracker/secrets"
	"attendanceTracker/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type capture struct {
	sent []mailer.Message
}

func (c *capture) Send(_ context.Context, msg mailer.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

type testServer struct {
	router *gin.Engine
	mail   *capture
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.OpenDB(&config.DatabaseConfig{
		Driver: database.DriverSQLite,
		URI:    filepath.Join(t.TempDir(), "attendance.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := database.NewStore(db)
	log := logger.Discard()
	m := metrics.New()
	mail := &capture{}
	factory := func(s mailer.Settings) (mailer.Transport, error) {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		return mail, nil
	}

	vault, err := secrets.NewVault(store.Secrets, "test-key")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	chain := secrets.Chain{Vault: vault}

	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Store:       store.Attendance,
		Transports:  factory,
		Secrets:     chain,
		Claims:      claims.NewMemory(time.Minute),
		SendTimeout: time.Second,
		Logger:      log,
		Metrics:     m,
	})

	router := NewRouter(Deps{
		Accounts:   services.NewAccountService(store, chain, factory, time.Second, log),
		Roster:     services.NewRosterService(store, log),
		Importer:   services.NewImporter(store, log, m),
		Attendance: services.NewAttendanceService(store, services.NewReconciler(store, log, m), dispatcher, log),
		Exporter:   services.NewExporter(store),
		Metrics:    m,
		Logger:     log,
		HTTP:       config.HTTPConfig{RateLimitPerMin: 0},
		Auth:       config.AuthConfig{SigningKey: "test-signing", Issuer: "test", TTL: time.Hour},
		Import:     config.ImportConfig{UploadDir: t.TempDir(), MaxUploadMB: 1},
		Checks: map[string]HealthCheck{
			"db": func(ctx context.Context) error { return db.PingContext(ctx) },
		},
	})
	return &testServer{router: router, mail: mail}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func (s *testServer) signup(t *testing.T, email string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/teachers", "", map[string]string{
		"name": "Ada Lovelace", "email": email, "password": "analytical",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body)
	}
	w = s.do(t, http.MethodPost, "/api/tokens", "", map[string]string{"email": email, "password": "analytical"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, w, &resp)
	return resp.AccessToken
}

func (s *testServer) createClass(t *testing.T, token string) int64 {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/classes", token, map[string]string{"name": "Algebra I", "subject": "Math"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create class: %d %s", w.Code, w.Body)
	}
	var resp struct {
		Class database.Class `json:"class"`
	}
	decode(t, w, &resp)
	return resp.Class.ID
}

func (s *testServer) upload(t *testing.T, token string, classID int64, name, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte(content))
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/classes/%d/students/import", classID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestAttendanceFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "ada@example.com")
	classID := s.createClass(t, token)

	w := s.upload(t, token, classID, "roster.csv", "Roll Number,Name,Email\nS1,Ada,s1@example.com\nS2,Grace,s2@example.com\n", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body)
	}
	var imp importResponse
	decode(t, w, &imp)
	if !imp.Success || imp.Imported != 2 || imp.Message != "Successfully imported 2 students!" {
		t.Fatalf("import response = %+v", imp)
	}

	w = s.do(t, http.MethodPut, "/api/settings/email", token, map[string]interface{}{
		"smtp_email": "ada.smtp@example.com", "smtp_password": "app-password",
		"smtp_server": "smtp.example.com", "smtp_port": 587, "notifications_enabled": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("email settings: %d %s", w.Code, w.Body)
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/classes/%d/attendance?date=2024-01-10", classID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sheet: %d %s", w.Code, w.Body)
	}
	var sheet services.Sheet
	decode(t, w, &sheet)
	if len(sheet.Rows) != 2 {
		t.Fatalf("sheet rows = %d", len(sheet.Rows))
	}
	first := sheet.Rows[0].Student

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/classes/%d/attendance", classID), token, map[string]interface{}{
		"date":     "2024-01-10",
		"statuses": map[string]string{fmt.Sprint(first.ID): "present"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("mark: %d %s", w.Code, w.Body)
	}
	var mark struct {
		Result   services.MarkResult `json:"result"`
		Messages []string            `json:"messages"`
	}
	decode(t, w, &mark)
	if mark.Result.Present != 1 || mark.Result.Absent != 1 || mark.Result.Notifications.Sent != 1 {
		t.Fatalf("mark result = %+v", mark.Result)
	}
	if len(s.mail.sent) != 1 || s.mail.sent[0].To != "s2@example.com" {
		t.Fatalf("mail = %+v", s.mail.sent)
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/classes/%d/export?format=csv", classID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d %s", w.Code, w.Body)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "Algebra I_attendance.csv") {
		t.Fatalf("content disposition = %q", cd)
	}
	if !strings.Contains(w.Body.String(), "100.0%") || !strings.Contains(w.Body.String(), "Legend:") {
		t.Fatalf("export body = %s", w.Body)
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/history?class_id=%d&start_date=2024-01-10", classID), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d %s", w.Code, w.Body)
	}
	var hist struct {
		Attendance []database.AttendanceEntry `json:"attendance"`
	}
	decode(t, w, &hist)
	if len(hist.Attendance) != 2 {
		t.Fatalf("history entries = %d", len(hist.Attendance))
	}

	if w = s.do(t, http.MethodGet, "/api/history?start_date=10-01-2024", token, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", w.Code)
	}
}

func TestImportReportsAtMostTenErrors(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "ada@example.com")
	classID := s.createClass(t, token)

	var b strings.Builder
	b.WriteString("student_id,name,email\n")
	for i := 0; i < 13; i++ {
		fmt.Fprintf(&b, "S%d,Student,bad-email-%d\n", i, i)
	}
	b.WriteString("OK1,Valid,valid@example.com\n")

	w := s.upload(t, token, classID, "roster.csv", b.String(), map[string]string{"skip_duplicates": "on"})
	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body)
	}
	var imp importResponse
	decode(t, w, &imp)
	if imp.Imported != 1 || imp.MoreErrors != 3 || len(imp.Errors) != 11 {
		t.Fatalf("import response = %+v", imp)
	}
	if last := imp.Errors[10]; last != "... and 3 more errors. Please check your file." {
		t.Fatalf("last error = %q", last)
	}
}

func TestImportSkipDuplicatesFieldPresence(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "ada@example.com")
	classID := s.createClass(t, token)

	if w := s.upload(t, token, classID, "roster.csv", "student_id,name,email\nS1,Ada,ada.s@example.com\n", nil); w.Code != http.StatusOK {
		t.Fatalf("seed import: %d %s", w.Code, w.Body)
	}

	// An empty value still counts as checked.
	w := s.upload(t, token, classID, "roster.csv",
		"student_id,name,email\nS1,Ada,ada.s@example.com\nS2,Grace,grace.s@example.com\n",
		map[string]string{"skip_duplicates": ""})
	if w.Code != http.StatusOK {
		t.Fatalf("import with empty field: %d %s", w.Code, w.Body)
	}
	var imp importResponse
	decode(t, w, &imp)
	if imp.Imported != 1 || imp.Skipped != 1 || len(imp.Errors) != 1 || imp.Errors[0] != "Row 2: Student ID 'S1' already exists (skipped)" {
		t.Fatalf("import with empty field = %+v", imp)
	}

	w = s.upload(t, token, classID, "roster.csv",
		"student_id,name,email\nS1,Ada,ada.s@example.com\nS3,Linus,linus.s@example.com\n", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("import without field: %d %s", w.Code, w.Body)
	}
	imp = importResponse{}
	decode(t, w, &imp)
	if imp.Imported != 1 || imp.Skipped != 0 || len(imp.Errors) != 1 || imp.Errors[0] != "Row 2: Student ID 'S1' already exists" {
		t.Fatalf("import without field = %+v", imp)
	}
}

func TestImportRejectsBadUploads(t *testing.T) {
	s := newTestServer(t)
	token := s.signup(t, "ada@example.com")
	classID := s.createClass(t, token)

	if w := s.upload(t, token, classID, "roster.txt", "a,b,c\n", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("txt upload: %d %s", w.Code, w.Body)
	}
	w := s.upload(t, token, classID, "roster.csv", "student_id,name\nS1,Ada\n", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing column: %d %s", w.Code, w.Body)
	}
	var imp importResponse
	decode(t, w, &imp)
	if imp.Success || len(imp.Errors) != 1 || imp.Errors[0] != "Could not find columns: Email" {
		t.Fatalf("import response = %+v", imp)
	}
}

func TestAuthAndOwnership(t *testing.T) {
	s := newTestServer(t)
	ada := s.signup(t, "ada@example.com")
	grace := s.signup(t, "grace@example.com")
	classID := s.createClass(t, ada)

	if w := s.do(t, http.MethodGet, "/api/classes", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/classes", "garbage", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, fmt.Sprintf("/api/classes/%d/students", classID), grace, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign class: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/teachers", "", map[string]string{
		"name": "Again", "email": "ada@example.com", "password": "analytical",
	}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate registration: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/tokens", "", map[string]string{"email": "ada@example.com", "password": "nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/settings/email/test", ada, map[string]string{"test_email": "me@example.com"}); w.Code != http.StatusPreconditionFailed {
		t.Fatalf("test email without settings: %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"db":true`) {
		t.Fatalf("healthz: %d %s", w.Code, w.Body)
	}
	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestIssueAndParse(t *testing.T) {
	p := services.Principal{TeacherID: 7, Email: "ada@example.com"}
	token, exp, err := Issue(p, "issuer", "key", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) < 59*time.Minute {
		t.Fatalf("expiry too early: %v", exp)
	}

	got, err := Parse(token, "key", "issuer")
	if err != nil || got != p {
		t.Fatalf("Parse = %+v, %v", got, err)
	}
	if _, err := Parse(token, "other-key", "issuer"); err == nil {
		t.Fatal("token accepted with wrong key")
	}
	if _, err := Parse(token, "key", "someone-else"); err == nil {
		t.Fatal("token accepted with wrong issuer")
	}

	expired, _, _ := Issue(p, "issuer", "key", -time.Minute)
	if _, err := Parse(expired, "key", "issuer"); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestTokenBucket(t *testing.T) {
	l := NewTokenBucket(2, 60)
	now := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("other clients are independent")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("one token should refill after a second")
	}
	if l.Allow("a") {
		t.Fatal("only one token refilled")
	}
}
