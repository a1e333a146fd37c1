package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"attendanceTracker/config"
	"attendanceTracker/logger"
	"attendanceTracker/metrics"
	"attendanceTracker/services"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Accounts   *services.AccountService
	Roster     *services.RosterService
	Importer   *services.Importer
	Attendance *services.AttendanceService
	Exporter   *services.Exporter
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
	HTTP       config.HTTPConfig
	Auth       config.AuthConfig
	Import     config.ImportConfig
	Checks     map[string]HealthCheck
}

type handler struct {
	Deps
	today func() time.Time
}

// NewRouter builds the JSON API.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = logger.GetInstance()
	}
	h := &handler{Deps: d, today: time.Now}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    d.Logger.Writer(),
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(securityHeaders())
	if d.HTTP.RateLimitPerMin > 0 {
		r.Use(NewTokenBucket(d.HTTP.RateLimitPerMin, d.HTTP.RateLimitPerMin).GinMiddleware())
	}
	r.MaxMultipartMemory = 8 << 20

	r.GET("/healthz", h.health)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	r.POST("/api/teachers", h.register)
	r.POST("/api/tokens", h.login)

	api := r.Group("/api", TeacherAuth(d.Auth.SigningKey, d.Auth.Issuer))
	{
		api.GET("/me", h.me)
		api.PUT("/me", h.updateProfile)
		api.GET("/dashboard", h.dashboard)

		api.GET("/classes", h.listClasses)
		api.POST("/classes", h.createClass)
		api.DELETE("/classes/:classID", h.deleteClass)

		api.GET("/classes/:classID/students", h.listStudents)
		api.POST("/classes/:classID/students", h.addStudent)
		api.POST("/classes/:classID/students/import", h.importStudents)

		api.GET("/classes/:classID/attendance", h.sheet)
		api.POST("/classes/:classID/attendance", h.markAttendance)
		api.GET("/classes/:classID/export", h.export)
		api.GET("/history", h.history)

		api.GET("/settings/email", h.mailStatus)
		api.PUT("/settings/email", h.updateMailSettings)
		api.POST("/settings/email/test", h.testEmail)
		api.PUT("/settings/max", h.linkMax)
		api.DELETE("/settings/max", h.unlinkMax)
	}

	return r
}

func (h *handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	result := gin.H{"status": "ok"}
	for name, check := range h.Checks {
		healthy := check(ctx) == nil
		result[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			result["status"] = "degraded"
		}
	}
	c.JSON(status, result)
}

// respondError maps service errors onto HTTP statuses. Unknown errors are
// logged and hidden from the client.
func (h *handler) respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	var fatal *services.FatalImportError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
	case errors.As(err, &fatal):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fatal.Error()})
	case errors.Is(err, services.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrClassNotFound),
		errors.Is(err, services.ErrTeacherNotFound),
		errors.Is(err, services.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, services.ErrDuplicateStudent),
		errors.Is(err, services.ErrMaxAccountTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrMailNotConfigured):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	default:
		h.Logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func classID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("classID"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class id"})
		return 0, false
	}
	return id, true
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
