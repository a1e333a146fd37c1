package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"attendanceTracker/claims"
	"attendanceTracker/config"
	"attendanceTracker/database"
	"attendanceTracker/httpapi"
	"attendanceTracker/logger"
	"attendanceTracker/mailer"
	"attendanceTracker/maxAPI"
	"attendanceTracker/metrics"
	"attendanceTracker/secrets"
	"attendanceTracker/services"
)

type Application struct {
	Bot    *maxAPI.Bot
	Store  *database.Store
	Server *http.Server

	redis  *redis.Client
	cfg    *config.Config
	logger *logger.Logger
}

func NewApplication() *Application {
	return &Application{}
}

func (app *Application) Configure(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	app.cfg = cfg
	app.logger = log

	db, err := database.OpenDB(&cfg.Database)
	if err != nil {
		return err
	}
	app.Store = database.NewStore(db)

	if err := app.configure(ctx); err != nil {
		app.Close()
		return err
	}
	return nil
}

func (app *Application) configure(ctx context.Context) error {
	cfg, log := app.cfg, app.logger
	m := metrics.New()

	vault, err := secrets.NewVault(app.Store.Secrets, cfg.Secrets.Key)
	if err != nil {
		return err
	}
	vaultChain := secrets.Chain{Vault: vault}

	claimer, err := app.claimer(ctx)
	if err != nil {
		return err
	}

	dispatcher := services.NewDispatcher(services.DispatcherConfig{
		Store:       app.Store.Attendance,
		Transports:  mailer.NewSMTP,
		Secrets:     vaultChain,
		Claims:      claimer,
		SendTimeout: cfg.Mail.SendTimeout,
		Logger:      log,
		Metrics:     m,
	})

	svc := maxAPI.Services{
		Accounts:   services.NewAccountService(app.Store, vaultChain, mailer.NewSMTP, cfg.Mail.SendTimeout, log),
		Roster:     services.NewRosterService(app.Store, log),
		Importer:   services.NewImporter(app.Store, log, m),
		Attendance: services.NewAttendanceService(app.Store, services.NewReconciler(app.Store, log, m), dispatcher, log),
		Exporter:   services.NewExporter(app.Store),
	}

	checks := map[string]httpapi.HealthCheck{
		"database": func(ctx context.Context) error { return app.Store.DB().PingContext(ctx) },
	}
	if app.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return app.redis.Ping(ctx).Err() }
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Accounts:   svc.Accounts,
		Roster:     svc.Roster,
		Importer:   svc.Importer,
		Attendance: svc.Attendance,
		Exporter:   svc.Exporter,
		Metrics:    m,
		Logger:     log,
		HTTP:       cfg.HTTP,
		Auth:       cfg.Auth,
		Import:     cfg.Import,
		Checks:     checks,
	})
	app.Server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.MaxAPI.Token == "" {
		log.Info("MAX_TOKEN is empty, messenger bot disabled")
		return nil
	}
	b, err := maxAPI.NewBot(ctx, &cfg.MaxAPI, cfg.Import, svc, log)
	if err != nil {
		return err
	}
	app.Bot = b
	return nil
}

// claimer uses Redis when an address is configured so that several instances
// share notification claims; otherwise claims live in this process.
func (app *Application) claimer(ctx context.Context) (claims.Claimer, error) {
	rc := app.cfg.Redis
	if rc.Addr == "" {
		app.logger.Info("REDIS_ADDR is empty, notification claims kept in memory")
		return claims.NewMemory(rc.ClaimTTL), nil
	}

	client, err := claims.Connect(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	app.redis = client
	app.logger.Infof("Notification claims stored in redis at %s", rc.Addr)
	return claims.NewRedis(client, rc.ClaimTTL)
}

// Run serves HTTP and the bot until ctx is cancelled, then shuts down.
func (app *Application) Run(ctx context.Context) error {
	if app.Bot != nil {
		app.Bot.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Infof("HTTP server listening on %s", app.Server.Addr)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (app *Application) Close() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warnf("Failed to close redis client: %v", err)
		}
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.logger.Warnf("Failed to close database: %v", err)
		}
	}
}
