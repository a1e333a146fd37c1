package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"attendanceTracker/application"
	"attendanceTracker/config"
	"attendanceTracker/logger"
)

func main() {
	logr := logger.GetInstance()

	cfg, err := config.Load()
	if err != nil {
		logr.Fatalf("config load failed: %v", err)
	}

	if err := logr.Initialize(cfg.LogDir, cfg.LogLevel); err != nil {
		logr.Fatalf("logger initialization failed: %v", err)
	}

	logr.Infof("Application starting. LogLevel=%s", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := application.NewApplication()
	if err := app.Configure(ctx, cfg, logr); err != nil {
		logr.Fatalf("application configuration failed: %v", err)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logr.Errorf("application stopped with error: %v", err)
		return
	}

	logr.Info("Application stopped")
}
