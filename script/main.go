// Command script checks an SMTP account from SMTP_* environment variables
// and optionally sends a test message.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"attendanceTracker/mailer"
)

type Config struct {
	Server   string        `env:"SMTP_SERVER" envDefault:"smtp.gmail.com"`
	Port     int           `env:"SMTP_PORT" envDefault:"587"`
	Username string        `env:"SMTP_USERNAME"`
	Password string        `env:"SMTP_PASSWORD"`
	Timeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"15s"`
}

func main() {
	to := flag.String("to", "", "send a test message to this address after verifying")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load("../.env"); err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to get .env %v", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("Failed to get cfg %v", err)
	}

	if cfg.Username == "" || cfg.Password == "" {
		log.Fatal("SMTP credentials not configured")
	}

	settings := mailer.Settings{
		Server:   cfg.Server,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.Timeout,
	}

	checkCtx, stop := context.WithTimeout(ctx, cfg.Timeout)
	defer stop()
	if err := mailer.Verify(checkCtx, settings); err != nil {
		log.Fatalf("Email configuration error: %v", err)
	}
	log.Println("Email configuration is valid")

	if *to == "" {
		return
	}

	tr, err := mailer.NewSMTP(settings)
	if err != nil {
		log.Fatalf("Email configuration error: %v", err)
	}
	msg := mailer.TestMessage(mailer.TestNotice{Recipient: *to, Server: cfg.Server, Port: cfg.Port, From: cfg.Username, SentAt: time.Now()})

	sendCtx, stopSend := context.WithTimeout(ctx, cfg.Timeout)
	defer stopSend()
	if err := tr.Send(sendCtx, msg); err != nil {
		log.Fatalf("Failed to send test email: %v", err)
	}
	log.Printf("Test email sent successfully to %s", *to)
}
