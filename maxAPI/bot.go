package maxAPI

import (
	"context"
	"net/http"
	"sync"
	"time"

	maxbot "github.com/max-messenger/max-bot-api-client-go"
	"github.com/max-messenger/max-bot-api-client-go/schemes"

	"attendanceTracker/config"
	"attendanceTracker/logger"
	"attendanceTracker/services"
)

// Services are the operations the bot exposes to linked teachers.
type Services struct {
	Accounts   *services.AccountService
	Roster     *services.RosterService
	Importer   *services.Importer
	Attendance *services.AttendanceService
	Exporter   *services.Exporter
}

type Bot struct {
	MaxBot *schemes.BotInfo
	MaxAPI *maxbot.Api
	logger *logger.Logger
	svc    Services
	client *http.Client

	uploadDir      string
	maxUploadBytes int64

	// pendingUploads maps a Max user to the class awaiting a roster file.
	pendingUploads    map[int64]int64
	processedMessages map[string]bool
	uploadCounter     map[int64]int
	drafts            *draftBook
	today             func() time.Time
	mu                sync.Mutex
}

func NewBot(ctx context.Context, cfg *config.MaxConfig, imp config.ImportConfig, svc Services, log *logger.Logger) (*Bot, error) {
	api, err := maxbot.New(cfg.Token)
	if err != nil && err.Error() != "" {
		log.Errorf("failed to create max api: %v", err)
		return nil, err
	}

	maxBot, err := api.Bots.GetBot(ctx)
	if err != nil && err.Error() != "" {
		log.Errorf("failed to get bot info: %v", err)
		return nil, err
	}

	return &Bot{
		MaxBot:            maxBot,
		MaxAPI:            api,
		logger:            log,
		svc:               svc,
		client:            &http.Client{Timeout: time.Minute},
		uploadDir:         imp.UploadDir,
		maxUploadBytes:    imp.MaxUploadMB << 20,
		pendingUploads:    make(map[int64]int64),
		processedMessages: make(map[string]bool),
		uploadCounter:     make(map[int64]int),
		drafts:            newDraftBook(),
		today:             time.Now,
	}, nil
}

// Start consumes updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("Max bot started")
	go func() {
		for upd := range b.MaxAPI.GetUpdates(ctx) {
			b.logger.Debugf("Received update type: %T", upd)

			switch u := upd.(type) {
			case *schemes.BotStartedUpdate:
				b.handleBotStarted(ctx, u)
			case *schemes.MessageCreatedUpdate:
				b.handleMessageCreated(ctx, u)
			case *schemes.MessageCallbackUpdate:
				b.handleCallback(ctx, u)
			default:
				b.logger.Debugf("Unhandled update type: %T", upd)
			}
		}
	}()
}
