package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grabbit/internal/event"
	"grabbit/internal/job"
	"grabbit/internal/settings"
	"grabbit/internal/status"
	"grabbit/pkg/logger"
	"grabbit/pkg/sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var log = logger.Get("Telegram")

// Minimum time between progress-message edits; Telegram's API punishes
// rapid edit bursts with 429s.
const editInterval = time.Second * 2

type (
	Config struct {
		Token      string  `yaml:"token" env:"TELEGRAM_TOKEN" env-required:"true"`
		AllowedIDs []int64 `yaml:"allowed_ids" env:"TELEGRAM_ALLOWED_IDS"`
	}

	// trackedJob links an in-flight job to the chat progress message the
	// gateway edits as the job moves through its stages.
	trackedJob struct {
		chatID    int64
		messageID int
		lastText  string
		lastEdit  time.Time
	}

	// videoRef remembers the most recent video attachment seen in a chat
	// so that a bare v2g/v2mp3 command can target it without a reply.
	videoRef struct {
		fileID   string
		filename string
	}

	// Gateway drives the Telegram bot: it long-polls for updates, parses
	// commands into job submissions or settings changes, and relays job
	// progress and results back to the originating chat.
	Gateway struct {
		bot      *tgbotapi.BotAPI
		config   Config
		jobs     job.Service
		settings *settings.Service
		status   *status.Service
		eventCh  event.HandlerChannel

		rateLimiters sync.TypedSyncMap[int64, *rate.Limiter]
		tracked      sync.TypedSyncMap[uuid.UUID, *trackedJob]
		recentVideos sync.TypedSyncMap[int64, *videoRef]
	}
)

// botLogger funnels tgbotapi's internal logging through pkg/logger so the
// library's chatter obeys the debug setting like everything else.
type botLogger struct{}

func (botLogger) Println(v ...interface{}) { log.Emit(logger.DEBUG, "%s", fmt.Sprintln(v...)) }
func (botLogger) Printf(format string, v ...interface{}) {
	log.Emit(logger.DEBUG, format+"\n", v...)
}

func New(config Config, jobService job.Service, settingsService *settings.Service, statusService *status.Service, eventBus event.EventHandler) (*Gateway, error) {
	if err := tgbotapi.SetLogger(botLogger{}); err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(config.Token)
	if err != nil {
		return nil, err
	}

	eventCh := make(event.HandlerChannel, 100)
	eventBus.RegisterHandlerChannel(eventCh, event.JobUpdateEvent, event.JobCompleteEvent)

	return &Gateway{
		bot:      bot,
		config:   config,
		jobs:     jobService,
		settings: settingsService,
		status:   statusService,
		eventCh:  eventCh,
	}, nil
}

// Run starts the long-polling loop, blocking until the context is
// cancelled or the updates channel closes.
func (gateway *Gateway) Run(ctx context.Context) error {
	log.Emit(logger.INFO, "Telegram gateway connected as @%s\n", gateway.bot.Self.UserName)

	go gateway.deliverLoop(ctx)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := gateway.bot.GetUpdatesChan(updateConfig)

	go func() {
		<-ctx.Done()
		gateway.bot.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go gateway.handleMessage(ctx, update.Message)
	}

	return shutdownError(ctx)
}

// shutdownError decides what Run reports once the updates channel closes:
// nil when the channel closed because the context was cancelled (a normal
// shutdown), an error when Telegram dropped the stream on its own.
func shutdownError(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	return fmt.Errorf("telegram update stream closed unexpectedly")
}

func (gateway *Gateway) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	if ref := videoFromMessage(message); ref != nil {
		gateway.recentVideos.Store(chatID, ref)
	}

	text := strings.TrimSpace(message.Text)
	if text == "" {
		text = strings.TrimSpace(message.Caption)
	}
	if text == "" {
		return
	}

	command, args := splitCommand(text, gateway.bot.Self.UserName)
	if command == "" {
		return
	}

	if message.From == nil || !gateway.isAllowed(message.From.ID) {
		gateway.sendText(chatID, "You are not authorized to use this bot.")
		return
	}

	if !gateway.allowRequest(message.From.ID) {
		gateway.sendText(chatID, "Too many requests. Please wait a moment.")
		return
	}

	switch command {
	case "c", "cobalt":
		gateway.handleCobalt(ctx, message, args)
	case "cg", "cobaltgif":
		if gateway.handleConfigSubcommand(ctx, message, args) {
			return
		}
		gateway.handleGif(message, args)
	case "v2g":
		if gateway.handleConfigSubcommand(ctx, message, args) {
			return
		}
		gateway.handleVideoToGif(message, args)
	case "v2mp3":
		if gateway.handleConfigSubcommand(ctx, message, args) {
			return
		}
		gateway.handleVideoToAudio(message, args)
	case "help", "start":
		gateway.sendText(chatID, usageText)
	}
}

// isAllowed checks the configured allowlist. An empty allowlist denies
// everyone rather than opening the bot to the world.
func (gateway *Gateway) isAllowed(userID int64) bool {
	for _, id := range gateway.config.AllowedIDs {
		if id == userID {
			return true
		}
	}

	return false
}

func (gateway *Gateway) allowRequest(userID int64) bool {
	limiter, _ := gateway.rateLimiters.LoadOrStore(userID, rate.NewLimiter(rate.Limit(1.0), 5))
	return limiter.Allow()
}

func (gateway *Gateway) sendText(chatID int64, text string) {
	if _, err := gateway.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Emit(logger.ERROR, "Failed to send message to chat %d: %v\n", chatID, err)
	}
}

// trackJob sends the initial progress message for a newly queued job and
// records its message ID so later status updates can edit it in place.
func (gateway *Gateway) trackJob(queued *job.Job, text string) {
	sent, err := gateway.bot.Send(tgbotapi.NewMessage(queued.ChatID(), text))
	if err != nil {
		log.Emit(logger.ERROR, "Failed to send progress message for job %s: %v\n", queued.ID(), err)
		return
	}

	gateway.tracked.Store(queued.ID(), &trackedJob{
		chatID:    queued.ChatID(),
		messageID: sent.MessageID,
		lastText:  text,
		lastEdit:  time.Now(),
	})
}

func videoFromMessage(message *tgbotapi.Message) *videoRef {
	if message.Video != nil {
		return &videoRef{fileID: message.Video.FileID, filename: videoFilename(message.Video.FileName)}
	}

	if message.Animation != nil {
		return &videoRef{fileID: message.Animation.FileID, filename: videoFilename(message.Animation.FileName)}
	}

	if message.Document != nil && strings.HasPrefix(message.Document.MimeType, "video/") {
		return &videoRef{fileID: message.Document.FileID, filename: videoFilename(message.Document.FileName)}
	}

	return nil
}

func videoFilename(name string) string {
	if name == "" {
		return "input_video.mp4"
	}

	return name
}

// splitCommand extracts the command word (sans slash prefix and @botname
// suffix) and the remaining argument string.
func splitCommand(text string, botName string) (string, string) {
	fields := strings.SplitN(text, " ", 2)
	command := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	command = strings.TrimSuffix(command, "@"+strings.ToLower(botName))

	args := ""
	if len(fields) > 1 {
		args = strings.TrimSpace(fields[1])
	}

	return command, args
}
