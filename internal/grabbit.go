package internal

import (
	"context"
	"fmt"
	"sync"

	"grabbit/internal/api"
	"grabbit/internal/database"
	"grabbit/internal/event"
	"grabbit/internal/fetch"
	"grabbit/internal/gifsicle"
	"grabbit/internal/http/cobalt"
	"grabbit/internal/http/litterbox"
	"grabbit/internal/job"
	"grabbit/internal/settings"
	"grabbit/internal/status"
	"grabbit/internal/telegram"
	"grabbit/pkg/logger"
)

var log = logger.Get("Core")

type RunnableService interface {
	Run(context.Context) error
}

// grabbitImpl is the top-level object for the bot: it owns the database
// connection, the event bus, the job pipeline and both gateways, and is
// responsible for wiring them together and running them.
type grabbitImpl struct {
	config   GrabbitConfig
	eventBus event.EventCoordinator

	db            database.Manager
	settingsStore *settings.Store
	historyStore  *job.Store

	jobService      job.Service
	statusService   *status.Service
	settingsService *settings.Service
	restGateway     RunnableService
	telegramGateway RunnableService
}

func New(config GrabbitConfig) *grabbitImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Grabbit services using config: %#v\n", config)

	return &grabbitImpl{
		config:        config,
		eventBus:      event.New(),
		db:            database.New(),
		settingsStore: settings.NewStore(config.DefaultDownloadDir()),
		historyStore:  job.NewStore(),
	}
}

// Run brings up the database, stores and services, then blocks until the
// provided context is cancelled or a service crashes.
func (grabbit *grabbitImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := grabbit.db.Connect(grabbit.config.Database); err != nil {
		return err
	}

	if err := grabbit.settingsStore.Seed(grabbit.db.GetSqlxDb()); err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}

	if err := grabbit.initialiseServices(); err != nil {
		return err
	}

	// Debug setting drives logger verbosity; apply at boot and keep in
	// sync with runtime changes.
	grabbit.applyDebugSetting()
	grabbit.eventBus.RegisterAsyncHandlerFunction(event.SettingsUpdateEvent, func(_ event.Event, payload event.Payload) {
		if key, ok := payload.(string); ok && key == settings.KeyDebug {
			grabbit.applyDebugSetting()
		}
	})

	wg := &sync.WaitGroup{}
	grabbit.spawnAsyncService(ctx, wg, grabbit.jobService, "job-service", crashHandler)
	grabbit.spawnAsyncService(ctx, wg, grabbit.restGateway, "rest-gateway", crashHandler)
	grabbit.spawnAsyncService(ctx, wg, grabbit.telegramGateway, "telegram-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Grabbit services spawned!\n")

	wg.Wait()
	return nil
}

func (grabbit *grabbitImpl) initialiseServices() error {
	db := grabbit.db.GetSqlxDb()

	cobaltClient := cobalt.NewClient(fetch.DefaultUserAgent)
	downloader := fetch.NewDownloader(fetch.DefaultUserAgent)
	uploader := litterbox.NewClient()
	converter := job.NewFfmpegConverter(grabbit.config.Ffmpeg)
	optimizer := gifsicle.New(grabbit.config.Gifsicle)

	grabbit.jobService = job.New(
		grabbit.config.Jobs,
		grabbit.eventBus,
		db,
		grabbit.settingsStore,
		grabbit.historyStore,
		cobaltClient,
		downloader,
		uploader,
		converter,
		optimizer,
	)

	grabbit.settingsService = settings.NewService(db, grabbit.settingsStore, grabbit.eventBus)
	grabbit.statusService = status.New(db, grabbit.settingsStore, cobaltClient, grabbit.config.Ffmpeg, optimizer)

	grabbit.restGateway = api.NewRestGateway(
		&grabbit.config.API,
		grabbit.jobService,
		grabbit.statusService,
		grabbit.settingsService,
		grabbit.eventBus,
	)

	telegramGateway, err := telegram.New(
		grabbit.config.Telegram,
		grabbit.jobService,
		grabbit.settingsService,
		grabbit.statusService,
		grabbit.eventBus,
	)
	if err != nil {
		return fmt.Errorf("failed to construct telegram gateway: %w", err)
	}
	grabbit.telegramGateway = telegramGateway

	return nil
}

func (grabbit *grabbitImpl) applyDebugSetting() {
	snapshot, err := grabbit.settingsStore.Snapshot(grabbit.db.GetSqlxDb())
	if err != nil {
		log.Emit(logger.WARNING, "Failed to read settings while applying debug level: %v\n", err)
		return
	}

	if snapshot.Debug {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	} else {
		logger.SetMinLoggingLevel(logger.INFO.Level())
	}
}

// spawnAsyncService runs the provided service in its own goroutine,
// reporting a crash (error return or panic) to the crash handler.
func (grabbit *grabbitImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
