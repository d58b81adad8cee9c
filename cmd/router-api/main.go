package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/audit"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel/telegram"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel/whatsapp"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/events"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/metrics"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/ratelimit"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/scheduler"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/tenant"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/handlers"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/repositories"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/services"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/shared/config"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/shared/database"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/shared/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := utils.InitLogger("development", "info")
		bootLogger.Fatal().Err(err).Msg("❌ Invalid configuration")
	}
	logger := utils.InitLogger(cfg.Env, cfg.LogLevel)
	logger.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("🚀 Starting router-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store and audit sink
	store, auditSink, closeDB := openStore(cfg, logger)
	defer closeDB()

	if cfg.SeedFile != "" {
		platforms, automations, err := repositories.LoadSeed(ctx, store, cfg.SeedFile)
		if err != nil {
			logger.Fatal().Err(err).Str("file", cfg.SeedFile).Msg("❌ Failed to load seed file")
		}
		logger.Info().Int("platforms", platforms).Int("automations", automations).Msg("🌱 Seed loaded")
	}

	auditService := audit.NewService(auditSink, logger)

	// Channel adapters
	registry := channel.NewRegistry()
	registry.MustRegister(whatsapp.New(whatsapp.Config{
		BaseURL:    cfg.WhatsAppAPIBaseURL,
		APIVersion: cfg.WhatsAppAPIVersion,
	}))
	tg := telegram.New(telegram.Config{
		Endpoint: cfg.TelegramEndpoint,
		BotTTL:   cfg.TelegramBotTTL,
		Timeout:  cfg.SendTimeout,
	})
	registry.MustRegister(tg)
	logger.Info().Interface("platforms", registry.Types()).Msg("📱 Channel adapters registered")

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if limiter.Unlimited() {
		logger.Warn().Msg("⚠️ RATE_LIMIT_RPS <= 0, automated sends are not rate limited")
	}

	// Event bus
	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		js, err := events.Connect(ctx, events.Config{
			URL:           cfg.NATSURL,
			Token:         cfg.NATSToken,
			SubjectPrefix: cfg.NATSSubjectPrefix,
			StreamName:    "ROUTER_EVENTS",
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("❌ Failed to connect to NATS")
		}
		publisher = js
	} else {
		logger.Warn().Msg("⚠️ NATS_URL not set, events are not published")
	}
	defer publisher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	breakers := channel.NewBreakerSet(cfg.BreakerMaxFailures, cfg.BreakerOpenTimeout)
	dispatcher := services.NewDispatcher(services.DispatcherDeps{
		Store:       store,
		Registry:    registry,
		Breakers:    breakers,
		Tenants:     tenant.NewResolver(store, cfg.RouteCacheTTL),
		Limiter:     limiter,
		Auditor:     auditService,
		Events:      publisher,
		Logger:      logger,
		SendTimeout: cfg.SendTimeout,
		Concurrency: cfg.BatchConcurrency,
	})
	conversationService := services.NewConversationService(store, auditService, logger)

	// Maintenance jobs
	sched := scheduler.New(logger, time.Minute)
	mustAddJob(logger, sched, "audit-retention", "@daily", func(ctx context.Context) error {
		_, err := auditService.DeleteOldLogs(ctx, cfg.AuditRetentionDays)
		return err
	})
	mustAddJob(logger, sched, "cache-sweep", cfg.MaintenanceSchedule, func(context.Context) error {
		bots := tg.Sweep()
		buckets := limiter.Sweep(time.Hour)
		logger.Debug().Int("telegram_bots", bots).Int("rate_buckets", buckets).Msg("🧹 caches swept")
		return nil
	})
	sched.Start()

	app := fiber.New(fiber.Config{
		AppName:               "Chat Router API",
		DisableStartupMessage: cfg.IsProduction(),
	})
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	handlers.RegisterRoutes(app, handlers.Handlers{
		Webhook:      handlers.NewWebhookHandler(dispatcher, logger),
		Conversation: handlers.NewConversationHandler(conversationService),
		Health:       handlers.NewHealthHandler(store, registry, breakers),
		Audit:        handlers.NewAuditHandler(auditService),
		Gatherer:     reg,
	})

	go func() {
		logger.Info().Msgf("✅ router-api running at :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error().Err(err).Msg("❌ HTTP server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("🛑 Shutting down router-api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("❌ HTTP shutdown failed")
	}
	sched.Stop(shutdownCtx)
	// replies still in flight were acknowledged to the platform already
	dispatcher.Wait()
	auditService.Wait()
}

func openStore(cfg *config.Config, logger zerolog.Logger) (repositories.Store, audit.Sink, func()) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn().Msg("⚠️ Using in-memory store, data is lost on restart")
		return repositories.NewMemoryStore(), audit.NewLogSink(logger), func() {}

	case config.DriverSQLite:
		db, err := database.NewSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("❌ Failed to open SQLite")
		}
		if err := repositories.AutoMigrate(db.GORM); err != nil {
			logger.Fatal().Err(err).Msg("❌ Failed to migrate SQLite schema")
		}
		if err := db.GORM.AutoMigrate(&audit.AuditLog{}); err != nil {
			logger.Fatal().Err(err).Msg("❌ Failed to migrate audit schema")
		}
		return repositories.NewGormStore(db.GORM), audit.NewGormSink(db.GORM), func() { _ = db.Close() }

	default:
		// schema is owned by cmd/migrate
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("❌ Failed to connect to Postgres")
		}
		return repositories.NewGormStore(db.GORM), audit.NewGormSink(db.GORM), func() { _ = db.Close() }
	}
}

func mustAddJob(logger zerolog.Logger, s *scheduler.Scheduler, name, schedule string, job func(ctx context.Context) error) {
	if err := s.AddJob(name, schedule, job); err != nil {
		logger.Fatal().Err(err).Str("job", name).Msg("❌ Failed to schedule job")
	}
}
