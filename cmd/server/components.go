package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/config"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/ports"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/services"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/domain"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/channels"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/db"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/memory"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/redisstore"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/handlers"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/ws"
	"gorm.io/gorm"
)

// components holds everything the server wires together.
type components struct {
	log           *logger.Logger
	storage       string
	database      *gorm.DB
	redis         *redis.Client
	bus           *services.EventBus
	hub           *ws.Hub
	engine        *services.RuleEngine
	dispatcher    *services.RuleDispatcher
	watcher       *services.RuleWatcher
	notifications *services.NotificationManager
	limiter       *services.RateLimiter
	preferences   *services.PreferenceService
	progress      *services.ProgressManager
}

func buildComponents(ctx context.Context, cfg *config.Config, log *logger.Logger) (*components, error) {
	comp := &components{log: log, storage: cfg.Database.Driver}

	var (
		taskRepo         ports.TaskProgressRepository
		notificationRepo ports.NotificationRepository
		preferenceRepo   ports.PreferenceRepository
	)
	switch cfg.Database.Driver {
	case "memory":
		taskRepo = memory.NewTaskRepository()
		notificationRepo = memory.NewNotificationRepository()
		preferenceRepo = memory.NewPreferenceRepository()
	default:
		database, err := db.Open(cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		log.Info("database connection established")
		if err := db.RunMigrations(database); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database migrations completed")
		comp.database = database
		taskRepo = db.NewTaskProgressRepository(database, log.Named("db"))
		notificationRepo = db.NewNotificationRepository(database, log.Named("db"))
		preferenceRepo = db.NewPreferenceRepository(database, log.Named("db"))
	}

	if cfg.Redis.Enabled {
		client, err := redisstore.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		comp.redis = client
		taskRepo = redisstore.NewTaskRepository(client, cfg.Redis.KeyPrefix, log.Named("redis"))
		comp.storage += "+redis"
	}

	comp.bus = services.NewEventBus(services.EventBusConfig{
		MaxHandlersPerType: cfg.Events.MaxHandlersPerType,
		PublishTimeout:     cfg.Events.PublishTimeout,
		Logger:             log.Named("events"),
	})
	comp.hub = ws.NewHub(log.Named("ws"))
	comp.engine = services.NewRuleEngine(services.RuleEngineConfig{Logger: log.Named("rules")})

	comp.limiter = services.NewRateLimiter(rateLimits(cfg.Notifications.RateLimits), nil)
	comp.notifications = services.NewNotificationManager(services.NotificationManagerConfig{
		Repo:        notificationRepo,
		Broadcaster: comp.hub,
		Senders:     channels.DefaultSenders(log.Named("channels")),
		Router:      services.NewSmartRouter(nil),
		RateLimiter: comp.limiter,
		Bus:         comp.bus,
		MaxRetries:  cfg.Notifications.MaxRetries,
		Logger:      log.Named("notifications"),
	})

	comp.preferences = services.NewPreferenceService(services.PreferenceServiceConfig{
		Repo:        preferenceRepo,
		Target:      comp.notifications,
		EnableLocks: cfg.Features.EnableLocks,
		Logger:      log.Named("preferences"),
	})
	if _, err := comp.preferences.Restore(ctx); err != nil {
		return nil, err
	}

	comp.progress = services.NewProgressManager(services.ProgressManagerConfig{
		Repo:         taskRepo,
		Broadcaster:  comp.hub,
		Bus:          comp.bus,
		CacheMaxSize: cfg.Progress.CacheMaxSize,
		CacheTTL:     cfg.Progress.CacheTTL,
		EnableLocks:  cfg.Features.EnableLocks,
		Logger:       log.Named("progress"),
	})
	restored, err := comp.progress.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore tasks: %w", err)
	}
	log.Infow("tasks_restored", "count", restored)

	comp.dispatcher = services.NewRuleDispatcher(services.RuleDispatcherConfig{
		Engine:   comp.engine,
		Notifier: comp.notifications,
		Logger:   log.Named("dispatcher"),
	})
	if _, err := comp.dispatcher.Register(comp.bus); err != nil {
		return nil, fmt.Errorf("register rule dispatcher: %w", err)
	}

	if cfg.Rules.File != "" {
		comp.watcher = services.NewRuleWatcher(cfg.Rules.File, comp.engine, log.Named("rules"))
	}
	return comp, nil
}

func rateLimits(raw map[string]config.RateLimitConfig) map[domain.NotificationPriority]services.RateLimit {
	out := make(map[domain.NotificationPriority]services.RateLimit, len(raw))
	for tier, l := range raw {
		out[domain.NotificationPriority(tier)] = services.RateLimit{Limit: l.Limit, Window: l.Window}
	}
	return out
}

// start launches the background loops. A broken rules file is logged and
// leaves the engine empty rather than stopping the server.
func (c *components) start(ctx context.Context, cfg *config.Config) {
	if c.watcher != nil {
		var err error
		if cfg.Rules.Watch {
			err = c.watcher.Start(ctx)
		} else {
			_, err = c.watcher.Reload()
		}
		if err != nil {
			c.log.Errorw("rules_load_failed", "path", cfg.Rules.File, "error", err)
		}
	}

	retryInterval := cfg.Notifications.RetryInterval
	if retryInterval <= 0 {
		retryInterval = time.Minute
	}
	c.notifications.StartRetryLoop(ctx, retryInterval, cfg.Notifications.RetryMaxAge)
	c.limiter.StartPruneLoop(ctx, cfg.Notifications.PruneInterval)
	c.progress.StartCleanupLoop(ctx, cfg.Progress.CleanupInterval, cfg.Progress.Retention)
}

// reloader returns nil when no rules file is configured so the handler can
// report it.
func (c *components) reloader() handlers.RuleReloader {
	if c.watcher == nil {
		return nil
	}
	return c.watcher
}

func (c *components) close(log *logger.Logger) {
	c.dispatcher.Close()
	if c.watcher != nil {
		if err := c.watcher.Close(); err != nil {
			log.Errorf("failed to close rules watcher: %v", err)
		}
	}
	c.hub.Close()
	c.bus.Close()
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			log.Errorf("failed to close redis client: %v", err)
		}
	}
	if c.database != nil {
		if err := db.Close(c.database); err != nil {
			log.Errorf("failed to close database connection: %v", err)
		}
	}
}
