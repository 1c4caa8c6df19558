// Package main is the entry point for the enrolment engine worker.
//
// The worker hosts the four enrolment engines and everything that feeds
// them: the event bus consuming enrolment and content-hierarchy events,
// the task queue running dependency checks and structural repairs, and
// the scheduler whose periodic sweeps backstop any event that was lost
// or delivered late. Every path converges on the same store-derived
// truth, so running the worker against an already-consistent database
// changes nothing.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/felipe0410/enrolment-sub004/config"
	"github.com/felipe0410/enrolment-sub004/internal/application/engine"
	"github.com/felipe0410/enrolment-sub004/internal/application/eventhandler"
	"github.com/felipe0410/enrolment-sub004/internal/application/taskhandler"
	"github.com/felipe0410/enrolment-sub004/internal/domain/content"
	"github.com/felipe0410/enrolment-sub004/internal/domain/shared"
	"github.com/felipe0410/enrolment-sub004/internal/infrastructure/messaging"
	"github.com/felipe0410/enrolment-sub004/internal/infrastructure/persistence/postgres"
	"github.com/felipe0410/enrolment-sub004/internal/infrastructure/persistence/redis"
	"github.com/felipe0410/enrolment-sub004/internal/infrastructure/scheduler"
	"github.com/felipe0410/enrolment-sub004/internal/infrastructure/scheduler/jobs"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting enrolment engine worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	var dbConn *postgres.Connection
	if cfg.Database.URL != "" {
		dbConn, err = postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	} else {
		pgCfg := postgres.DefaultConfig()
		pgCfg.Host = cfg.Database.Host
		pgCfg.Port = cfg.Database.Port
		pgCfg.Database = cfg.Database.Name
		pgCfg.User = cfg.Database.User
		pgCfg.Password = cfg.Database.Password
		pgCfg.SSLMode = cfg.Database.SSLMode
		pgCfg.MaxConns = int32(cfg.Database.MaxConns)
		pgCfg.MinConns = int32(cfg.Database.MinConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		dbConn, err = postgres.NewConnection(ctx, pgCfg)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("checking database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	enrolmentRepo := postgres.NewEnrolmentRepository(dbConn)
	planRepo := postgres.NewPlanRepository(dbConn)
	hierarchyRepo := postgres.NewHierarchyRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REDIS (graph cache + cross-instance event fan-out)
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	var graphCache *redis.GraphCache
	var resolver content.Resolver = hierarchyRepo

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...", "addr", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}
			log.Warn("failed to connect to Redis, caching and fan-out disabled", "error", err)
			redisCache = nil
		} else {
			defer func() {
				log.Info("closing Redis connection...")
				_ = redisCache.Close()
			}()
			graphCache = redis.NewGraphCache(hierarchyRepo, redisCache, log)
			resolver = graphCache
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	localBusConfig := messaging.DefaultInMemoryEventBusConfig()
	localBusConfig.Logger = log

	var bus shared.EventBus
	if redisCache != nil {
		pubsub := redis.NewPubSub(redisCache)
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         pubsub,
			ChannelName:    cfg.EventBus.ChannelName,
			InstanceID:     cfg.EventBus.InstanceID,
			LocalBusConfig: localBusConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
		defer func() {
			log.Info("closing event bus...")
			_ = redisBus.Close()
		}()
		bus = redisBus
	} else {
		localBus := messaging.NewInMemoryEventBus(localBusConfig)
		defer func() {
			log.Info("closing event bus...")
			_ = localBus.Close()
		}()
		bus = localBus
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. TASK QUEUE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing task queue...", "workers", cfg.TaskQueue.Workers)
	taskQueue := messaging.NewTaskQueue(messaging.TaskQueueConfig{
		Workers:        cfg.TaskQueue.Workers,
		BufferSize:     cfg.TaskQueue.BufferSize,
		EnqueueTimeout: cfg.TaskQueue.EnqueueTimeout,
		MaxAttempts:    cfg.TaskQueue.MaxAttempts,
		DeadLetterSize: cfg.TaskQueue.DeadLetterSize,
		Logger:         log,
	})
	defer func() {
		log.Info("stopping task queue...")
		taskQueue.Stop()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ENGINES
	// ─────────────────────────────────────────────────────────────────────────
	propagator := engine.NewPropagator(enrolmentRepo, bus, log)
	gate := engine.NewDependencyGate(enrolmentRepo, resolver, taskQueue, bus, log)
	duedates := engine.NewDueDateResolver(enrolmentRepo, planRepo, resolver, bus, log)
	reconciler := engine.NewReconciler(enrolmentRepo, resolver, propagator, log, engine.ReconcilerConfig{
		BatchSize: cfg.Engine.ReconcilerBatchSize,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 10. TASK HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	if err := taskhandler.Register(taskQueue, gate, reconciler, log); err != nil {
		return fmt.Errorf("failed to register task handlers: %w", err)
	}
	taskQueue.Start()

	// ─────────────────────────────────────────────────────────────────────────
	// 11. EVENT SUBSCRIPTIONS
	// ─────────────────────────────────────────────────────────────────────────
	createdHandler := eventhandler.NewOnEnrolmentCreatedHandler(enrolmentRepo, duedates, log)
	changedHandler := eventhandler.NewOnEnrolmentChangedHandler(enrolmentRepo, resolver, propagator, gate, log)
	linkHandler := eventhandler.NewOnLinkChangedHandler(taskQueue, log)
	planHandler := eventhandler.NewOnPlanCreatedHandler(planRepo, duedates, log)

	subscriptions := []struct {
		eventType shared.EventType
		handler   shared.EventHandler
	}{
		{shared.EventEnrolmentCreated, createdHandler.Handle},
		// Updated events decode into the same shape as created ones; both
		// re-run due-date resolution for the enrolment.
		{shared.EventEnrolmentUpdated, createdHandler.Handle},
		{shared.EventEnrolmentStatusChanged, changedHandler.Handle},
		{shared.EventContentLinkChanged, linkHandler.Handle},
		{shared.EventPlanCreated, planHandler.Handle},
	}
	for _, sub := range subscriptions {
		if err := bus.Subscribe(sub.eventType, sub.handler); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", sub.eventType, err)
		}
	}

	// Hierarchy edits invalidate the cached course graph so the
	// reconciliation pass reads current structure, not a stale snapshot.
	if graphCache != nil {
		err := bus.Subscribe(shared.EventContentLinkChanged, func(event shared.Event) error {
			linkEvent, ok := event.(shared.ContentLinkChangedEvent)
			if !ok || linkEvent.CourseID == "" {
				return nil
			}
			if err := graphCache.Invalidate(context.Background(), linkEvent.CourseID); err != nil {
				// Stale entries age out at the cache TTL anyway.
				log.Warn("graph cache invalidation failed", "course_id", linkEvent.CourseID, "error", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe graph invalidation: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 12. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		log.Info("starting scheduler...")
		sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:   log,
			Timezone: cfg.App.Location,
		})

		enablePending := jobs.NewEnablePendingJob(enrolmentRepo, resolver, taskQueue, log, jobs.EnablePendingConfig{
			PageSize: cfg.Scheduler.SweepPageSize,
			MaxPages: cfg.Scheduler.SweepMaxPages,
		})
		checkExpiring := jobs.NewCheckExpiringJob(enrolmentRepo, bus, log, jobs.CheckExpiringConfig{
			Window:   cfg.Scheduler.ExpiryWindow,
			PageSize: cfg.Scheduler.SweepPageSize,
			MaxPages: cfg.Scheduler.SweepMaxPages,
		})
		reconcileCourses := jobs.NewReconcileCoursesJob(hierarchyRepo, taskQueue, log)

		registrations := []struct {
			job      scheduler.Job
			interval scheduler.Schedule
		}{
			{enablePending, scheduler.NewIntervalSchedule(cfg.Scheduler.EnablePendingInterval)},
			{checkExpiring, scheduler.NewIntervalSchedule(cfg.Scheduler.CheckExpiringInterval)},
			{reconcileCourses, scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileCoursesInterval)},
		}
		for _, reg := range registrations {
			if err := sched.Register(reg.job, reg.interval); err != nil {
				return fmt.Errorf("failed to register job %s: %w", reg.job.Name(), err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	} else {
		log.Warn("scheduler disabled, convergence sweeps will not run")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("enrolment engine worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging from observability settings.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Observability.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
