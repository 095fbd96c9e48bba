// Package app wires configuration into the engine's components. Both
// binaries build on it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyengine/internal/config"
	"notifyengine/internal/dedup"
	"notifyengine/internal/dispatcher"
	"notifyengine/internal/events"
	"notifyengine/internal/httpserver"
	"notifyengine/internal/push"
	"notifyengine/internal/repository"
	"notifyengine/internal/repository/memory"
	"notifyengine/internal/retry"
	"notifyengine/internal/rules"
	"notifyengine/internal/scheduler"
	"notifyengine/internal/templating"
	"notifyengine/internal/trigger"
	"notifyengine/pkg/circuitbreaker"
	"notifyengine/pkg/db"
	"notifyengine/pkg/mq"
	"notifyengine/pkg/redis"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverHTTP     = "http"
	DriverLog      = "log"

	RulesStatic = "static"
	RulesStore  = "store"
)

// Components holds every long-lived object of a process.
type Components struct {
	Config *config.Config
	Logger *zap.Logger

	Pool      *pgxpool.Pool
	Redis     *goredis.Client
	Publisher *mq.Publisher

	Notifications repository.NotificationStore
	Rules         repository.RuleStore
	Attempts      repository.AttemptStore
	DeadLetters   repository.DeadLetterStore
	History       repository.HistoryStore
	Users         repository.UserDirectory

	Catalog   rules.Catalog
	Dedup     dedup.Store
	Scheduler *scheduler.Scheduler
	Adapter   *trigger.Adapter
	Retry     *retry.Manager
	Mirror    events.Mirror

	asyncMirror *events.AsyncMirror
}

// Build opens the configured backends and assembles the components. On
// error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger, Mirror: events.NopMirror{}}
	if err := c.build(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context) error {
	if err := c.buildStorage(ctx); err != nil {
		return err
	}
	if err := c.buildCatalog(ctx); err != nil {
		return err
	}
	if err := c.buildDedup(); err != nil {
		return err
	}
	if err := c.buildMirror(); err != nil {
		return err
	}

	c.Scheduler = scheduler.NewScheduler(c.Catalog, c.Notifications, c.Dedup, c.Logger).
		WithDedupFloor(c.Config.Dedup.TTLFloor)
	c.Adapter = trigger.NewAdapter(c.Scheduler, c.Logger).WithMirror(c.Mirror)
	c.Retry = retry.NewManager(c.Config.Retry, c.Notifications, c.Attempts, c.DeadLetters, c.Logger).
		WithMirror(c.Mirror)
	return nil
}

func (c *Components) buildStorage(ctx context.Context) error {
	switch c.Config.Storage.Driver {
	case DriverPostgres:
		pool, err := db.NewConnection(ctx, c.Config.DB, c.Logger)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		c.Pool = pool
		c.Notifications = repository.NewNotificationRepository(pool)
		c.Rules = repository.NewRuleRepository(pool)
		c.Attempts = repository.NewAttemptRepository(pool)
		c.DeadLetters = repository.NewDeadLetterRepository(pool)
		c.History = repository.NewHistoryRepository(pool)
		c.Users = repository.NewUserRepository(pool)
	case DriverMemory:
		c.Notifications = memory.NewNotificationStore()
		c.Rules = memory.NewRuleStore()
		c.Attempts = memory.NewAttemptStore()
		c.DeadLetters = memory.NewDeadLetterStore()
		c.History = memory.NewHistoryStore()
		c.Users = memory.NewUserDirectory()
	default:
		return fmt.Errorf("unknown storage driver %q", c.Config.Storage.Driver)
	}
	c.Logger.Info("Storage initialized", zap.String("driver", c.Config.Storage.Driver))
	return nil
}

func (c *Components) buildCatalog(ctx context.Context) error {
	seed := rules.DefaultRules()
	if path := c.Config.Rules.File; path != "" {
		rs, err := rules.LoadRulesFile(path)
		if err != nil {
			return err
		}
		seed = rs
	}

	switch c.Config.Rules.Source {
	case RulesStatic:
		catalog, err := rules.NewStaticCatalog(seed)
		if err != nil {
			return err
		}
		c.Catalog = catalog
	case RulesStore:
		catalog := rules.NewStoreCatalog(c.Rules)
		if c.Config.Rules.Seed {
			n, err := catalog.Seed(ctx, seed)
			if err != nil {
				return fmt.Errorf("seed rules: %w", err)
			}
			c.Logger.Info("Seeded rule catalog", zap.Int("inserted", n))
		}
		c.Catalog = catalog
	default:
		return fmt.Errorf("unknown rules source %q", c.Config.Rules.Source)
	}
	return nil
}

func (c *Components) buildDedup() error {
	switch c.Config.Dedup.Driver {
	case DriverRedis:
		c.Redis = redis.NewRedisClient(c.Config.Redis)
		c.Dedup = dedup.NewRedisStore(c.Redis, c.Logger)
	case DriverMemory:
		c.Dedup = dedup.NewMemoryStore(c.Config.Dedup.MaxEntries)
	default:
		return fmt.Errorf("unknown dedup driver %q", c.Config.Dedup.Driver)
	}
	return nil
}

func (c *Components) buildMirror() error {
	if !c.Config.Mirror.Enabled {
		return nil
	}
	pub, err := mq.NewPublisher(c.Config.MQ.URL)
	if err != nil {
		return fmt.Errorf("init mq publisher: %w", err)
	}
	c.Publisher = pub
	c.asyncMirror = events.NewAsyncMirror(pub, c.Config.Mirror.Buffer, c.Logger)
	c.Mirror = c.asyncMirror
	return nil
}

// Transport builds the configured push transport behind the rate limiter
// and circuit breaker.
func (c *Components) Transport() (*push.GuardedTransport, error) {
	cfg := c.Config.Push
	var next push.Transport
	switch cfg.Driver {
	case DriverHTTP:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("push endpoint is required for the http driver")
		}
		next = push.NewHTTPTransport(cfg.Endpoint, cfg.APIKey, cfg.Timeout)
	case DriverLog:
		next = push.NewLogTransport(c.Logger)
	default:
		return nil, fmt.Errorf("unknown push driver %q", cfg.Driver)
	}

	cb := circuitbreaker.DefaultConfig()
	cb.FailureThreshold = cfg.Breaker.FailureThreshold
	cb.SuccessThreshold = cfg.Breaker.SuccessThreshold
	cb.Timeout = cfg.Breaker.Timeout
	return push.NewGuardedTransport(next, cfg.RatePerSec, cb), nil
}

// Dispatcher builds the delivery loop over transport.
func (c *Components) Dispatcher(transport push.Transport) *dispatcher.Dispatcher {
	cfg := c.Config.Dispatcher
	renderer := templating.NewEngine(c.Config.App.Name, c.Config.Location())
	return dispatcher.NewDispatcher(
		c.Notifications,
		c.Attempts,
		c.History,
		c.Users,
		c.Catalog,
		renderer,
		transport,
		c.Retry,
		c.Logger,
	).
		WithInterval(cfg.Interval).
		WithBatchSize(cfg.BatchSize).
		WithWorkers(cfg.Workers).
		WithClaimTimeout(cfg.ClaimTimeout).
		WithMirror(c.Mirror)
}

// InactivityScanner builds the scanner for the user_inactive trigger.
func (c *Components) InactivityScanner() *trigger.InactivityScanner {
	cfg := c.Config.Inactivity
	return trigger.NewInactivityScanner(c.Users, c.Adapter, cfg.Threshold, c.Logger).
		WithBatchSize(cfg.BatchSize)
}

// ReadinessChecks probes the backends this process depends on.
func (c *Components) ReadinessChecks() []httpserver.ReadinessCheck {
	var checks []httpserver.ReadinessCheck
	if c.Pool != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "db", Check: c.Pool.Ping})
	}
	if c.Redis != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		}})
	}
	if c.Publisher != nil {
		checks = append(checks, httpserver.ReadinessCheck{Name: "mq", Check: func(context.Context) error {
			if !c.Publisher.IsConnected() {
				return fmt.Errorf("publisher disconnected")
			}
			return nil
		}})
	}
	return checks
}

// RunMirror publishes lifecycle events until ctx is done. It returns
// immediately when mirroring is disabled.
func (c *Components) RunMirror(ctx context.Context) {
	if c.asyncMirror == nil {
		return
	}
	c.asyncMirror.Run(ctx)
}

// Close releases backends. It is safe on a partially built value.
func (c *Components) Close() {
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}
