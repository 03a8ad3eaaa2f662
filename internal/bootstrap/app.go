// Package bootstrap wires configuration into the stores, provider backend
// and delivery engine shared by every binary, and runs startup routines
// such as seeding templates.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/archive"
	"github.com/sungwon/mailqueue/internal/config"
	"github.com/sungwon/mailqueue/internal/delivery"
	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/provider"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/storage"
	"github.com/sungwon/mailqueue/internal/templates"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	DB    *storage.DB
	Redis *redis.Client

	Messages     mq.MessageStore
	Templates    mq.TemplateStore
	Suppressions mq.SuppressionStore

	Provider provider.Provider
	Health   *provider.HealthChecker
	Archiver *archive.Archiver
}

// Open connects to PostgreSQL and Redis, applies migrations when configured
// and builds the provider for the selected backend.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	db, err := storage.NewDB(ctx, cfg.Database.URL, cfg.Database.PoolMin, cfg.Database.PoolMax, cfg.Database.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info().Msg("database connection established")

	app := &App{
		Config:       cfg,
		Log:          log,
		DB:           db,
		Messages:     storage.NewMessageStore(db.Pool),
		Templates:    storage.NewTemplateStore(db.Pool),
		Suppressions: storage.NewSuppressionStore(db.Pool),
	}

	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(ctx, db, log); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	if app.Redis, err = NewRedis(ctx, cfg.Redis); err != nil {
		app.Close()
		return nil, err
	}

	if err := app.initProvider(ctx); err != nil {
		app.Close()
		return nil, err
	}

	if cfg.Retention.Archive.Enabled() {
		store, err := archive.NewStore(ctx, cfg.Retention.Archive)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("archive store: %w", err)
		}
		app.Archiver = archive.NewArchiver(store)
		log.Info().Str("type", cfg.Retention.Archive.Type).Msg("archiving sent messages before cleanup")
	}
	return app, nil
}

// NewRedis returns a connected client, or nil when no address is set.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (a *App) initProvider(ctx context.Context) error {
	pcfg := a.Config.Provider()
	p, err := provider.DefaultRegistry().Create(ctx, pcfg, provider.NewHTTPClient(pcfg.Timeout))
	if err != nil {
		return fmt.Errorf("create %s provider: %w", pcfg.Type, err)
	}
	a.Provider = p
	a.Health = provider.NewHealthChecker(a.Log, a.Config.Delivery.HealthInterval, p)
	a.Log.Info().Str("backend", p.GetName()).Msg("delivery backend ready")
	return nil
}

// NewEngine builds the delivery engine over the app's stores and provider.
func (a *App) NewEngine(opts ...delivery.Option) (*delivery.Engine, error) {
	cfg := a.Config
	renderer := templates.NewRenderer(templates.RenderOptions{
		Strict:     cfg.Templates.StrictVars,
		MaxBytes:   cfg.Templates.MaxBytes,
		DeriveText: cfg.Templates.DeriveText,
	})
	base := []delivery.Option{delivery.WithLogger(a.Log)}
	if a.Archiver != nil {
		base = append(base, delivery.WithArchiver(a.Archiver))
	}
	return delivery.NewEngine(
		delivery.Config{
			DefaultFrom:   cfg.Delivery.DefaultFrom,
			MaxAttempts:   cfg.Delivery.MaxAttempts,
			RetrySchedule: mq.RetrySchedule(cfg.Delivery.RetryScheduleSeconds),
			CleanupBatch:  cfg.Delivery.CleanupBatch,
		},
		a.Messages,
		a.Suppressions,
		templates.NewComposer(a.Templates, renderer),
		provider.NewBackend(a.Provider, cfg.Delivery.SendTimeout),
		append(base, opts...)...,
	)
}

// NewQueue builds the configured broker. It returns nil for the inline type.
func (a *App) NewQueue(ctx context.Context, handler queue.JobHandler) (*queue.Queue, error) {
	q, err := queue.NewQueue(ctx, a.Config.Queue, a.Redis, handler, a.Log)
	if errors.Is(err, queue.ErrInline) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s queue: %w", a.Config.Queue.Type, err)
	}
	return q, nil
}

// ProducerEngine builds an engine that hands every new message to the
// broker. With the inline queue, messages wait for the scheduler instead.
func (a *App) ProducerEngine(ctx context.Context) (*delivery.Engine, *queue.Queue, error) {
	q, err := a.NewQueue(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	var opts []delivery.Option
	if q != nil {
		opts = append(opts, delivery.WithDispatcher(delivery.NewQueueDispatcher(q.Enqueuer, a.Log)))
	}
	engine, err := a.NewEngine(opts...)
	if err != nil {
		return nil, nil, err
	}
	return engine, q, nil
}

// Close releases connections opened by Open.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("close redis")
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
