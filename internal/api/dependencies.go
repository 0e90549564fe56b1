package api

import (
	"context"
	"errors"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"infinite-experiment/tourdesk/internal/auth"
	"infinite-experiment/tourdesk/internal/capability"
	"infinite-experiment/tourdesk/internal/common"
	"infinite-experiment/tourdesk/internal/config"
	"infinite-experiment/tourdesk/internal/db"
	"infinite-experiment/tourdesk/internal/db/repositories"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/metrics"
	"infinite-experiment/tourdesk/internal/middleware"
	"infinite-experiment/tourdesk/internal/models/entities"
	"infinite-experiment/tourdesk/internal/providers"
	"infinite-experiment/tourdesk/internal/reconcile"
	"infinite-experiment/tourdesk/internal/retry"
	"infinite-experiment/tourdesk/internal/services"
)

// Resyncer reloads every collection on demand
type Resyncer interface {
	Run(ctx context.Context, source string) ([]services.LoadResult, error)
}

type Repositories struct {
	SyncHistory *repositories.SyncHistoryRepo
}

type Services struct {
	Workspace    *services.Workspace
	Views        *services.ViewService
	Exports      *services.ExportService
	Notifier     *services.Notifier
	Capabilities *capability.Cache
}

type Dependencies struct {
	Repo     *Repositories
	Services *Services

	Verifier *auth.TokenVerifier
	Metrics  *metrics.MetricsRegistry
	Limiter  *middleware.RateLimiter
	Resync   Resyncer

	// Connections, nil when not configured
	DB     *sqlx.DB
	ORM    *gorm.DB
	Redis  *redis.Client
	Stream providers.ChangeStream
}

// InitDependencies opens every connection and builds the services from cfg
func InitDependencies(ctx context.Context, cfg *config.Config, metricsReg *metrics.MetricsRegistry) (*Dependencies, error) {
	dsn := cfg.PostgresDSN()

	sqlDB, err := db.InitPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	orm, err := db.InitPostgresORM(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(orm); err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.ChangeStream == config.StreamRedis || cfg.CacheBackendRedis {
		redisClient = common.NewRedisClient(common.RedisOptions{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	// Capability answers live in Redis when several replicas share a database
	var capStore common.CacheInterface = common.NewCacheService(cfg.CapabilityTTL, 2*cfg.CapabilityTTL)
	if cfg.CacheBackendRedis {
		capStore = common.NewRedisCacheService(redisClient)
	}
	caps := capability.NewCache(providers.NewSchemaProbe(sqlDB, orm), capStore, cfg.CapabilityTTL)
	caps.Observe = metricsReg.ObserveCapability
	retry.Observer = metricsReg.ObserveRetry

	var (
		stream    providers.ChangeStream
		publisher providers.Publisher
	)
	switch cfg.ChangeStream {
	case config.StreamMemory:
		mem := providers.NewMemoryStream()
		stream, publisher = mem, mem
	case config.StreamRedis:
		rs := providers.NewRedisStream(redisClient)
		stream, publisher = rs, rs
	default:
		// The trigger installed by Migrate publishes every write
		stream = providers.NewPgNotifyStream(dsn)
	}
	logging.Info("Change stream selected", "backend", cfg.ChangeStream)

	source := providers.NewGormSource(orm, publisher, caps)

	notifier := services.NewNotifier()
	notifier.OnNotify = metricsReg.Notification

	workspace := services.NewWorkspace(notifier)
	for _, sc := range syncConfigs(cfg) {
		workspace.Register(services.NewSyncService(sc, source, stream, caps, notifier).WithRecorder(metricsReg))
	}

	var tokenStore common.UsedTokenStore
	if redisClient != nil {
		tokenStore = common.NewRedisTokenStore(redisClient)
	} else {
		tokenStore = common.NewMemoryTokenStore(common.NewCacheService(cfg.ExportLinkTTL, cfg.ExportLinkTTL))
	}
	views := services.NewViewService(workspace)
	exports := services.NewExportService(views, common.NewExportLinkSigner(cfg.SigningKey(), tokenStore), cfg.ExportLinkTTL)

	return &Dependencies{
		Repo: &Repositories{
			SyncHistory: repositories.NewSyncHistoryRepo(orm),
		},
		Services: &Services{
			Workspace:    workspace,
			Views:        views,
			Exports:      exports,
			Notifier:     notifier,
			Capabilities: caps,
		},
		Verifier: auth.NewTokenVerifier([]byte(cfg.JWTSecret)),
		Metrics:  metricsReg,
		Limiter:  middleware.NewRateLimiter(float64(cfg.RateLimitPerSecond), cfg.RateLimitBurst),
		DB:       sqlDB,
		ORM:      orm,
		Redis:    redisClient,
		Stream:   stream,
	}, nil
}

// syncConfigs builds one SyncConfig per kind. Tours and orders hide rows
// flagged invisible once the column exists.
func syncConfigs(cfg *config.Config) []services.SyncConfig {
	policy := retry.DefaultPolicy()
	policy.Attempts = cfg.RetryAttempts
	policy.Delay = cfg.RetryDelay

	resubscribe := retry.DefaultPolicy()
	resubscribe.MaxDelay = cfg.ResubscribeMax

	criteria := map[entities.Kind]reconcile.Criteria{
		entities.KindTour:      {RequireVisible: true},
		entities.KindOrder:     {Statuses: cfg.OrderStatuses, RequireVisible: true},
		entities.KindPassenger: {},
	}

	out := make([]services.SyncConfig, 0, len(entities.Kinds))
	for _, kind := range entities.Kinds {
		out = append(out, services.SyncConfig{
			Kind:        kind,
			Criteria:    criteria[kind],
			Retry:       policy,
			Resubscribe: resubscribe,
		})
	}
	return out
}

// Close releases the connections opened by InitDependencies
func (d *Dependencies) Close() error {
	var errs []error
	if c, ok := d.Stream.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.ORM != nil {
		if sqlDB, err := d.ORM.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
