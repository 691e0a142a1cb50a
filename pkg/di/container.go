// Package di wires the application's dependencies.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classifieds-messaging/backend/internal/contactfilter"
	"classifieds-messaging/backend/internal/models"
	"classifieds-messaging/backend/internal/quota"
	"classifieds-messaging/backend/internal/repository"
	"classifieds-messaging/backend/internal/service"
	"classifieds-messaging/backend/internal/ws"
	"classifieds-messaging/backend/pkg/config"
	"classifieds-messaging/backend/pkg/health"
	"classifieds-messaging/backend/pkg/jwt"
	"classifieds-messaging/backend/pkg/logger"
	"classifieds-messaging/backend/pkg/resilience"
	"classifieds-messaging/backend/pkg/secrets"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *gorm.DB
	Redis      *redis.Client
	Secrets    *secrets.VaultManager
	JWTService *jwt.Service
	Directory  *repository.GormUserDirectory
	Quota      quota.Ledger
	Hub        *ws.Hub
	Messaging  *service.MessagingService
	Health     *health.Checker
}

// New builds the container. ctx bounds startup and the hub's subscription.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.GetGlobal()
	}
	c := &Container{Config: cfg, Logger: log}

	sm, err := secrets.NewVaultManager(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	c.Secrets = sm
	cfg.JWT.Secret = sm.GetSecretWithDefault(ctx, secrets.KeyJWTSecret, cfg.JWT.Secret)
	cfg.Database.Password = sm.GetSecretWithDefault(ctx, secrets.KeyDBPassword, cfg.Database.Password)
	cfg.Redis.URL = sm.GetSecretWithDefault(ctx, secrets.KeyRedisURL, cfg.Redis.URL)

	db, err := config.NewDB(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.DB = db
	if err := db.AutoMigrate(models.All()...); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if cfg.Redis.Enabled {
		client, err := config.NewRedis(ctx, cfg)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = client
	}

	c.JWTService = jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)
	c.Directory = repository.NewGormUserDirectory(db, cfg.Messaging.ProfileCacheTTL, cfg.Messaging.OnlineWindow)

	ledger, err := c.newQuotaLedger()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Quota = ledger

	var broker ws.Broker = ws.NewLocalBroker()
	if c.Redis != nil {
		broker = ws.NewRedisBroker(c.Redis, cfg.Redis.Channel, log)
	}
	c.Hub = ws.NewHub(broker, c.Directory, cfg.WebSocket.TypingTTL, log)
	if err := c.Hub.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start delivery hub: %w", err)
	}
	c.Directory.SetPresence(c.Hub.IsOnline)

	c.Messaging = service.NewMessagingService(service.Deps{
		Messages:  repository.NewGormMessageRepository(db),
		Blocks:    repository.NewGormBlockList(db),
		Directory: c.Directory,
		Quota:     c.Quota,
		Filter:    contactfilter.New(),
		Publisher: c.Hub,
	}, service.Options{
		MaxBodyLength:   cfg.Messaging.MaxBodyLength,
		DefaultPageSize: cfg.Messaging.DefaultPageSize,
		MaxPageSize:     cfg.Messaging.MaxPageSize,
		StoreTimeout:    cfg.Messaging.StoreTimeout,
	}, log)

	c.Health = c.newHealthChecker()

	return c, nil
}

// newQuotaLedger picks the configured backend. Every backend sits behind a
// circuit breaker so an unhealthy store fails closed without piling up calls.
func (c *Container) newQuotaLedger() (quota.Ledger, error) {
	policy := quota.Policy{Limit: c.Config.Messaging.DailyLimit, Location: c.Config.QuotaLocation()}

	var ledger quota.Ledger
	switch c.Config.Messaging.QuotaBackend {
	case "memory":
		ledger = quota.NewMemoryLedger(policy)
	case "sql", "":
		ledger = quota.NewSQLLedger(c.DB, policy)
	case "redis":
		if c.Redis == nil {
			return nil, errors.New("QUOTA_BACKEND=redis requires REDIS_ENABLED")
		}
		ledger = quota.NewRedisLedger(c.Redis, policy)
	default:
		return nil, fmt.Errorf("unknown QUOTA_BACKEND %q", c.Config.Messaging.QuotaBackend)
	}

	cb := resilience.NewCircuitBreaker(resilience.DefaultConfig("quota"), c.Logger)
	return quota.WithBreaker(ledger, cb), nil
}

func (c *Container) newHealthChecker() *health.Checker {
	checker := health.NewChecker(c.Logger, 15*time.Second)

	checker.RegisterCheck("database", true, func(ctx context.Context) error {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	if c.Redis != nil {
		checker.RegisterCheck("redis", true, func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		})
	}

	return checker
}

// Close releases everything New acquired
func (c *Container) Close() {
	if c.Hub != nil {
		if err := c.Hub.Close(); err != nil {
			c.Logger.LogError(err, "Failed to close delivery hub")
		}
	}
	if c.Directory != nil {
		c.Directory.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.LogError(err, "Failed to close redis client")
		}
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if c.Secrets != nil {
		c.Secrets.Close()
	}
}
