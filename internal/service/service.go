package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/marminbh/popup-pos/internal/cache"
	"github.com/marminbh/popup-pos/internal/config"
	"github.com/marminbh/popup-pos/internal/database"
	"github.com/marminbh/popup-pos/internal/loyalty"
	"github.com/marminbh/popup-pos/internal/rabbitmq"
)

// Service holds the infrastructure shared by the server and the consumer
type Service struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger
	RMQ    *rabbitmq.Connection
	Redis  *redis.Client // nil when REDIS_URL is not set
}

// New connects to Postgres (applying migrations), RabbitMQ and, when
// configured, Redis. Anything already opened is closed again on failure.
func New(ctx context.Context, cfg *config.Config, name string, logger *zap.Logger) (*Service, error) {
	s := &Service{Config: cfg, Logger: logger}

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	s.DB = db

	if err := database.RunMigrations(&cfg.Database, database.DefaultMigrationsSource, logger); err != nil {
		s.Close()
		return nil, err
	}

	s.RMQ = rabbitmq.NewConnection(&cfg.RabbitMQ, name, logger)
	if err := s.RMQ.Connect(); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.Redis = client
		logger.Info("Connected to Redis")
	} else {
		logger.Warn("REDIS_URL not set, using in-process retry counters without customer locks")
	}

	return s, nil
}

// RetryCounter counts delivery failures in Redis, or in process without it
func (s *Service) RetryCounter() cache.RetryCounter {
	if s.Redis == nil {
		return cache.NewMemoryRetryCounter()
	}
	return cache.NewRedisRetryCounter(s.Redis, "loyalty")
}

// Locker serializes syncs per customer across consumers when Redis is available
func (s *Service) Locker() loyalty.Locker {
	if s.Redis == nil {
		return loyalty.NopLocker
	}
	return cache.NewRedisLocker(s.Redis, s.Config.Redis.LockTTL, s.Logger)
}

// Close releases every connection the service holds
func (s *Service) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Error("Error closing redis", zap.Error(err))
		}
	}
	if s.RMQ != nil {
		s.RMQ.Close()
	}
	if err := database.Close(s.DB, s.Logger); err != nil {
		s.Logger.Error("Error closing database", zap.Error(err))
	}
}
