package app

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/config"
	"github.com/Freeeeeet/tutoring_bot/internal/eventbus"
	"github.com/Freeeeeet/tutoring_bot/internal/repository"
	"github.com/Freeeeeet/tutoring_bot/internal/repository/memory"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Storage репозитории выбранного драйвера
type Storage struct {
	Sessions     service.SessionRepository
	Availability service.AvailabilityRepository
	Users        service.UserRepository
	Pool         *pgxpool.Pool // nil для memory
}

// Close закрывает пул соединений
func (s *Storage) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStorage подключает postgres (с миграциями, если migrate) или память процесса
func OpenStorage(ctx context.Context, cfg *config.Config, migrate bool, logger *zap.Logger) (*Storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Warn("Using in-memory storage, data will be lost on restart")
		return &Storage{
			Sessions:     memory.NewSessionRepository(),
			Availability: memory.NewAvailabilityRepository(),
			Users:        memory.NewUserRepository(),
		}, nil
	}

	pool, err := OpenPool(ctx, cfg.GetDBDSN())
	if err != nil {
		return nil, err
	}

	if migrate {
		migrator, err := NewMigrator(pool, MigrationsFS(cfg.MigrationsPath), logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		defer migrator.Close()

		if err := migrator.Run(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &Storage{
		Sessions:     repository.NewSessionRepository(pool),
		Availability: repository.NewAvailabilityRepository(pool),
		Users:        repository.NewUserRepository(pool),
		Pool:         pool,
	}, nil
}

// OpenPool создаёт пул и проверяет соединение
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenEventBus Redis, если задан REDIS_ADDR и он доступен, иначе шина без доставки.
// Вторым значением возвращается функция закрытия
func OpenEventBus(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zap.Logger) (service.EventBus, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, realtime events disabled")
		return eventbus.Nop{}, func() {}
	}

	client, err := eventbus.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("Redis unavailable, realtime events disabled", zap.Error(err))
		return eventbus.Nop{}, func() {}
	}

	logger.Info("Realtime events via Redis", zap.String("addr", cfg.RedisAddr))
	return eventbus.NewRedisBus(client, clk, logger), func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
}
