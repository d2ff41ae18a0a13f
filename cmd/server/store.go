package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/bruteguard/internal/config"
	"github.com/and161185/bruteguard/internal/migrate"
	"github.com/and161185/bruteguard/internal/repository"
	"github.com/and161185/bruteguard/internal/repository/memory"
	"github.com/and161185/bruteguard/internal/repository/mongodb"
	"github.com/and161185/bruteguard/internal/repository/postgres"
	"github.com/and161185/bruteguard/internal/repository/redis"
)

// backend is the opened storage. sweeper is nil when the store expires
// records on its own.
type backend struct {
	attempts repository.AttemptStore
	sweeper  repository.Sweeper
	users    repository.UserRepository
	closers  []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend connects the configured attempt store. Users live in
// PostgreSQL whenever a DSN is given, otherwise in memory.
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	b := &backend{}

	var pg *postgres.DB
	if cfg.DSN != "" {
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		pg = db
		b.closers = append(b.closers, db.Close)
		b.users = postgres.NewUserRepo(db)
	} else {
		log.Warn("no DSN configured, users are kept in memory")
		b.users = memory.NewUserStore()
	}

	switch cfg.Backend {
	case config.BackendMemory:
		s := memory.NewAttemptStore()
		b.attempts, b.sweeper = s, s

	case config.BackendPostgres:
		s := postgres.NewAttemptRepo(pg)
		b.attempts, b.sweeper = s, s

	case config.BackendRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			b.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		b.attempts = redis.NewAttemptStore(rdb, redis.Options{RecordTTL: cfg.RecordTTL})

	case config.BackendMongo:
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
		s := mongodb.NewAttemptStore(client.Database(cfg.MongoDB).Collection(mongodb.CollectionName))
		if err := s.EnsureIndexes(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		b.attempts, b.sweeper = s, s

	default:
		b.close()
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	log.Info("attempt store ready", zap.String("backend", cfg.Backend))
	return b, nil
}
