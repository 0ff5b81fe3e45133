package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/safebrowse/internal/activity"
	"github.com/nikhilbhutani/safebrowse/internal/config"
	"github.com/nikhilbhutani/safebrowse/internal/database"
	"github.com/nikhilbhutani/safebrowse/internal/policy"
)

// Backend is an opened storage backend.
type Backend struct {
	Name    string
	Policy  policy.Repository
	History activity.Repository
	// Ready reports whether the backend can currently serve writes.
	Ready func(ctx context.Context) error
	Close func()
}

// Open connects the backend selected by cfg.Storage.Backend.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Backend, error) {
	switch cfg.Storage.Backend {
	case "", "file":
		fs, err := NewFileStore(cfg.Storage.DataDir, log)
		if err != nil {
			return nil, err
		}
		return &Backend{
			Name:    "file",
			Policy:  fs,
			History: fs,
			Ready:   func(context.Context) error { return nil },
			Close:   func() {},
		}, nil

	case "postgres":
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(ctx, pool, database.Migrations); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		ps := NewPostgresStore(pool)
		return &Backend{Name: "postgres", Policy: ps, History: ps, Ready: ps.Ping, Close: pool.Close}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		rs := NewRedisStore(client, cfg.Redis.KeyPrefix)
		return &Backend{
			Name:    "redis",
			Policy:  rs,
			History: rs,
			Ready:   rs.Ping,
			Close:   func() { client.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
