package registry

import (
	"context"
	"log/slog"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/pkg/errors"
)

// Open builds the store selected by cfg.Driver. Remote stores are wrapped in
// a read cache when cfg.CacheTTL is positive.
func Open(ctx context.Context, cfg config.RegistryConfig, logger *slog.Logger) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid registry configuration", err).
			WithComponent("registry")
	}

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		store, err = NewFileStore(cfg.Path)
	case "postgres":
		store, err = NewPostgresStore(ctx, cfg.DSN)
	case "redis":
		store, err = NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	case "zookeeper":
		store, err = NewZKStore(ctx, cfg.ZKServers, cfg.ZKRoot, cfg.ZKSessionTimeout)
	}
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("Registry store opened", "component", "registry", "driver", cfg.Driver)
	}
	if cfg.CacheTTL > 0 {
		return NewCached(store, cfg.CacheTTL), nil
	}
	return store, nil
}

// NewServiceFromConfig creates a Service seeded with the configured template,
// sealing secrets when a secret key is set.
func NewServiceFromConfig(cfg config.RegistryConfig, logger *slog.Logger) (*Service, error) {
	opts := []Option{WithAdHocTTL(cfg.AdHocTTL)}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	if cfg.SecretKey != "" {
		sealer, err := NewSealer(cfg.SecretKey)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid registry secret key", err).
				WithComponent("registry")
		}
		opts = append(opts, WithSealer(sealer))
	}
	return NewService(cfg.Template, opts...), nil
}
