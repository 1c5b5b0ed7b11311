package queue

import (
	"context"
	"fmt"
)

// Config selects and configures a Store backend.
type Config struct {
	Backend      string
	Path         string
	RedisAddress string
	RedisDB      int
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), nil
	case "bolt":
		return OpenBolt(cfg.Path)
	case "redis":
		return NewRedis(ctx, cfg.RedisAddress, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("queue backend %q is not supported", cfg.Backend)
	}
}
