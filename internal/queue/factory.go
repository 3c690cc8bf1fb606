package queue

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"bankfeed/internal/config"
)

// New builds the configured Store backend. The redis client may be nil when
// the memory backend is selected.
func New(cfg config.QueueConfig, client *redis.Client) (Store, error) {
	opts := Options{
		LeaseTimeout: cfg.LeaseTimeout,
		DedupTTL:     cfg.DedupTTL,
		MaxAttempts:  cfg.MaxAttempts,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "redis":
		if client == nil {
			return nil, fmt.Errorf("queue backend redis requires a redis client")
		}
		return NewRedisStore(client, opts), nil
	case "memory", "mem", "inmem":
		return NewMemoryStore(opts), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Backend)
	}
}
