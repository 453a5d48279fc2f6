package router

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carewatch/guardian/internal/platform/logging"
)

// dedupTTL bounds how long a fast-path lock survives; long enough to
// collapse near-simultaneous callbacks, short enough that a stuck lock
// self-heals quickly.
const dedupTTL = 5 * time.Second

// Dedup is the Redis SETNX-based fast path the router consults before
// the authoritative store query. It is pure optimization: a
// Redis outage degrades to store-only dedup rather than blocking
// ingestion, so every method treats a Redis error as "lock not held"
// instead of propagating it.
type Dedup struct {
	client    *redis.Client
	namespace string
	logger    logging.Logger
}

// NewDedup creates a Dedup client against redisURL (e.g.
// "redis://localhost:6379/0") and verifies connectivity with a ping
// before returning.
func NewDedup(redisURL, namespace string, logger logging.Logger) (*Dedup, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Dedup{client: client, namespace: namespace, logger: logger}, nil
}

func (d *Dedup) key(cameraID string) string {
	return fmt.Sprintf("%s:trigger-lock:%s", d.namespace, cameraID)
}

// TryLock attempts to acquire the fast-path trigger lock for cameraID.
// A Redis error is logged and reported as "not acquired" rather than
// returned, so callers always fall through to the store as the source
// of truth.
func (d *Dedup) TryLock(ctx context.Context, cameraID string) bool {
	if d == nil || d.client == nil {
		return false
	}
	ok, err := d.client.SetNX(ctx, d.key(cameraID), 1, dedupTTL).Result()
	if err != nil {
		d.logger.WarnWithContext(ctx, "dedup lock unavailable, degrading to store-only dedup", logging.Fields{
			"camera_id": cameraID, "error": err.Error(),
		})
		return false
	}
	return ok
}

// Close releases the underlying connection pool.
func (d *Dedup) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}
