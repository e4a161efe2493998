package rembg

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL       = 24 * time.Hour
	defaultCacheNamespace = "rembg"
)

// CachingRemover decorates a Remover with a Redis cache keyed by the SHA-256 of
// the input bytes. Redis failures never fail a removal; errors from the inner
// remover are returned unchanged and never cached.
type CachingRemover struct {
	inner     Remover
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
	variant   string
}

// NewCachingRemover wraps inner. If ttl is 0 it defaults to 24 hours, an empty
// namespace becomes "rembg". variant separates entries produced by different
// backends or models for the same input.
func NewCachingRemover(rdb *redis.Client, ttl time.Duration, inner Remover, namespace, variant string) *CachingRemover {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if namespace == "" {
		namespace = defaultCacheNamespace
	}
	return &CachingRemover{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
		variant:   variant,
	}
}

func (c *CachingRemover) Remove(ctx context.Context, input []byte) ([]byte, error) {
	if c.rdb == nil {
		return c.inner.Remove(ctx, input)
	}

	key := c.cacheKey(input)

	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		slog.Info("rembg cache hit", "key", key, "bytes", len(b))
		return b, nil
	} else if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("rembg cache read failed", "key", key, "error", err)
	}

	out, err := c.inner.Remove(ctx, input)
	if err != nil {
		return nil, err
	}

	// best effort
	if err := c.rdb.Set(ctx, key, out, c.ttl).Err(); err != nil {
		slog.Warn("rembg cache write failed", "key", key, "error", err)
	}
	return out, nil
}

func (c *CachingRemover) cacheKey(input []byte) string {
	sum := sha256.Sum256(input)
	return fmt.Sprintf("%s:%s:%s", c.namespace, hex.EncodeToString(sum[:]), safe(c.variant))
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
