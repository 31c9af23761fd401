// Package cache stores encoded captures so they can be fetched again by id.
//
// The capture server writes every image it returns into a [Cache]; clients
// that got an X-Capture-Id header can re-read the same bytes later without
// touching the display hardware again. Backends:
//   - null: caching disabled
//   - file: one file per entry under a local directory
//   - redis: shared across server instances, expiry handled by Redis
//   - mongodb: shared, expiry handled by a TTL index
//
// # Usage
//
//	c, err := cache.Open(ctx, "redis://localhost:6379/0", dir)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	key := cache.CaptureKey(result.ID, "png")
//	c.Set(ctx, key, encoded, 10*time.Minute)
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache is a byte store with per-entry expiry.
type Cache interface {
	// Get returns the value and whether it was found. Expired entries are
	// misses.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// CaptureKey is the key of one encoding of a capture.
func CaptureKey(id, format string) string {
	return fmt.Sprintf("capture:%s:%s", id, format)
}

// Open creates the cache described by spec:
//
//	"" or "none"                  NullCache
//	"file"                        FileCache in dir
//	"redis://..." "rediss://..."  RedisCache
//	"mongodb://..." "mongodb+srv://..."  MongoCache
func Open(ctx context.Context, spec, dir string) (Cache, error) {
	switch {
	case spec == "" || spec == "none":
		return NewNullCache(), nil
	case spec == "file":
		c, err := NewFileCache(dir)
		if err != nil {
			return nil, err
		}
		return c, nil
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		c, err := NewRedisCache(ctx, spec)
		if err != nil {
			return nil, err
		}
		return c, nil
	case strings.HasPrefix(spec, "mongodb://"), strings.HasPrefix(spec, "mongodb+srv://"):
		c, err := NewMongoCache(ctx, spec)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache %q (want none, file, redis://... or mongodb://...)", spec)
	}
}

// Valid reports whether spec names a known backend, without connecting.
func Valid(spec string) bool {
	switch {
	case spec == "", spec == "none", spec == "file":
		return true
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"),
		strings.HasPrefix(spec, "mongodb://"), strings.HasPrefix(spec, "mongodb+srv://"):
		return true
	}
	return false
}

// Kind names the backend of spec for logging without leaking credentials.
func Kind(spec string) string {
	switch {
	case spec == "":
		return "none"
	case strings.Contains(spec, "://"):
		return spec[:strings.Index(spec, "://")]
	default:
		return spec
	}
}
