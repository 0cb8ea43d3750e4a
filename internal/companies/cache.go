package companies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "stockledger:companies:version"

// Source loads companies from durable storage.
type Source interface {
	Get(ctx context.Context, id string) (Company, error)
}

// Directory resolves tenants through a versioned Redis cache. Concurrent
// misses for the same company share one load.
type Directory struct {
	source Source
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewDirectory constructs Directory. client may be nil, in which case every
// lookup goes to source.
func NewDirectory(source Source, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{source: source, client: client, ttl: ttl, logger: logger}
}

// Resolve returns the company when it exists and is active.
func (d *Directory) Resolve(ctx context.Context, id string) (Company, error) {
	c, err := d.Lookup(ctx, id)
	if err != nil {
		return Company{}, err
	}
	if !c.IsActive {
		return Company{}, ErrCompanyInactive
	}
	return c, nil
}

// Lookup returns the company regardless of its active flag.
func (d *Directory) Lookup(ctx context.Context, id string) (Company, error) {
	if d.client == nil {
		return d.source.Get(ctx, id)
	}
	key, err := d.key(ctx, id)
	if err != nil {
		d.logger.Warn("company cache unavailable", slog.Any("error", err))
		return d.source.Get(ctx, id)
	}
	payload, err := d.client.Get(ctx, key).Bytes()
	if err == nil {
		var c Company
		if err := json.Unmarshal(payload, &c); err == nil {
			return c, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		d.logger.Warn("company cache read", slog.Any("error", err))
	}

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		c, err := d.source.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(c); err == nil {
			if err := d.client.Set(ctx, key, raw, d.ttl).Err(); err != nil {
				d.logger.Warn("company cache write", slog.Any("error", err))
			}
		}
		return c, nil
	})
	if err != nil {
		return Company{}, err
	}
	return v.(Company), nil
}

// Invalidate drops every cached company by bumping the cache version.
func (d *Directory) Invalidate(ctx context.Context) error {
	if d.client == nil {
		return nil
	}
	return d.client.Incr(ctx, cacheVersionKey).Err()
}

func (d *Directory) key(ctx context.Context, id string) (string, error) {
	ver, err := d.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		ver = 0
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("stockledger:companies:%d:%s", ver, id), nil
}
