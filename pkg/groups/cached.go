package groups

import (
	"context"
	"log/slog"
	"strings"

	"github.com/StricklySoft/ezsecurity/pkg/token"
)

// Cache is the store Cached reads through. *cache.Namespace satisfies it.
type Cache interface {
	Fetch(ctx context.Context, key string, v any, fill func(context.Context) error) error
}

// Cached memoizes a Service. Cache failures never fail a lookup.
type Cached struct {
	next   Service
	cache  Cache
	logger *slog.Logger
}

var _ Service = (*Cached)(nil)

// NewCached wraps next with cache.
func NewCached(next Service, cache Cache, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, cache: cache, logger: logger}
}

// Authorizations implements [Service].
func (c *Cached) Authorizations(ctx context.Context, chain []string, typ token.Type, subject, name string) ([]int64, error) {
	key := "auths\x00" + string(typ) + "\x00" + subject + "\x00" + strings.Join(chain, "\x00")
	return c.through(ctx, key, func() ([]int64, error) {
		return c.next.Authorizations(ctx, chain, typ, subject, name)
	})
}

// AppAccessMask implements [Service].
func (c *Cached) AppAccessMask(ctx context.Context, app string) ([]int64, error) {
	return c.through(ctx, "mask\x00"+app, func() ([]int64, error) {
		return c.next.AppAccessMask(ctx, app)
	})
}

func (c *Cached) through(ctx context.Context, key string, load func() ([]int64, error)) ([]int64, error) {
	var ids []int64
	err := c.cache.Fetch(ctx, key, &ids, func(ctx context.Context) error {
		var err error
		ids, err = load()
		if err == nil {
			c.logger.DebugContext(ctx, "groups: computed on cache miss", "groups", len(ids))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}
