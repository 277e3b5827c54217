package directory

import (
	"context"
	"log/slog"
)

// Cache reads a value through to fill on a miss. *cache.Namespace
// satisfies it.
type Cache interface {
	Fetch(ctx context.Context, key string, v any, fill func(context.Context) error) error
}

// Cached serves users from a cache and falls back to the wrapped
// directory. Cache failures never fail a lookup; lookup failures are never
// cached.
type Cached struct {
	next   Directory
	cache  Cache
	logger *slog.Logger
}

var _ Directory = (*Cached)(nil)

// NewCached wraps next with cache.
func NewCached(next Directory, cache Cache, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, cache: cache, logger: logger}
}

// User implements [Directory].
func (c *Cached) User(ctx context.Context, dn string) (*User, error) {
	var u User
	err := c.cache.Fetch(ctx, dn, &u, func(ctx context.Context) error {
		user, err := c.next.User(ctx, dn)
		if err != nil {
			return err
		}
		u = *user
		c.logger.DebugContext(ctx, "directory: user cached", "dn", dn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AssertUser implements [Directory]. Existence checks bypass the cache so
// a removed user is noticed at once.
func (c *Cached) AssertUser(ctx context.Context, dn string) bool {
	return c.next.AssertUser(ctx, dn)
}

// AssertUserStrict implements [Directory].
func (c *Cached) AssertUserStrict(ctx context.Context, dn string) (bool, error) {
	return c.next.AssertUserStrict(ctx, dn)
}
