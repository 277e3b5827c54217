// Package cache stores user records and computed authorizations in Redis,
// encrypted at rest.
//
// Values are encoded with deterministic CBOR and sealed with age to an
// X25519 identity held only by EzSecurity instances, so a Redis operator
// never sees directory data. Keys are keyed BLAKE3 digests of the logical
// key, so DNs do not appear in the keyspace either.
//
// Invalidation bumps a generation counter that is part of every key.
// Entries written under an older generation become unreachable at once and
// expire on their own TTL.
package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"time"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/ezsecurity/internal/tracing"
	"github.com/StricklySoft/ezsecurity/pkg/clients/redis"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

const tracerName = "github.com/StricklySoft/ezsecurity/pkg/cache"

const keyContext = "ezsecurity 2026 cache key obfuscation"

// DefaultTTL bounds the lifetime of every cached value.
const DefaultTTL = 10 * time.Minute

// KV is the subset of [redis.Client] the cache uses.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Incr(ctx context.Context, key string) (int64, error)
}

var _ KV = (*redis.Client)(nil)

// Config configures the encrypted cache.
type Config struct {
	Enabled bool          `env:"ENABLED" envDefault:"false" yaml:"enabled" json:"enabled" flag:"enabled" usage:"Cache users and authorizations in Redis"`
	TTL     time.Duration `env:"TTL" envDefault:"10m" yaml:"ttl" json:"ttl"`
	Prefix  string        `env:"PREFIX" envDefault:"ezsecurity" yaml:"prefix" json:"prefix"`
	// Identity is an AGE-SECRET-KEY-1 string shared by every instance.
	// When empty each process generates its own, which confines sharing
	// to that process.
	Identity redis.Secret `env:"IDENTITY" yaml:"identity" json:"identity"`
	Redis    redis.Config `env:"REDIS" yaml:"redis" json:"redis"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// Cache is an encrypted, shared value cache on Redis. Values are CBOR
// encoded and sealed to an age identity, and keys are keyed BLAKE3 hashes,
// so nothing readable is stored. Entries live under a generation counter
// that [Cache.Invalidate] bumps, which drops every entry at once without
// scanning keys.
//
// Cache is safe for concurrent use.
type Cache struct {
	kv        KV
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
	hashKey   [32]byte
	prefix    string
	ttl       time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New returns a cache over kv. Instances sharing cfg.Identity share
// entries; an instance with another identity derives different keys and
// sees only misses. A zero TTL selects [DefaultTTL] and an empty prefix
// "ezsecurity".
func New(kv KV, cfg Config, logger *slog.Logger) (*Cache, error) {
	var (
		identity *age.X25519Identity
		err      error
	)
	if cfg.Identity.Value() != "" {
		identity, err = age.ParseX25519Identity(cfg.Identity.Value())
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "cache: invalid age identity")
		}
	} else {
		identity, err = age.GenerateX25519Identity()
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternal, "cache: generate age identity")
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		kv:        kv,
		identity:  identity,
		recipient: identity.Recipient(),
		prefix:    cfg.Prefix,
		ttl:       cfg.TTL,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
	if c.prefix == "" {
		c.prefix = "ezsecurity"
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	blake3.DeriveKey(keyContext, []byte(identity.String()), c.hashKey[:])
	return c, nil
}

func (c *Cache) generationKey() string {
	return c.prefix + ":generation"
}

func (c *Cache) generation(ctx context.Context) (string, error) {
	v, found, err := c.kv.Get(ctx, c.generationKey())
	if err != nil {
		return "", err
	}
	if !found {
		return "0", nil
	}
	return string(v), nil
}

// storageKey derives the Redis key for a logical key. The namespace stays
// readable; the logical key does not.
func (c *Cache) storageKey(generation, namespace, key string) string {
	h, err := blake3.NewKeyed(c.hashKey[:])
	if err != nil {
		panic("cache: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.WriteString(namespace)
	h.Write([]byte{0})
	h.WriteString(key)
	return c.prefix + ":" + generation + ":" + namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// Load decodes the value cached under namespace and key into v. It reports
// false on a miss. An entry that no longer decrypts or decodes is treated
// as a miss.
func (c *Cache) Load(ctx context.Context, namespace, key string, v any) (bool, error) {
	ctx, span := c.startSpan(ctx, "load", namespace)
	found, err := c.load(ctx, namespace, key, v)
	span.SetAttributes(attribute.Bool("ezsecurity.cache.hit", found))
	tracing.End(span, err)
	return found, err
}

func (c *Cache) load(ctx context.Context, namespace, key string, v any) (bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return false, err
	}
	return c.get(ctx, c.storageKey(gen, namespace, key), namespace, v)
}

// get decodes the entry at storage key skey into v.
func (c *Cache) get(ctx context.Context, skey, namespace string, v any) (bool, error) {
	sealed, found, err := c.kv.Get(ctx, skey)
	if err != nil || !found {
		return false, err
	}
	plain, err := c.open(sealed)
	if err != nil {
		c.logger.WarnContext(ctx, "cache: discarding undecryptable entry", "namespace", namespace, "error", err)
		return false, nil
	}
	if err := decMode.Unmarshal(plain, v); err != nil {
		c.logger.WarnContext(ctx, "cache: discarding undecodable entry", "namespace", namespace, "error", err)
		return false, nil
	}
	return true, nil
}

// Store caches v under namespace and key for the configured TTL.
func (c *Cache) Store(ctx context.Context, namespace, key string, v any) error {
	ctx, span := c.startSpan(ctx, "store", namespace)
	err := c.store(ctx, namespace, key, v)
	tracing.End(span, err)
	return err
}

func (c *Cache) store(ctx context.Context, namespace, key string, v any) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	return c.put(ctx, c.storageKey(gen, namespace, key), v)
}

func (c *Cache) put(ctx context.Context, skey string, v any) error {
	plain, err := encMode.Marshal(v)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "cache: encode value")
	}
	sealed, err := c.seal(plain)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, skey, sealed, c.ttl)
}

// Fetch decodes the value cached under namespace and key into v. On a miss
// it calls fill, which must populate v, and caches the result.
//
// The generation is read once, before the lookup, and the result is
// written under it. An [Cache.Invalidate] that lands while fill runs
// therefore leaves the new entry unreachable instead of letting a value
// computed from stale data survive it. An error from fill is returned and
// nothing is cached. Cache failures are logged and never fail a Fetch.
func (c *Cache) Fetch(ctx context.Context, namespace, key string, v any, fill func(context.Context) error) error {
	ctx, span := c.startSpan(ctx, "fetch", namespace)
	err := c.fetch(ctx, namespace, key, v, fill)
	tracing.End(span, err)
	return err
}

func (c *Cache) fetch(ctx context.Context, namespace, key string, v any, fill func(context.Context) error) error {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "cache: unavailable, reading through", "namespace", namespace, "error", err)
		return fill(ctx)
	}
	skey := c.storageKey(gen, namespace, key)
	found, err := c.get(ctx, skey, namespace, v)
	if err != nil {
		c.logger.WarnContext(ctx, "cache: read failed", "namespace", namespace, "error", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("ezsecurity.cache.hit", found))
	if found {
		return nil
	}
	if err := fill(ctx); err != nil {
		return err
	}
	if err := c.put(ctx, skey, v); err != nil {
		c.logger.WarnContext(ctx, "cache: write failed", "namespace", namespace, "error", err)
	}
	return nil
}

// Invalidate makes every cached entry unreachable by advancing the
// generation. Old entries are left to expire with their TTL.
func (c *Cache) Invalidate(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "invalidate", "")
	gen, err := c.kv.Incr(ctx, c.generationKey())
	if err == nil {
		span.SetAttributes(attribute.String("ezsecurity.cache.generation", strconv.FormatInt(gen, 10)))
		c.logger.InfoContext(ctx, "cache: invalidated", "generation", gen)
	}
	tracing.End(span, err)
	return err
}

// Namespace returns a view of the cache bound to one namespace.
func (c *Cache) Namespace(name string) *Namespace {
	return &Namespace{cache: c, name: name}
}

func (c *Cache) seal(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "cache: create age encryptor")
	}
	if _, err := w.Write(plain); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "cache: encrypt value")
	}
	if err := w.Close(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "cache: finalize encryption")
	}
	return buf.Bytes(), nil
}

func (c *Cache) open(sealed []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), c.identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (c *Cache) startSpan(ctx context.Context, operation, namespace string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "cache."+operation)
	if namespace != "" {
		span.SetAttributes(attribute.String("ezsecurity.cache.namespace", namespace))
	}
	return ctx, span
}

// Namespace is a [Cache] bound to one namespace.
type Namespace struct {
	cache *Cache
	name  string
}

// Load is [Cache.Load] within the namespace.
func (n *Namespace) Load(ctx context.Context, key string, v any) (bool, error) {
	return n.cache.Load(ctx, n.name, key, v)
}

// Store is [Cache.Store] within the namespace.
func (n *Namespace) Store(ctx context.Context, key string, v any) error {
	return n.cache.Store(ctx, n.name, key, v)
}

// Fetch is [Cache.Fetch] within the namespace.
func (n *Namespace) Fetch(ctx context.Context, key string, v any, fill func(context.Context) error) error {
	return n.cache.Fetch(ctx, n.name, key, v, fill)
}
