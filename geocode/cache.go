package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"go-citizenlink/metrics"
)

type Entry struct {
	Address    string    `json:"address"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type Config struct {
	// Interval is the minimum spacing between collaborator calls.
	Interval time.Duration
	// Timeout bounds one Resolve call, queueing included.
	Timeout time.Duration
	// Precision is the number of decimals coordinates are rounded to.
	Precision int
	// RefreshAfter re-resolves entries older than this. Zero keeps entries
	// forever.
	RefreshAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Precision <= 0 {
		c.Precision = 4
	}
	return c
}

// Cache memoizes reverse-geocoding results per rounded coordinate bucket.
// Collaborator calls go out one at a time, spaced by the limiter.
type Cache struct {
	lookup  Lookuper
	cfg     Config
	limiter *rate.Limiter
	slot    chan struct{}
	group   singleflight.Group

	mu      sync.RWMutex
	entries map[string]Entry

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewCache(lookup Lookuper, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Cache {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		lookup:  lookup,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		slot:    make(chan struct{}, 1),
		entries: make(map[string]Entry),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Key is the bucket a coordinate falls into.
func (c *Cache) Key(lat, lng float64) string {
	return fmt.Sprintf("%.*f,%.*f", c.cfg.Precision, lat, c.cfg.Precision, lng)
}

func (c *Cache) Entry(lat, lng float64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[c.Key(lat, lng)]
	return e, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Resolve returns the address for lat/lng. It never fails: when the
// collaborator errors or times out it falls back to the last cached address
// for the bucket, or "".
func (c *Cache) Resolve(ctx context.Context, lat, lng float64) string {
	key := c.Key(lat, lng)

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && (c.cfg.RefreshAfter <= 0 || c.now().Sub(cached.ResolvedAt) < c.cfg.RefreshAfter) {
		c.metrics.Geocode("hit")
		return cached.Address
	}

	// One lookup per bucket, detached from the caller that started it.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), key, lat, lng), nil
	})
	select {
	case res := <-ch:
		return res.Val.(string)
	case <-ctx.Done():
		return c.fallback(key)
	}
}

// fallback is the last known address of a bucket, or "".
func (c *Cache) fallback(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key].Address
}

func (c *Cache) fetch(ctx context.Context, key string, lat, lng float64) string {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	addr, err := c.call(ctx, lat, lng)
	if err != nil {
		c.mu.RLock()
		cached, ok := c.entries[key]
		c.mu.RUnlock()

		c.logger.Warn("reverse geocode failed", "bucket", key, "cached", ok, "error", err)
		if ok {
			c.metrics.Geocode("stale")
			return cached.Address
		}
		c.metrics.Geocode("error")
		return ""
	}

	c.mu.Lock()
	c.entries[key] = Entry{Address: addr, ResolvedAt: c.now()}
	c.mu.Unlock()
	c.metrics.Geocode("miss")
	return addr
}

// call waits for the single collaborator slot and the limiter, then runs
// the lookup. The caller gets its answer no later than ctx's deadline even
// if the collaborator ignores ctx; the slot stays taken until it returns.
func (c *Cache) call(ctx context.Context, lat, lng float64) (string, error) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		<-c.slot
		return "", err
	}

	type result struct {
		addr string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-c.slot }()
		addr, err := c.lookup.Lookup(ctx, lat, lng)
		done <- result{addr, err}
	}()

	select {
	case r := <-done:
		return r.addr, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
