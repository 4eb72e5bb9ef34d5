package forecastclient

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cashflow-engine/pkg/logger"
)

type cacheEntry struct {
	value     PredictionSet
	expiresAt time.Time
}

// Cache is an in-process TTL cache of forecast results keyed by content fingerprint
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
	logger  logger.Logger
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithClock replaces the time source, mainly for tests
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithCacheLogger replaces the cache logger
func WithCacheLogger(l logger.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = l
	}
}

// NewCache creates an empty cache whose entries live for ttl
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.GetGlobalLogger().WithComponent("forecast-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live entry for key
func (c *Cache) Get(key string) (PredictionSet, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expiresAt) {
		return PredictionSet{}, false
	}
	return entry.value, true
}

// Set stores value under key. Identical keys imply identical inputs, so the last write wins.
func (c *Cache) Set(key string, value PredictionSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate removes one entry
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll empties the cache
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Cleanup removes expired entries and returns how many were dropped
func (c *Cache) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartCleanup runs Cleanup on a cron schedule (for example "@every 1h") in the
// background. The returned function stops the scheduler and waits for a running
// cleanup to finish.
func (c *Cache) StartCleanup(schedule string) (func(), error) {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(schedule, func() {
		removed := c.Cleanup()
		c.logger.WithFields(logger.Fields{
			"removed":   removed,
			"remaining": c.Len(),
		}).Debug("Forecast cache cleanup completed")
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule '%s': %w", schedule, err)
	}

	scheduler.Start()
	c.logger.WithField("schedule", schedule).Info("Forecast cache cleanup scheduled")

	return func() {
		<-scheduler.Stop().Done()
	}, nil
}

// CacheKey fingerprints a prepared series together with the request parameters.
// Every point takes part in the hash, so two histories with the same span and
// size but different balances get different keys.
func CacheKey(series []SeriesPoint, horizonDays int, confidenceLevels []float64) string {
	h := sha256.New()
	if len(series) > 0 {
		fmt.Fprintf(h, "%s|%s|", series[0].Date, series[len(series)-1].Date)
	}
	fmt.Fprintf(h, "%d|%d|", len(series), horizonDays)
	for _, level := range confidenceLevels {
		h.Write([]byte(strconv.FormatFloat(level, 'f', -1, 64)))
		h.Write([]byte{','})
	}
	for _, p := range series {
		h.Write([]byte(p.Date))
		h.Write([]byte{':'})
		h.Write([]byte(strconv.FormatFloat(p.Balance, 'f', -1, 64)))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
