package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quoteflow/logger"
)

// DefaultTTL is used when neither Put nor WithDefaultTTL supply one.
const DefaultTTL = 300 * time.Second

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache maps keys to values that expire lazily.
//
// When a directory is configured every Put is mirrored to <dir>/<key>.json.
// A key missing from memory is looked up there, using the file's modification
// time plus the default TTL as its expiry. Put stamps the modification time so
// that this sum equals the entry's own expiry, which keeps per-Put TTLs intact
// across restarts without opening stale files.
//
// Cache is not safe for concurrent use; callers serialize access.
type Cache[V any] struct {
	entries    map[string]entry[V]
	clock      Clock
	dir        string
	defaultTTL time.Duration
	log        *logger.Entry
}

type settings struct {
	clock      Clock
	dir        string
	defaultTTL time.Duration
	log        *logger.Entry
}

// Option configures a Cache.
type Option func(*settings)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithDir enables the file mirror under dir.
func WithDir(dir string) Option {
	return func(s *settings) { s.dir = dir }
}

// WithDefaultTTL sets the TTL applied when Put receives ttl <= 0.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithLogger sets the entry used for warnings.
func WithLogger(log *logger.Entry) Option {
	return func(s *settings) { s.log = log }
}

// New creates an empty cache.
func New[V any](opts ...Option) *Cache[V] {
	s := settings{
		clock:      systemClock{},
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.GetLogger().WithComponent("cache")
	}
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		clock:      s.clock,
		dir:        s.dir,
		defaultTTL: s.defaultTTL,
		log:        s.log,
	}
}

// Get returns the value for key if it has not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.clock.Now()
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			logger.IncrementCacheHit()
			return e.value, true
		}
		delete(c.entries, key)
		if c.dir != "" {
			// the mirror holds the same expired value
			_ = os.Remove(c.path(key))
		}
	} else if c.dir != "" {
		if v, ok := c.readFile(key, now); ok {
			logger.IncrementCacheHit()
			return v, true
		}
	}

	logger.IncrementCacheMiss()
	var zero V
	return zero, false
}

// Put stores value under key for ttl, or the default TTL when ttl <= 0.
// An existing entry is overwritten. Mirror write failures are logged only.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expiresAt := c.clock.Now().Add(ttl)
	c.entries[key] = entry[V]{value: value, expiresAt: expiresAt}

	if c.dir != "" {
		if err := c.writeFile(key, value, expiresAt); err != nil {
			c.log.WithError(err).WithFields(logger.Fields{"key": key}).Warn("cache write failed")
		}
	}
}

// Clear drops every entry and removes mirrored files.
func (c *Cache[V]) Clear() {
	c.entries = make(map[string]entry[V])
	if c.dir == "" {
		return
	}
	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		c.log.WithError(err).Warn("cache clear glob failed")
		return
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.WithError(err).WithFields(logger.Fields{"file": f}).Warn("cache clear remove failed")
		}
	}
}

// Evict removes expired memory entries and mirror files older than the
// default TTL. It returns the number of files removed.
func (c *Cache[V]) Evict() int {
	now := c.clock.Now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if c.dir == "" {
		return 0
	}

	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		c.log.WithError(err).Warn("cache evict glob failed")
		return 0
	}
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < c.defaultTTL {
			continue
		}
		if err := os.Remove(f); err == nil {
			removed++
		}
	}
	if removed > 0 {
		c.log.WithFields(logger.Fields{"removed": removed, "dir": c.dir}).Info("evicted stale cache files")
	}
	return removed
}

// Len reports the number of in-memory entries, including expired ones not
// yet looked up.
func (c *Cache[V]) Len() int {
	return len(c.entries)
}

// DefaultTTL returns the TTL applied to Put calls with ttl <= 0.
func (c *Cache[V]) DefaultTTL() time.Duration {
	return c.defaultTTL
}

func (c *Cache[V]) path(key string) string {
	safe := strings.NewReplacer("/", "_", `\`, "_").Replace(key)
	return filepath.Join(c.dir, safe+".json")
}

// readFile checks freshness from the file mtime before opening it.
func (c *Cache[V]) readFile(key string, now time.Time) (V, bool) {
	var zero V
	p := c.path(key)
	info, err := os.Stat(p)
	if err != nil {
		return zero, false
	}
	expiresAt := info.ModTime().Add(c.defaultTTL)
	if !now.Before(expiresAt) {
		return zero, false
	}

	data, err := os.ReadFile(p)
	if err != nil {
		c.log.WithError(err).WithFields(logger.Fields{"key": key}).Warn("cache read failed")
		return zero, false
	}
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		c.log.WithError(err).WithFields(logger.Fields{"key": key}).Warn("cache decode failed")
		return zero, false
	}
	c.entries[key] = entry[V]{value: v, expiresAt: expiresAt}
	return v, true
}

func (c *Cache[V]) writeFile(key string, value V, expiresAt time.Time) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	p := c.path(key)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return err
	}
	stamp := expiresAt.Add(-c.defaultTTL)
	if err := os.Chtimes(p, stamp, stamp); err != nil {
		return fmt.Errorf("stamp expiry: %w", err)
	}
	return nil
}

// Key derives a cache key from an operation name and its parameters.
// Map keys are encoded in sorted order, so parameter order does not matter.
func Key(op string, params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", params))
	}
	sum := md5.Sum(data)
	return op + "_" + hex.EncodeToString(sum[:])
}
