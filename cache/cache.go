// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cache implements a bounded, time-aware store of captured HTTP responses.
// Entries are keyed by request method and full target URL and evicted
// in least-recently-used order once the store reaches its capacity.
package cache

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/simplelru"
)

const (
	DefaultMaxSize      = 1000
	DefaultTTL          = 5 * time.Minute
	DefaultMaxEntrySize = 10 << 20
)

// Entry is a captured response.
// Body and Header must not be modified after the entry is stored.
type Entry struct {
	Method     string
	URL        string
	Body       []byte
	Header     http.Header
	StatusCode int
	Timestamp  time.Time
	TTL        time.Duration
}

// Expired reports whether the entry age exceeds its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

type Config struct {
	// MaxSize is the maximum number of entries kept in the cache.
	MaxSize int

	// DefaultTTL is used when an entry is stored without explicit TTL.
	DefaultTTL time.Duration

	// MaxEntrySize limits the size of a single response body.
	// Larger responses are not cached.
	MaxEntrySize int64

	// OnEvict, if set, is called when an entry is evicted to make room for a new one.
	OnEvict func(e *Entry)

	// Now returns the current time, it defaults to time.Now.
	Now func() time.Time
}

func DefaultConfig() *Config {
	return &Config{
		MaxSize:      DefaultMaxSize,
		DefaultTTL:   DefaultTTL,
		MaxEntrySize: DefaultMaxEntrySize,
	}
}

// Stats holds counters describing cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// Cache is safe for concurrent use.
type Cache struct {
	mu  sync.Mutex
	lru *lru.LRU

	defaultTTL   time.Duration
	maxEntrySize int64
	onEvict      func(e *Entry)
	now          func() time.Time

	// evicting is set while Store makes room for a new entry,
	// it distinguishes capacity evictions from removals of expired or replaced entries.
	evicting bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache, non-positive config values are replaced with defaults.
func New(cfg *Config) *Cache {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Cache{
		defaultTTL:   cfg.DefaultTTL,
		maxEntrySize: cfg.MaxEntrySize,
		onEvict:      cfg.OnEvict,
		now:          cfg.Now,
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultTTL
	}
	if c.maxEntrySize <= 0 {
		c.maxEntrySize = DefaultMaxEntrySize
	}
	if c.now == nil {
		c.now = time.Now
	}

	size := cfg.MaxSize
	if size <= 0 {
		size = DefaultMaxSize
	}
	l, err := lru.NewLRU(size, c.evicted)
	if err != nil {
		panic(err) // size is always positive
	}
	c.lru = l

	return c
}

func (c *Cache) evicted(_, value interface{}) {
	if !c.evicting {
		return
	}
	c.evictions.Add(1)
	if c.onEvict != nil {
		c.onEvict(value.(*Entry)) //nolint:forcetypeassert // only *Entry is stored
	}
}

func key(method, url string) string {
	return method + ":" + url
}

// Lookup returns the entry for method and url if it is present and not expired.
// A hit promotes the entry to the most-recently-used position,
// an expired entry is removed.
func (c *Cache) Lookup(method, url string) (*Entry, bool) {
	if url == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(method, url)
	v, ok := c.lru.Get(k)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := v.(*Entry) //nolint:forcetypeassert // only *Entry is stored
	if e.Expired(c.now()) {
		c.lru.Remove(k)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)

	return e, true
}

// Store inserts or replaces the entry for method and url using the default TTL.
func (c *Cache) Store(method, url string, body []byte, header http.Header, statusCode int) {
	c.StoreTTL(method, url, body, header, statusCode, 0)
}

// StoreTTL is like Store but allows to set the entry TTL, ttl <= 0 means the default TTL.
// If the cache is full, the least-recently-used entry is evicted first.
func (c *Cache) StoreTTL(method, url string, body []byte, header http.Header, statusCode int, ttl time.Duration) {
	if url == "" {
		return
	}
	if int64(len(body)) > c.maxEntrySize {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	e := &Entry{
		Method:     method,
		URL:        url,
		Body:       body,
		Header:     header.Clone(),
		StatusCode: statusCode,
		Timestamp:  c.now(),
		TTL:        ttl,
	}
	if e.Header == nil {
		e.Header = make(http.Header)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(method, url)
	c.lru.Remove(k)
	c.evicting = true
	c.lru.Add(k, e)
	c.evicting = false
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of unexpired entries, expired entries are purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpired()
	return c.lru.Len()
}

func (c *Cache) purgeExpired() {
	now := c.now()
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if v.(*Entry).Expired(now) { //nolint:forcetypeassert // only *Entry is stored
			c.lru.Remove(k)
		}
	}
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}

// IsLookupMethod reports whether requests with the method are served from cache.
func IsLookupMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// IsCacheable reports whether a response may be stored.
// Only GET responses with status code below 400 are cacheable,
// unless the Cache-Control header contains no-cache or no-store.
func IsCacheable(method string, statusCode int, header http.Header) bool {
	if method != http.MethodGet {
		return false
	}
	if statusCode >= http.StatusBadRequest {
		return false
	}
	for _, v := range header.Values("Cache-Control") {
		if strings.Contains(v, "no-cache") || strings.Contains(v, "no-store") {
			return false
		}
	}
	return true
}
