// Package cache provides a short-lived, key-bounded response cache.
//
// Entries expire a fixed TTL after they were stored. The number of distinct
// keys is capped with an LRU so a stream of unique queries cannot grow the
// cache without bound.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxKeys bounds the number of distinct keys when none is configured.
const DefaultMaxKeys = 1024

// Entry is a cached value and the time it was stored.
type Entry[T any] struct {
	Value      T
	CapturedAt time.Time
}

// Fresh reports whether the entry is still within ttl at now.
func (e Entry[T]) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CapturedAt) < ttl
}

// Store is a TTL cache keyed by string. It is safe for concurrent use.
type Store[T any] struct {
	ttl     time.Duration
	entries *lru.Cache[string, Entry[T]]

	// Now is the clock used to stamp and expire entries. Defaults to time.Now.
	Now func() time.Time
}

// New creates a Store whose entries live for ttl. maxKeys <= 0 selects
// DefaultMaxKeys.
func New[T any](ttl time.Duration, maxKeys int) (*Store[T], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %v", ttl)
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	entries, err := lru.New[string, Entry[T]](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}

	return &Store[T]{
		ttl:     ttl,
		entries: entries,
		Now:     time.Now,
	}, nil
}

// TTL returns the entry lifetime.
func (s *Store[T]) TTL() time.Duration {
	return s.ttl
}

// Get returns the value stored under key if it is still fresh.
// An expired entry is removed and reported as absent.
func (s *Store[T]) Get(key string) (T, bool) {
	var zero T

	entry, ok := s.entries.Get(key)
	if !ok {
		return zero, false
	}
	if !entry.Fresh(s.Now(), s.ttl) {
		s.entries.Remove(key)
		return zero, false
	}
	return entry.Value, true
}

// Put stores value under key stamped with the current time, replacing any
// previous entry.
func (s *Store[T]) Put(key string, value T) {
	s.entries.Add(key, Entry[T]{Value: value, CapturedAt: s.Now()})
}

// Len returns the number of stored entries, fresh or not yet evicted.
func (s *Store[T]) Len() int {
	return s.entries.Len()
}
