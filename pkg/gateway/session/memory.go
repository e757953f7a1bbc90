// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// DefaultSweepInterval is how often MemoryStore drops expired entries.
const DefaultSweepInterval = time.Minute

type memoryEntry struct {
	route     gateway.Route
	ttl       time.Duration
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore implements Store for a single gateway process.
// It must not be used when more than one replica serves traffic.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	clock   clock.WithTicker

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates an in-memory store and starts its background sweeper.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clock.RealClock{}, DefaultSweepInterval)
}

// NewMemoryStoreWithClock creates an in-memory store driven by the given clock.
// A non-positive sweep interval disables the sweeper; expired entries are still never returned.
func NewMemoryStoreWithClock(clk clock.WithTicker, sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		clock:   clk,
		stopCh:  make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweep(sweepInterval)
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (gateway.Route, error) {
	if key == "" {
		return gateway.Route{}, fmt.Errorf("%w: key is required", gateway.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	e, ok := s.entries[key]
	if !ok {
		return gateway.Route{}, ErrRouteNotFound
	}
	if e.expired(now) {
		delete(s.entries, key)
		return gateway.Route{}, ErrRouteNotFound
	}

	if e.ttl > 0 {
		e.expiresAt = now.Add(e.ttl)
	}
	return withExpiry(e.route, now, e.ttl), nil
}

// PutIfAbsentOrExpired implements Store.
func (s *MemoryStore) PutIfAbsentOrExpired(_ context.Context, key string, route gateway.Route, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("%w: key is required", gateway.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	s.put(key, route, ttl, now)
	return true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, route gateway.Route, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", gateway.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, route, ttl, s.clock.Now())
	return nil
}

func (s *MemoryStore) put(key string, route gateway.Route, ttl time.Duration, now time.Time) {
	e := &memoryEntry{route: route, ttl: ttl}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// DeleteIfOwned implements Store.
func (s *MemoryStore) DeleteIfOwned(_ context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.clock.Now()) || e.route.InstanceID != owner {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close implements Store. It stops the sweeper and drops every entry.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		s.entries = make(map[string]*memoryEntry)
		s.mu.Unlock()
	})
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C():
			s.deleteExpired()
		}
	}
}

func (s *MemoryStore) deleteExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
		}
	}
}
