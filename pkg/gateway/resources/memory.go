// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package resources

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// MemoryStore keeps resources in a lock-guarded map. It is meant for development
// and single-process deployments; nothing survives a restart.
type MemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	kind  kind[T]
	now   func() time.Time
}

// NewMemoryAdapterStore creates an empty in-memory adapter store.
func NewMemoryAdapterStore() *MemoryStore[gateway.AdapterDefinition] {
	return newMemoryStore(adapterKind)
}

// NewMemoryToolStore creates an empty in-memory tool store.
func NewMemoryToolStore() *MemoryStore[gateway.ToolResource] {
	return newMemoryStore(toolKind)
}

func newMemoryStore[T any](k kind[T]) *MemoryStore[T] {
	return &MemoryStore[T]{
		items: make(map[string]T),
		kind:  k,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ AdapterStore = (*MemoryStore[gateway.AdapterDefinition])(nil)
	_ ToolStore    = (*MemoryStore[gateway.ToolResource])(nil)
)

// TryGet implements Store.
func (s *MemoryStore[T]) TryGet(_ context.Context, name string) (T, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[name]
	return item, ok, nil
}

// Upsert implements Store.
func (s *MemoryStore[T]) Upsert(_ context.Context, resource T) (T, error) {
	if err := s.kind.validate(&resource); err != nil {
		return resource, err
	}
	name := s.kind.name(&resource)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	created := now
	if existing, ok := s.items[name]; ok {
		created = s.kind.created(&existing)
	}
	s.kind.stamp(&resource, created, now)
	s.items[name] = resource
	return resource, nil
}

// Delete implements Store.
func (s *MemoryStore[T]) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[name]; !ok {
		return fmt.Errorf("%w: %s %s", gateway.ErrNotFound, s.kind.label, name)
	}
	delete(s.items, name)
	return nil
}

// List implements Store.
func (s *MemoryStore[T]) List(_ context.Context) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.items))
	for name := range s.items {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]T, 0, len(names))
	for _, name := range names {
		result = append(result, s.items[name])
	}
	return result, nil
}

// Close implements Store.
func (*MemoryStore[T]) Close() error {
	return nil
}
