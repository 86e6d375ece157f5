// Package memory provides an in-memory implementation of storage.Store for
// testing and lightweight deployments. Exchanges are lost when the process
// restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/polygate/polygate/pkg/storage"
)

// entry holds a stored exchange and its metadata.
type entry struct {
	ex       *storage.Exchange
	tenantID string
	lruElem  *list.Element
}

// Store is an in-memory exchange store with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used
	maxSize int        // 0 = unlimited
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used entry is evicted
// when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveExchange persists an exchange in memory.
func (s *Store) SaveExchange(ctx context.Context, ex *storage.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[ex.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(ex.ID)
	s.entries[ex.ID] = &entry{
		ex:       ex,
		tenantID: storage.GetTenant(ctx),
		lruElem:  elem,
	}
	return nil
}

// GetExchange retrieves an exchange by ID, scoped by tenant when a tenant
// is present in the context.
func (s *Store) GetExchange(ctx context.Context, id string) (*storage.Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if tenantID := storage.GetTenant(ctx); tenantID != "" && e.tenantID != tenantID {
		return nil, storage.ErrNotFound
	}

	s.lruList.MoveToFront(e.lruElem)
	return e.ex, nil
}

// ListExchanges returns matching exchanges newest first.
func (s *Store) ListExchanges(ctx context.Context, opts storage.ListOptions) ([]*storage.Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := storage.GetTenant(ctx)
	var matches []*storage.Exchange
	for _, e := range s.entries {
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		if opts.Model != "" && e.ex.Model != opts.Model {
			continue
		}
		matches = append(matches, e.ex)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
