package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/google/uuid"
)

type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]contract.Commitment
	now   func() time.Time
	locks ownerLocks
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[string]contract.Commitment{}, now: time.Now}
}

func (s *MemoryStore) List(_ context.Context, owner string, f Filter) ([]contract.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contract.Commitment, 0)
	for _, c := range s.items {
		if c.Owner != owner || !intersects(c, f) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, owner, id string) (*contract.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	if !ok || c.Owner != owner {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &c, nil
}

func (s *MemoryStore) Create(_ context.Context, owner string, in CreateInput) (*contract.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC()
	c := contract.Commitment{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     in.Title,
		Start:     in.Start,
		End:       in.End,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	s.items[c.ID] = c
	return &c, nil
}

// Put inserts c as-is. Intended for fixtures.
func (s *MemoryStore) Put(c contract.Commitment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.ID] = c
}

func (s *MemoryStore) UpdateBatch(_ context.Context, owner string, items []contract.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if cur, ok := s.items[it.ID]; !ok || cur.Owner != owner {
			return fmt.Errorf("%w: %s", ErrNotFound, it.ID)
		}
	}
	ts := s.now().UTC()
	for _, it := range items {
		cur := s.items[it.ID]
		cur.Title, cur.Start, cur.End, cur.Completed = it.Title, it.Start, it.End, it.Completed
		cur.UpdatedAt = ts
		s.items[it.ID] = cur
	}
	return nil
}

func (s *MemoryStore) SetCompleted(_ context.Context, owner, id string, done bool) (*contract.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok || c.Owner != owner {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Completed = done
	c.UpdatedAt = s.now().UTC()
	s.items[id] = c
	return &c, nil
}

func (s *MemoryStore) Delete(_ context.Context, owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok || c.Owner != owner {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) Guard(ctx context.Context, owner string, fn func(context.Context) error) error {
	return s.locks.guard(ctx, owner, fn)
}

func (s *MemoryStore) Close() error { return nil }
