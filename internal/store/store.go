package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agis/tempo/internal/contract"
)

var ErrNotFound = errors.New("commitment not found")

type Filter struct {
	From        time.Time
	To          time.Time
	IncludeDone bool
	Limit       int
}

type CreateInput struct {
	Title string
	Start time.Time
	End   time.Time
}

// Store persists commitments per owner. List returns commitments whose
// interval intersects [From, To) ordered by start, then ID.
type Store interface {
	List(ctx context.Context, owner string, f Filter) ([]contract.Commitment, error)
	Get(ctx context.Context, owner, id string) (*contract.Commitment, error)
	Create(ctx context.Context, owner string, in CreateInput) (*contract.Commitment, error)
	UpdateBatch(ctx context.Context, owner string, items []contract.Commitment) error
	SetCompleted(ctx context.Context, owner, id string, done bool) (*contract.Commitment, error)
	Delete(ctx context.Context, owner, id string) error
	Guard(ctx context.Context, owner string, fn func(context.Context) error) error
	Close() error
}

// ownerLocks serialises read-classify-write sequences per owner within a
// process.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func (l *ownerLocks) guard(ctx context.Context, owner string, fn func(context.Context) error) error {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]chan struct{}{}
	}
	ch, ok := l.locks[owner]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[owner] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()
	return fn(ctx)
}

func intersects(c contract.Commitment, f Filter) bool {
	if !f.To.IsZero() && !c.Start.Before(f.To) {
		return false
	}
	if !f.From.IsZero() && !f.From.Before(c.End) {
		return false
	}
	return f.IncludeDone || !c.Completed
}
