package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/output"
	"github.com/agis/tempo/internal/store"
)

func commandContext(ro *globalOptions) (context.Context, context.CancelFunc) {
	timing := &timingRecorder{calls: map[string]time.Duration{}}
	base := context.WithValue(context.Background(), timingContextKey{}, timing)
	if ro == nil || ro.Timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, ro.Timeout)
}

type timeoutResult[T any] struct {
	val T
	err error
}

type timingContextKey struct{}

type timingRecorder struct {
	mu    sync.Mutex
	calls map[string]time.Duration
}

func (r *timingRecorder) add(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name] += d
}

func storeTimings(ctx context.Context) map[string]string {
	rec, _ := ctx.Value(timingContextKey{}).(*timingRecorder)
	if rec == nil {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rec.calls))
	for k := range rec.calls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = rec.calls[k].String()
	}
	return out
}

func recordTiming(ctx context.Context, name string, d time.Duration) {
	rec, _ := ctx.Value(timingContextKey{}).(*timingRecorder)
	if rec == nil {
		return
	}
	rec.add(name, d)
}

type guardedContextKey struct{}

// withTimeout returns as soon as ctx ends. Inside a guarded section it waits
// for fn instead, so no write can land after the owner's lock is released.
func withTimeout[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	if guarded, _ := ctx.Value(guardedContextKey{}).(bool); guarded {
		return fn()
	}
	ch := make(chan timeoutResult[T], 1)
	go func() {
		v, err := fn()
		ch <- timeoutResult[T]{val: v, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.val, res.err
	}
}

func timed[T any](ctx context.Context, phase string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := withTimeout(ctx, fn)
	err = annotateStoreError(ctx, phase, err)
	recordTiming(ctx, phase, time.Since(start))
	return v, err
}

func listWithTimeout(ctx context.Context, st store.Store, owner string, f store.Filter) ([]contract.Commitment, error) {
	return timed(ctx, "store.list", func() ([]contract.Commitment, error) {
		return st.List(ctx, owner, f)
	})
}

func getWithTimeout(ctx context.Context, st store.Store, owner, id string) (*contract.Commitment, error) {
	return timed(ctx, "store.get", func() (*contract.Commitment, error) {
		return st.Get(ctx, owner, id)
	})
}

func createWithTimeout(ctx context.Context, st store.Store, owner string, in store.CreateInput) (*contract.Commitment, error) {
	return timed(ctx, "store.create", func() (*contract.Commitment, error) {
		return st.Create(ctx, owner, in)
	})
}

func updateBatchWithTimeout(ctx context.Context, st store.Store, owner string, items []contract.Commitment) error {
	_, err := timed(ctx, "store.update_batch", func() (struct{}, error) {
		return struct{}{}, st.UpdateBatch(ctx, owner, items)
	})
	return err
}

func setCompletedWithTimeout(ctx context.Context, st store.Store, owner, id string, done bool) (*contract.Commitment, error) {
	return timed(ctx, "store.set_completed", func() (*contract.Commitment, error) {
		return st.SetCompleted(ctx, owner, id, done)
	})
}

func deleteWithTimeout(ctx context.Context, st store.Store, owner, id string) error {
	_, err := timed(ctx, "store.delete", func() (struct{}, error) {
		return struct{}{}, st.Delete(ctx, owner, id)
	})
	return err
}

// guardWithTimeout runs fn inside the owner's read-classify-write barrier.
// Errors returned by fn pass through unannotated.
func guardWithTimeout(ctx context.Context, st store.Store, owner string, fn func(context.Context) error) error {
	start := time.Now()
	entered := false
	ctx = context.WithValue(ctx, guardedContextKey{}, true)
	err := st.Guard(ctx, owner, func(ctx context.Context) error {
		entered = true
		recordTiming(ctx, "store.guard_wait", time.Since(start))
		return fn(ctx)
	})
	if !entered {
		err = annotateStoreError(ctx, "store.guard", err)
	}
	return err
}

func successWithMeta(ctx context.Context, p output.Printer, ro *globalOptions, data any, meta map[string]any, warnings []string) error {
	if ro != nil && ro.Verbose {
		if timings := storeTimings(ctx); len(timings) > 0 {
			if meta == nil {
				meta = map[string]any{}
			}
			meta["timings"] = timings
			ro.log.Debug().Interface("timings", timings).Msg("store timings")
		}
	}
	return p.Success(data, meta, warnings)
}

type storeContextError struct {
	Phase    string
	Kind     string
	Deadline *time.Time
	Err      error
}

func (e *storeContextError) Error() string {
	if e == nil {
		return "store error"
	}
	switch e.Kind {
	case "timeout":
		if e.Deadline != nil {
			return fmt.Sprintf("%s timed out after deadline %s: %v", e.Phase, e.Deadline.Format(time.RFC3339), e.Err)
		}
		return fmt.Sprintf("%s timed out: %v", e.Phase, e.Err)
	case "canceled":
		return fmt.Sprintf("%s canceled: %v", e.Phase, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *storeContextError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func annotateStoreError(ctx context.Context, phase string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		var dl *time.Time
		if deadline, ok := ctx.Deadline(); ok {
			deadline = deadline.UTC()
			dl = &deadline
		}
		return &storeContextError{Phase: phase, Kind: "timeout", Deadline: dl, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &storeContextError{Phase: phase, Kind: "canceled", Err: err}
	}
	return err
}

func storeErrorMeta(err error) map[string]any {
	var se *storeContextError
	if !errors.As(err, &se) || se == nil {
		return nil
	}
	meta := map[string]any{
		"phase": se.Phase,
		"kind":  se.Kind,
	}
	if se.Deadline != nil {
		meta["deadline"] = se.Deadline.Format(time.RFC3339)
	}
	return meta
}
