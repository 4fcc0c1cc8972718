package clock

import (
	"context"
	"sync"
	"time"
)

// TaskSet pins background goroutines so they run to completion and can be
// cancelled or awaited collectively. Each task is removed from the set
// when it returns.
type TaskSet struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[int64]context.CancelFunc
	next    int64
}

// NewTaskSet returns an empty set.
func NewTaskSet() *TaskSet {
	return &TaskSet{cancels: make(map[int64]context.CancelFunc)}
}

// Go runs fn on a new goroutine. The returned cancel function interrupts
// the task's context; it is safe to call after the task has finished.
func (s *TaskSet) Go(parent context.Context, fn func(ctx context.Context)) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	id := s.next
	s.next++
	s.cancels[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
			s.wg.Done()
		}()
		fn(ctx)
	}()
	return cancel
}

// Shutdown cancels every outstanding task and waits for all of them.
func (s *TaskSet) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Sleep blocks for d or until ctx is cancelled. It reports whether the
// full duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
