// Package ratelimit provides a fixed-window per-identifier counter used
// to throttle sensitive account endpoints. It is a defense-in-depth
// control, not a hard limiter: racy over/under counts are acceptable,
// and the map is process-local (a multi-instance deployment needs a
// shared store instead).
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/merchantdash/auth-front/internal/log"
)

// Result is the outcome of one attempt.
type Result struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

type window struct {
	count   atomic.Int64
	resetAt atomic.Int64 // unix nanos
}

// Limiter counts attempts per identifier within fixed windows.
type Limiter struct {
	maxAttempts int
	window      time.Duration
	windows     sync.Map // identifier -> *window

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// New creates a limiter allowing maxAttempts per identifier per window.
func New(maxAttempts int, windowSize time.Duration) *Limiter {
	return &Limiter{
		maxAttempts: maxAttempts,
		window:      windowSize,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Attempt records one attempt for identifier and reports whether it is
// within the window budget.
func (l *Limiter) Attempt(identifier string) Result {
	now := time.Now()

	v, _ := l.windows.LoadOrStore(identifier, &window{})
	w := v.(*window)

	resetAt := w.resetAt.Load()
	if resetAt == 0 || now.UnixNano() >= resetAt {
		// Window expired, start a fresh one. Concurrent callers may both
		// reset; the resulting slight undercount is acceptable here.
		w.resetAt.Store(now.Add(l.window).UnixNano())
		w.count.Store(0)
		resetAt = w.resetAt.Load()
	}

	count := w.count.Add(1)
	remaining := l.maxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(l.maxAttempts),
		Remaining: remaining,
		ResetTime: time.Unix(0, resetAt),
	}
}

// StartSweeper begins the periodic removal of expired windows so the map
// does not grow with every identifier ever seen.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	log.LogInfoWithFields("ratelimit", "Starting window sweeper", map[string]any{
		"interval": interval.String(),
	})

	go l.run(ctx, interval)
}

// Stop terminates the sweeper and waits for it to finish.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
		<-l.doneChan
	})
}

func (l *Limiter) run(ctx context.Context, interval time.Duration) {
	defer close(l.doneChan)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Limiter) sweep() {
	now := time.Now().UnixNano()
	removed := 0

	l.windows.Range(func(key, value any) bool {
		w := value.(*window)
		if resetAt := w.resetAt.Load(); resetAt != 0 && now >= resetAt {
			l.windows.Delete(key)
			removed++
		}
		return true
	})

	if removed > 0 {
		log.LogDebugWithFields("ratelimit", "Swept expired windows", map[string]any{
			"removed": removed,
		})
	}
}
