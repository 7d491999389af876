// Package progress holds display state for the running action.
package progress

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Sink receives progress from an action. A total of zero means the amount of
// work is unknown.
type Sink interface {
	Update(current, total int64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(current, total int64)

func (f SinkFunc) Update(current, total int64) { f(current, total) }

// Discard drops every update.
var Discard Sink = SinkFunc(func(int64, int64) {})

type Snapshot struct {
	Current int64
	Total   int64
	Caption string
	Visible bool
}

// Indeterminate reports whether the total is unknown.
func (s Snapshot) Indeterminate() bool { return s.Total <= 0 }

// Fraction is Current/Total clamped to [0, 1], or 0 when indeterminate.
func (s Snapshot) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	f := float64(s.Current) / float64(s.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Reporter is safe for concurrent use; readers never see a half-applied update.
type Reporter struct {
	mu   sync.RWMutex
	snap Snapshot
}

func (r *Reporter) Update(current, total int64) {
	r.mu.Lock()
	r.snap.Current, r.snap.Total, r.snap.Visible = current, total, true
	r.mu.Unlock()
}

func (r *Reporter) SetCaption(caption string) {
	r.mu.Lock()
	r.snap.Caption = caption
	r.mu.Unlock()
}

// Reset hides the reporter and clears its counters.
func (r *Reporter) Reset() {
	r.mu.Lock()
	r.snap = Snapshot{}
	r.mu.Unlock()
}

func (r *Reporter) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Throttled forwards updates to next at most once per interval. Updates
// reaching the total always pass so the final state is never dropped.
type Throttled struct {
	next    Sink
	clock   clockwork.Clock
	limiter *rate.Limiter
	mu      sync.Mutex
}

func NewThrottled(next Sink, interval time.Duration, clock clockwork.Clock) *Throttled {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Throttled{
		next:    next,
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (t *Throttled) Update(current, total int64) {
	t.mu.Lock()
	pass := (total > 0 && current >= total) || t.limiter.AllowN(t.clock.Now(), 1)
	t.mu.Unlock()
	if pass {
		t.next.Update(current, total)
	}
}
