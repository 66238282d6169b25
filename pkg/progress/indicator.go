// Package progress interleaves "still working" notices with the output of slow
// units of work and lets a unit be cancelled by request id.
package progress

import (
	"context"
	"sync"
	"time"
)

// DefaultMessages are cycled through when Config.Messages is empty.
var DefaultMessages = []string{
	"Working on it...",
	"Still gathering information...",
	"Almost there, putting the answer together...",
}

// Defaults used by New for non-positive durations.
const (
	DefaultThreshold = 2 * time.Second
	DefaultInterval  = 3 * time.Second
)

// Config controls when notices appear. Zero fields take DefaultThreshold,
// DefaultInterval and DefaultMessages.
type Config struct {
	Messages  []string
	Threshold time.Duration // quiet period before the first notice
	Interval  time.Duration // gap between later notices
}

// Notice describes one progress notice.
type Notice struct {
	Message string
	Elapsed time.Duration
	Seq     int // 1 for the first notice of a unit
}

type tracked struct {
	cancel context.CancelFunc
}

// Indicator tracks running units of work by request id.
type Indicator struct {
	active map[string]*tracked
	config Config
	mu     sync.Mutex
}

// New creates an Indicator.
func New(cfg Config) *Indicator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if len(cfg.Messages) == 0 {
		cfg.Messages = DefaultMessages
	}
	return &Indicator{active: make(map[string]*tracked), config: cfg}
}

// Cancel cancels the unit running under requestID. It reports whether one was
// running.
func (ind *Indicator) Cancel(requestID string) bool {
	ind.mu.Lock()
	t, ok := ind.active[requestID]
	ind.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// Active returns how many units are running.
func (ind *Indicator) Active() int {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return len(ind.active)
}

func (ind *Indicator) register(requestID string, cancel context.CancelFunc) *tracked {
	t := &tracked{cancel: cancel}
	ind.mu.Lock()
	ind.active[requestID] = t
	ind.mu.Unlock()
	return t
}

func (ind *Indicator) unregister(requestID string, t *tracked) {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	if ind.active[requestID] == t {
		delete(ind.active, requestID)
	}
}

func (ind *Indicator) notice(seq int, started time.Time) Notice {
	msgs := ind.config.Messages
	return Notice{
		Message: msgs[(seq-1)%len(msgs)],
		Elapsed: time.Since(started),
		Seq:     seq,
	}
}

// Track runs work as one cancellable unit and returns its output sequence.
//
// work receives a context that ends when ctx ends or Cancel(requestID) is
// called, and an emit function that forwards values in order; emit reports
// false once the consumer is gone. If nothing has been emitted after the
// threshold, values built by toItem are inserted every interval until the
// first emitted value. The returned channel closes when work returns.
func Track[T any](ctx context.Context, ind *Indicator, requestID string, work func(ctx context.Context, emit func(T) bool), toItem func(Notice) T) <-chan T {
	workCtx, cancel := context.WithCancel(ctx)
	t := ind.register(requestID, cancel)

	results := make(chan T)
	go func() {
		defer close(results)
		work(workCtx, func(v T) bool {
			// Sends are bound to the caller's ctx so a cancelled unit can
			// still report how it ended.
			select {
			case results <- v:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	out := make(chan T)
	go func() {
		defer close(out)
		defer ind.unregister(requestID, t)
		defer cancel()

		started := time.Now()
		timer := time.NewTimer(ind.config.Threshold)
		defer timer.Stop()
		var ticker *time.Ticker
		defer func() {
			if ticker != nil {
				ticker.Stop()
			}
		}()

		waiting := timer.C
		var tick <-chan time.Time
		seq := 0
		for {
			select {
			case v, ok := <-results:
				if !ok {
					return
				}
				waiting, tick = nil, nil
				select {
				case out <- v:
				case <-ctx.Done():
					drain(results)
					return
				}
			case <-waiting:
				waiting = nil
				ticker = time.NewTicker(ind.config.Interval)
				tick = ticker.C
				seq++
				if !sendItem(ctx, out, toItem(ind.notice(seq, started))) {
					drain(results)
					return
				}
			case <-tick:
				seq++
				if !sendItem(ctx, out, toItem(ind.notice(seq, started))) {
					drain(results)
					return
				}
			}
		}
	}()
	return out
}

func sendItem[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// drain waits for work to stop; emit already fails because ctx is done.
func drain[T any](results <-chan T) {
	for range results {
	}
}
