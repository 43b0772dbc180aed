// ABOUTME: Periodic progress sampler
// ABOUTME: Emits ticks on an isolated goroutine and computes progress samples
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/playbridge/playbridge/pkg/protocol"
)

// Default sampler timings
const (
	DefaultInterval = 100 * time.Millisecond

	// DefaultAutoSwitchCompensation is subtracted from the reported position
	// after a natural track change, since the host reports the new track's
	// position late.
	DefaultAutoSwitchCompensation = 750 * time.Millisecond
)

// Tick is one sampler period. Seq increases by one per emitted tick; gaps
// mean ticks were dropped because the consumer was busy.
type Tick struct {
	Seq uint64
	At  time.Time
}

// Sampler emits a tick every interval until stopped.
//
// The ticking goroutine knows nothing but the interval; all sampling work
// happens on whichever goroutine consumes Ticks.
type Sampler struct {
	interval time.Duration
	ticks    chan Tick

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	dropped uint64
}

// New creates a stopped sampler
func New(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		interval: interval,
		ticks:    make(chan Tick, 1),
	}
}

// Ticks returns the tick channel
func (s *Sampler) Ticks() <-chan Tick {
	return s.ticks
}

// Interval returns the sampling period
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Running reports whether the tick goroutine is active
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Dropped returns how many ticks were discarded
func (s *Sampler) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Start begins ticking. Calling Start while running does nothing.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop halts ticking and waits for the goroutine to exit. It is safe to
// call before Start and more than once.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sampler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			seq++
			select {
			case s.ticks <- Tick{Seq: seq, At: now}:
			default:
				s.mu.Lock()
				s.dropped++
				s.mu.Unlock()
			}
		}
	}
}

// Sample turns a host position reading into the progress payload.
//
// When autoSwitched is set the compensation is subtracted from the position,
// floored at zero. Percentage is 0 when the duration is unknown.
func Sample(positionMs, durationMs int64, autoSwitched bool, compensation time.Duration) protocol.ProgressSample {
	progress := positionMs
	if autoSwitched {
		progress -= compensation.Milliseconds()
	}
	if progress < 0 {
		progress = 0
	}

	var percentage float64
	if durationMs > 0 {
		percentage = float64(progress) / float64(durationMs) * 100
	}

	return protocol.ProgressSample{
		Progress:   progress,
		Duration:   durationMs,
		Percentage: percentage,
	}
}
