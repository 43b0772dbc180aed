// ABOUTME: Playback event listeners and the song change classifier
// ABOUTME: Keeps one handler per event kind and tracks the auto-switch flag
package listeners

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/playbridge/playbridge/internal/host"
)

// DefaultNaturalEndThreshold is how close to the end of the previous track
// the last observed position must be for a change to count as natural
const DefaultNaturalEndThreshold = 3550 * time.Millisecond

// Handler reacts to a host event
type Handler func(host.Event)

// Registry holds at most one handler per event kind
type Registry struct {
	mu       sync.RWMutex
	handlers map[host.EventKind]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[host.EventKind]Handler)}
}

// Register installs h for kind, replacing any earlier handler
func (r *Registry) Register(kind host.EventKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Len returns the number of registered handlers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Dispatch runs the handler for ev, if any. It reports whether one ran.
func (r *Registry) Dispatch(ev host.Event) bool {
	r.mu.RLock()
	h, ok := r.handlers[ev.Kind]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	h(ev)
	return true
}

// Tracker classifies song changes. It is owned by the bridge loop and is
// not safe for concurrent use.
type Tracker struct {
	threshold        time.Duration
	autoSwitched     bool
	previousDuration int64
	lastProgress     int64
	logger           *log.Logger
}

// NewTracker creates a tracker with the given natural end threshold
func NewTracker(threshold time.Duration, logger *log.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultNaturalEndThreshold
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{threshold: threshold, logger: logger.With("component", "listeners")}
}

// ObserveProgress records the most recently emitted progress
func (t *Tracker) ObserveProgress(progressMs int64) {
	t.lastProgress = progressMs
}

// AutoSwitched reports whether the current track was entered by a natural end
func (t *Tracker) AutoSwitched() bool {
	return t.autoSwitched
}

// SetPreviousDuration seeds the duration of the track playing at startup
func (t *Tracker) SetPreviousDuration(durationMs int64) {
	t.previousDuration = durationMs
}

// SongChanged classifies a transition and records the new track duration.
// It returns the updated auto-switch flag.
func (t *Tracker) SongChanged(repeat host.RepeatMode, newDurationMs int64) bool {
	natural := IsNaturalEnd(t.lastProgress, t.previousDuration, t.threshold, repeat)
	t.autoSwitched = natural

	if natural {
		t.logger.Info("song ended naturally", "previous_duration", t.previousDuration, "last_progress", t.lastProgress)
	} else {
		t.logger.Info("song ended abruptly", "previous_duration", t.previousDuration, "last_progress", t.lastProgress)
	}

	t.previousDuration = newDurationMs
	return natural
}

// SongChangedUnclassified records a transition that could not be
// classified. The new track is treated as entered by a skip.
func (t *Tracker) SongChangedUnclassified(newDurationMs int64) {
	t.autoSwitched = false
	t.previousDuration = newDurationMs
}

// PlayPause observes a play state change
func (t *Tracker) PlayPause(playing bool) {
	t.logger.Debug("play state changed", "playing", playing)
}

// IsNaturalEnd reports whether the previous track ran to its end: the last
// observed position was within threshold of its duration and the host was
// not repeating a single track.
func IsNaturalEnd(lastProgressMs, previousDurationMs int64, threshold time.Duration, repeat host.RepeatMode) bool {
	return lastProgressMs > previousDurationMs-threshold.Milliseconds() && repeat != host.RepeatTrack
}
