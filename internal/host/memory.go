// ABOUTME: In-memory host that simulates a playing queue
// ABOUTME: Used for local runs without a media player and as a test double
package host

import (
	"context"
	"sync"
	"time"
)

// restartThreshold is how far into a track Previous restarts it instead of
// going back one entry
const restartThreshold = 3 * time.Second

// Memory is a Host backed by a fixed queue. Position advances with the
// clock while playing; Watch advances the queue when a track runs out.
type Memory struct {
	mu       sync.Mutex
	queue    []Track
	index    int
	playing  bool
	volume   float64
	repeat   RepeatMode
	shuffle  bool
	position time.Duration // position at mark
	mark     time.Time

	now    func() time.Time
	events chan Event
	poll   time.Duration
}

// NewMemory creates a paused host positioned at the start of the queue
func NewMemory(queue []Track) *Memory {
	return &Memory{
		queue:  queue,
		volume: 1,
		now:    time.Now,
		events: make(chan Event, 16),
		poll:   250 * time.Millisecond,
	}
}

// DemoQueue is the queue served by the memory host when none is configured
func DemoQueue() []Track {
	return []Track{
		{ID: "demo:track:1", Title: "Opening", Artist: "Playbridge", Album: "Demo", DurationMs: 30000, ImageURI: "spotify:image:ab67616d0000b273demo0001"},
		{ID: "demo:track:2", Title: "Interlude", Artist: "Playbridge", Album: "Demo", DurationMs: 20000},
		{ID: "demo:track:3", Title: "Closing", Artist: "Playbridge", Album: "Demo", DurationMs: 25000},
	}
}

func (h *Memory) Ping() error { return nil }

func (h *Memory) Events() <-chan Event { return h.events }

func (h *Memory) Close() error { return nil }

// Watch checks for the end of the current track until ctx is cancelled
func (h *Memory) Watch(ctx context.Context) error {
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.checkEnd()
		}
	}
}

// checkEnd advances past a finished track the way a player does on its own
func (h *Memory) checkEnd() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.playing || len(h.queue) == 0 {
		return
	}
	if h.elapsedLocked().Milliseconds() < h.queue[h.index].DurationMs {
		return
	}

	switch {
	case h.repeat == RepeatTrack:
		// same entry again
	case h.index+1 < len(h.queue):
		h.index++
	case h.repeat == RepeatContext:
		h.index = 0
	default:
		h.playing = false
	}
	h.seekLocked(0)
	h.emitLocked(SongChange)
}

func (h *Memory) elapsedLocked() time.Duration {
	if !h.playing {
		return h.position
	}
	return h.position + h.now().Sub(h.mark)
}

func (h *Memory) seekLocked(pos time.Duration) {
	h.position = pos
	h.mark = h.now()
}

func (h *Memory) setPlayingLocked(playing bool) {
	if h.playing == playing {
		return
	}
	h.position = h.elapsedLocked()
	h.mark = h.now()
	h.playing = playing
	h.emitLocked(PlayPause)
}

func (h *Memory) emitLocked(kind EventKind) {
	select {
	case h.events <- Event{Kind: kind, Playing: h.playing}:
	default:
	}
}

func (h *Memory) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return ErrNoTrack
	}
	h.setPlayingLocked(true)
	return nil
}

func (h *Memory) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setPlayingLocked(false)
	return nil
}

func (h *Memory) TogglePlay() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return ErrNoTrack
	}
	h.setPlayingLocked(!h.playing)
	return nil
}

func (h *Memory) Next() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return ErrNoTrack
	}
	h.index = (h.index + 1) % len(h.queue)
	h.seekLocked(0)
	h.emitLocked(SongChange)
	return nil
}

func (h *Memory) Previous() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return ErrNoTrack
	}
	if h.elapsedLocked() < restartThreshold {
		h.index = (h.index - 1 + len(h.queue)) % len(h.queue)
	}
	h.seekLocked(0)
	h.emitLocked(SongChange)
	return nil
}

func (h *Memory) Seek(positionMs int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return ErrNoTrack
	}
	if positionMs < 0 {
		positionMs = 0
	}
	if d := h.queue[h.index].DurationMs; positionMs > d {
		positionMs = d
	}
	h.seekLocked(time.Duration(positionMs) * time.Millisecond)
	return nil
}

func (h *Memory) SetVolume(level float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = ClampVolume(level)
	return nil
}

func (h *Memory) SetRepeat(mode RepeatMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.repeat = mode
	return nil
}

func (h *Memory) ToggleShuffle() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shuffle = !h.shuffle
	return nil
}

func (h *Memory) Status() (Status, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		Playing: h.playing,
		Volume:  h.volume,
		Repeat:  h.repeat,
		Shuffle: h.shuffle,
	}
	if len(h.queue) > 0 {
		st.DurationMs = h.queue[h.index].DurationMs
		st.ProgressMs = h.elapsedLocked().Milliseconds()
		if st.ProgressMs > st.DurationMs {
			st.ProgressMs = st.DurationMs
		}
	}
	return st, nil
}

func (h *Memory) CurrentTrack() (Track, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return Track{}, ErrNoTrack
	}
	return h.queue[h.index], nil
}

func (h *Memory) NextTrack() (Track, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return Track{}, ErrNoTrack
	}
	next := h.index + 1
	if next >= len(h.queue) {
		if h.repeat != RepeatContext {
			return Track{}, ErrNoTrack
		}
		next = 0
	}
	return h.queue[next], nil
}
