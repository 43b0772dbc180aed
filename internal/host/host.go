// ABOUTME: Media player host abstraction driven by the bridge
// ABOUTME: Defines transport controls, status snapshots and playback events
package host

import (
	"context"
	"errors"
	"math"
	"strings"
)

// ErrNoTrack is returned when the host has no current or upcoming track
var ErrNoTrack = errors.New("no track")

// RepeatMode is the host repeat setting
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatContext
	RepeatTrack
)

// String returns the wire name of the mode
func (m RepeatMode) String() string {
	switch m {
	case RepeatContext:
		return "context"
	case RepeatTrack:
		return "track"
	default:
		return "off"
	}
}

// Next returns the mode that follows m in the off, context, track cycle
func (m RepeatMode) Next() RepeatMode {
	return (m + 1) % 3
}

// ParseRepeatMode maps a wire name to a mode. Unknown names map to off.
func ParseRepeatMode(name string) RepeatMode {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "context":
		return RepeatContext
	case "track":
		return RepeatTrack
	default:
		return RepeatOff
	}
}

// Track describes a queue entry
type Track struct {
	// ID identifies the track for metadata lookups, e.g. a URI
	ID         string
	Title      string
	Artist     string
	Album      string
	DurationMs int64
	// ImageURI is the host's artwork reference, which may not be a URL
	ImageURI string
}

// Status is a snapshot of the host playback state
type Status struct {
	Playing    bool
	Volume     float64 // 0-1
	Repeat     RepeatMode
	Shuffle    bool
	ProgressMs int64
	DurationMs int64
}

// Player is the command surface of a host
type Player interface {
	Play() error
	Pause() error
	TogglePlay() error
	Next() error
	Previous() error
	Seek(positionMs int64) error
	// SetVolume takes a 0-1 level; out of range values are clamped
	SetVolume(level float64) error
	SetRepeat(mode RepeatMode) error
	ToggleShuffle() error

	Status() (Status, error)
	CurrentTrack() (Track, error)
	NextTrack() (Track, error)
}

// EventKind names a host notification
type EventKind int

const (
	SongChange EventKind = iota
	PlayPause
)

func (k EventKind) String() string {
	switch k {
	case SongChange:
		return "songchange"
	case PlayPause:
		return "playpause"
	default:
		return "unknown"
	}
}

// Event is a host notification
type Event struct {
	Kind EventKind
	// Playing is the play state after the event
	Playing bool
}

// Host is a controllable player that also reports playback events
type Host interface {
	Player

	// Ping reports whether the host is reachable
	Ping() error

	// Events delivers notifications while Watch runs
	Events() <-chan Event

	// Watch observes the host until ctx is cancelled
	Watch(ctx context.Context) error

	Close() error
}

// ClampVolume limits a level to 0-1. NaN maps to 0.
func ClampVolume(level float64) float64 {
	if math.IsNaN(level) || level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}
