// ABOUTME: playbridge wire protocol envelope and payload definitions
// ABOUTME: Defines the JSON envelope exchanged with the hub and its typed payloads
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Envelope types
const (
	TypePlayback = "playback"
	TypeInfo     = "info"
	TypeResponse = "response"
	TypeProgress = "progress"
)

// Playback actions
const (
	ActionVolume       = "volume"
	ActionSeek         = "seek"
	ActionPlay         = "play"
	ActionPause        = "pause"
	ActionNext         = "next"
	ActionPrev         = "prev"
	ActionToggle       = "toggle"
	ActionShuffle      = "shuffle"
	ActionSetRepeat    = "setRepeat"
	ActionToggleRepeat = "toggleRepeat"
)

// Info actions and response actions
const (
	ActionCurrent     = "current"
	ActionRepeatState = "repeatState"
	// ActionNext doubles as the info action for the upcoming track.
)

// ErrNoValue is returned when an envelope carries no value
var ErrNoValue = errors.New("envelope has no value")

// Envelope is the unit exchanged over the transport, one per text frame.
//
// Value and Data are kept as raw JSON so that an envelope stays immutable
// after construction and payloads are only decoded by the action that owns
// them.
type Envelope struct {
	Type   string          `json:"type"`
	Action string          `json:"action,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope with an encoded data payload
func NewEnvelope(typ, action string, data interface{}) (Envelope, error) {
	env := Envelope{Type: typ, Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode %s/%s data: %w", typ, action, err)
		}
		env.Data = raw
	}
	return env, nil
}

// NewCommand builds an envelope with an encoded value, as sent by the hub
func NewCommand(typ, action string, value interface{}) (Envelope, error) {
	env := Envelope{Type: typ, Action: action}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode %s/%s value: %w", typ, action, err)
		}
		env.Value = raw
	}
	return env, nil
}

// Decode parses a single frame into an envelope
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}

// Encode serializes the envelope for a single text frame
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// HasValue reports whether a value was supplied
func (e Envelope) HasValue() bool {
	return len(e.Value) > 0 && string(e.Value) != "null"
}

// NumberValue returns the value as a number. Numeric strings are accepted
// because some peers send form input verbatim.
func (e Envelope) NumberValue() (float64, error) {
	if !e.HasValue() {
		return 0, ErrNoValue
	}

	var n float64
	if err := json.Unmarshal(e.Value, &n); err == nil {
		return n, nil
	}

	var s string
	if err := json.Unmarshal(e.Value, &s); err != nil {
		return 0, fmt.Errorf("value is not a number: %s", string(e.Value))
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("value is not a number: %w", err)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("value is not a finite number: %q", s)
	}
	return n, nil
}

// StringValue returns the value as a string
func (e Envelope) StringValue() (string, error) {
	if !e.HasValue() {
		return "", ErrNoValue
	}

	var s string
	if err := json.Unmarshal(e.Value, &s); err != nil {
		return "", fmt.Errorf("value is not a string: %s", string(e.Value))
	}
	return s, nil
}

// DecodeData unmarshals the data payload into v
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %s/%s has no data", e.Type, e.Action)
	}
	return json.Unmarshal(e.Data, v)
}

// ProgressSample is the payload of a progress envelope
type ProgressSample struct {
	Progress   int64   `json:"progress"`   // milliseconds
	Duration   int64   `json:"duration"`   // milliseconds
	Percentage float64 `json:"percentage"` // 0-100
}

// RepeatState is the payload of a repeatState response
type RepeatState struct {
	State string `json:"state"`
}

// CurrentTrack is the payload of a current response
type CurrentTrack struct {
	Name               string  `json:"name"`
	Artist             string  `json:"artist"`
	Album              string  `json:"album"`
	DurationMs         int64   `json:"duration_ms"`
	AlbumCover         string  `json:"album_cover"`
	Year               string  `json:"year"`
	Volume             float64 `json:"volume"` // 0-1
	IsPlaying          bool    `json:"is_playing"`
	RepeatState        int     `json:"repeat_state"` // 0 off, 1 context, 2 track
	ShuffleState       bool    `json:"shuffle_state"`
	ProgressMs         int64   `json:"progress_ms"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// NextTrack is the payload of a next response. Year is always a JSON
// string, "2000" when the release year is not resolved yet, so peers
// never need to accept a number in its place.
type NextTrack struct {
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	Duration   int64  `json:"duration"` // milliseconds
	AlbumCover string `json:"album_cover"`
	Year       string `json:"year"`
}

// HealthStatus is the body served by the hub health endpoint
type HealthStatus struct {
	Status string `json:"status"`
}
