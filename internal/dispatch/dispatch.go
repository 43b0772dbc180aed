// ABOUTME: Inbound command dispatcher
// ABOUTME: Routes playback commands to the host and answers info queries
package dispatch

import (
	"errors"
	"math"

	"github.com/charmbracelet/log"
	"github.com/playbridge/playbridge/internal/artwork"
	"github.com/playbridge/playbridge/internal/host"
	"github.com/playbridge/playbridge/pkg/protocol"
)

// Reply defaults when the host has nothing to report. Years are sent as
// strings on every path.
const (
	DefaultTrackName   = "No Song Playing"
	DefaultArtist      = "Unknown Artist"
	DefaultAlbum       = "Unknown"
	DefaultCurrentYear = "Unknown Year"
	DefaultNextYear    = "2000"
)

// Sender delivers an outbound envelope
type Sender interface {
	Send(env protocol.Envelope) error
}

// YearSource provides cached release years and starts background lookups
type YearSource interface {
	Cached(trackID string) (string, bool)
	Prefetch(trackID string)
}

// Config holds dispatcher dependencies
type Config struct {
	Player host.Player
	Sender Sender
	Years  YearSource
	Logger *log.Logger
}

// Dispatcher applies inbound envelopes. It is driven from a single
// goroutine and holds no state of its own.
type Dispatcher struct {
	player host.Player
	sender Sender
	years  YearSource
	logger *log.Logger
}

// New creates a dispatcher
func New(config Config) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		player: config.Player,
		sender: config.Sender,
		years:  config.Years,
		logger: logger.With("component", "dispatch"),
	}
}

// Handle decodes a frame and dispatches it. Frames that are not valid
// envelopes are dropped.
func (d *Dispatcher) Handle(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		d.logger.Debug("dropping malformed frame", "err", err, "frame", truncate(frame, 120))
		return
	}
	d.Dispatch(env)
}

// Dispatch routes one envelope
func (d *Dispatcher) Dispatch(env protocol.Envelope) {
	d.logger.Debug("received", "type", env.Type, "action", env.Action)

	switch env.Type {
	case protocol.TypePlayback:
		d.handlePlayback(env)
	case protocol.TypeInfo:
		d.handleInfo(env)
	default:
		d.logger.Warn("unknown message type", "type", env.Type)
	}
}

func (d *Dispatcher) handlePlayback(env protocol.Envelope) {
	var err error

	switch env.Action {
	case protocol.ActionVolume:
		var v float64
		if v, err = env.NumberValue(); err == nil {
			err = d.player.SetVolume(host.ClampVolume(v / 100))
		}
	case protocol.ActionSeek:
		var v float64
		if v, err = env.NumberValue(); err == nil {
			err = d.player.Seek(int64(math.Round(v)))
		}
	case protocol.ActionPlay:
		err = d.player.Play()
	case protocol.ActionPause:
		err = d.player.Pause()
	case protocol.ActionNext:
		err = d.player.Next()
	case protocol.ActionPrev:
		err = d.player.Previous()
	case protocol.ActionToggle:
		err = d.player.TogglePlay()
	case protocol.ActionShuffle:
		err = d.player.ToggleShuffle()
	case protocol.ActionSetRepeat:
		err = d.setRepeat(env)
	case protocol.ActionToggleRepeat:
		err = d.toggleRepeat()
	default:
		d.logger.Warn("unknown playback action", "action", env.Action)
		return
	}

	if err != nil {
		d.logger.Error("playback command failed", "action", env.Action, "err", err)
	}
}

// setRepeat applies the named mode and echoes the value as it was sent
func (d *Dispatcher) setRepeat(env protocol.Envelope) error {
	name, err := env.StringValue()
	if err != nil {
		d.logger.Warn("setRepeat without a string value, using off", "value", string(env.Value))
		name = string(env.Value)
	}

	if err := d.player.SetRepeat(host.ParseRepeatMode(name)); err != nil {
		return err
	}
	d.reply(protocol.ActionRepeatState, protocol.RepeatState{State: name})
	return nil
}

// toggleRepeat advances off, context, track and reports the new mode
func (d *Dispatcher) toggleRepeat() error {
	st, err := d.player.Status()
	if err != nil {
		return err
	}

	mode := st.Repeat.Next()
	if err := d.player.SetRepeat(mode); err != nil {
		return err
	}
	d.reply(protocol.ActionRepeatState, protocol.RepeatState{State: mode.String()})
	return nil
}

func (d *Dispatcher) handleInfo(env protocol.Envelope) {
	switch env.Action {
	case protocol.ActionCurrent:
		d.reply(protocol.ActionCurrent, d.current())
	case protocol.ActionNext:
		next, ok := d.next()
		if !ok {
			return
		}
		d.reply(protocol.ActionNext, next)
	default:
		d.logger.Warn("unknown info action", "action", env.Action)
	}
}

func (d *Dispatcher) current() protocol.CurrentTrack {
	cur := protocol.CurrentTrack{
		Name:   DefaultTrackName,
		Artist: DefaultArtist,
		Album:  DefaultAlbum,
		Year:   DefaultCurrentYear,
	}

	track, err := d.player.CurrentTrack()
	switch {
	case errors.Is(err, host.ErrNoTrack):
	case err != nil:
		d.logger.Error("failed to read current track", "err", err)
	default:
		cur.Name = orDefault(track.Title, DefaultTrackName)
		cur.Artist = orDefault(track.Artist, DefaultArtist)
		cur.Album = orDefault(track.Album, DefaultAlbum)
		cur.DurationMs = track.DurationMs
		cur.AlbumCover = artwork.URL(track.ImageURI)
		if year, ok := d.cachedYear(track.ID); ok {
			cur.Year = year
		}
	}

	st, err := d.player.Status()
	if err != nil {
		d.logger.Error("failed to read player status", "err", err)
		return cur
	}

	cur.Volume = st.Volume
	cur.IsPlaying = st.Playing
	cur.RepeatState = int(st.Repeat)
	cur.ShuffleState = st.Shuffle
	cur.ProgressMs = st.ProgressMs
	if cur.DurationMs == 0 {
		cur.DurationMs = st.DurationMs
	}
	if st.DurationMs > 0 {
		cur.ProgressPercentage = float64(st.ProgressMs) / float64(st.DurationMs) * 100
	}
	return cur
}

// next describes the upcoming track. The year comes from the cache; on a
// miss a lookup is started and the default is reported.
func (d *Dispatcher) next() (protocol.NextTrack, bool) {
	track, err := d.player.NextTrack()
	if err != nil {
		if errors.Is(err, host.ErrNoTrack) {
			d.logger.Info("no upcoming track")
		} else {
			d.logger.Error("failed to read next track", "err", err)
		}
		return protocol.NextTrack{}, false
	}

	next := protocol.NextTrack{
		Name:       orDefault(track.Title, DefaultTrackName),
		Artist:     orDefault(track.Artist, DefaultArtist),
		Album:      orDefault(track.Album, DefaultAlbum),
		Duration:   track.DurationMs,
		AlbumCover: artwork.URL(track.ImageURI),
		Year:       DefaultNextYear,
	}

	if year, ok := d.cachedYear(track.ID); ok {
		next.Year = year
	} else if d.years != nil {
		d.years.Prefetch(track.ID)
	}
	return next, true
}

func (d *Dispatcher) cachedYear(trackID string) (string, bool) {
	if d.years == nil || trackID == "" {
		return "", false
	}
	return d.years.Cached(trackID)
}

func (d *Dispatcher) reply(action string, data interface{}) {
	env, err := protocol.NewEnvelope(protocol.TypeResponse, action, data)
	if err != nil {
		d.logger.Error("failed to build response", "action", action, "err", err)
		return
	}
	if err := d.sender.Send(env); err != nil {
		d.logger.Debug("response not sent", "action", action, "err", err)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
