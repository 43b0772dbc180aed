// ABOUTME: Host adapter for MPD-protocol players (MPD, Mopidy)
// ABOUTME: Maps transport controls onto gompd commands and idle events onto host events
package host

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fhs/gompd/v2/mpd"
)

// MPDConfig holds MPD connection settings
type MPDConfig struct {
	// Address is host:port, or an absolute unix socket path
	Address  string
	Password string
	// Timeout bounds a single command
	Timeout time.Duration
	// RetryDelay is the wait before re-establishing a failed idle watcher
	RetryDelay time.Duration
	Logger     *log.Logger
}

// MPD drives an MPD server. Commands share one lazily dialed connection
// that is dropped and redialed after any failure; idle notifications use
// a separate watcher connection.
type MPD struct {
	config  MPDConfig
	network string
	logger  *log.Logger

	mu     sync.Mutex
	client *mpd.Client

	events chan Event
}

// NewMPD creates an adapter; no connection is made until first use
func NewMPD(config MPDConfig) *MPD {
	if config.Address == "" {
		config.Address = "localhost:6600"
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	network := "tcp"
	if strings.HasPrefix(config.Address, "/") {
		network = "unix"
	}

	return &MPD{
		config:  config,
		network: network,
		logger:  logger.With("component", "mpd"),
		events:  make(chan Event, 16),
	}
}

// do runs fn against the shared connection, dialing it first if needed
func (h *MPD) do(ctx context.Context, name string, fn func(*mpd.Client) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client == nil {
		c, err := mpd.DialAuthenticated(h.network, h.config.Address, h.config.Password)
		if err != nil {
			return fmt.Errorf("mpd %s: dial %s: %w", name, h.config.Address, err)
		}
		h.client = c
	}

	c := h.client
	done := make(chan error, 1)
	go func() {
		done <- fn(c)
	}()

	timer := time.NewTimer(h.config.Timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = fmt.Errorf("timed out after %v", h.config.Timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		// The connection state is unknown after a failure; start over.
		c.Close()
		h.client = nil
		return fmt.Errorf("mpd %s: %w", name, err)
	}
	return nil
}

func (h *MPD) command(name string, fn func(*mpd.Client) error) error {
	return h.do(context.Background(), name, fn)
}

func (h *MPD) Ping() error {
	return h.command("ping", func(c *mpd.Client) error { return c.Ping() })
}

func (h *MPD) Events() <-chan Event { return h.events }

// Close drops the command connection
func (h *MPD) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return nil
	}
	err := h.client.Close()
	h.client = nil
	return err
}

func (h *MPD) Play() error {
	return h.command("play", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		if attrs["state"] == "pause" {
			return c.Pause(false)
		}
		return c.Play(-1)
	})
}

func (h *MPD) Pause() error {
	return h.command("pause", func(c *mpd.Client) error { return c.Pause(true) })
}

func (h *MPD) TogglePlay() error {
	return h.command("toggle", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		switch attrs["state"] {
		case "play":
			return c.Pause(true)
		case "pause":
			return c.Pause(false)
		default:
			return c.Play(-1)
		}
	})
}

func (h *MPD) Next() error {
	return h.command("next", func(c *mpd.Client) error { return c.Next() })
}

func (h *MPD) Previous() error {
	return h.command("previous", func(c *mpd.Client) error { return c.Previous() })
}

func (h *MPD) Seek(positionMs int64) error {
	if positionMs < 0 {
		positionMs = 0
	}
	return h.command("seek", func(c *mpd.Client) error {
		return c.SeekCur(time.Duration(positionMs)*time.Millisecond, false)
	})
}

func (h *MPD) SetVolume(level float64) error {
	volume := int(math.Round(ClampVolume(level) * 100))
	return h.command("setvol", func(c *mpd.Client) error { return c.SetVolume(volume) })
}

// SetRepeat maps context to repeat and track to repeat plus single
func (h *MPD) SetRepeat(mode RepeatMode) error {
	return h.command("repeat", func(c *mpd.Client) error {
		if err := c.Repeat(mode != RepeatOff); err != nil {
			return err
		}
		return c.Single(mode == RepeatTrack)
	})
}

func (h *MPD) ToggleShuffle() error {
	return h.command("random", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		return c.Random(attrs["random"] != "1")
	})
}

func (h *MPD) Status() (Status, error) {
	var st Status
	err := h.command("status", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		st = statusFromAttrs(attrs)
		return nil
	})
	return st, err
}

func (h *MPD) CurrentTrack() (Track, error) {
	var attrs mpd.Attrs
	err := h.command("currentsong", func(c *mpd.Client) error {
		var err error
		attrs, err = c.CurrentSong()
		return err
	})
	if err != nil {
		return Track{}, err
	}
	if attrs["file"] == "" {
		return Track{}, ErrNoTrack
	}
	return trackFromAttrs(attrs), nil
}

func (h *MPD) NextTrack() (Track, error) {
	var songs []mpd.Attrs
	err := h.command("playlistinfo", func(c *mpd.Client) error {
		status, err := c.Status()
		if err != nil {
			return err
		}
		pos, err := strconv.Atoi(status["nextsong"])
		if err != nil {
			return nil
		}
		songs, err = c.PlaylistInfo(pos, -1)
		return err
	})
	if err != nil {
		return Track{}, err
	}
	if len(songs) == 0 || songs[0]["file"] == "" {
		return Track{}, ErrNoTrack
	}
	return trackFromAttrs(songs[0]), nil
}

// ReleaseYear reads the Date tag of a library entry
func (h *MPD) ReleaseYear(ctx context.Context, trackID string) (string, error) {
	var songs []mpd.Attrs
	err := h.do(ctx, "find", func(c *mpd.Client) error {
		var err error
		songs, err = c.Find("file", trackID)
		return err
	})
	if err != nil {
		return "", err
	}
	for _, song := range songs {
		if year := yearFromDate(song["Date"]); year != "" {
			return year, nil
		}
	}
	return "", fmt.Errorf("no date tag for %s", trackID)
}

// playerState is the part of the status that produces events
type playerState struct {
	songID  string
	playing bool
}

func (h *MPD) playerState() (playerState, error) {
	var ps playerState
	err := h.command("status", func(c *mpd.Client) error {
		attrs, err := c.Status()
		if err != nil {
			return err
		}
		ps = playerState{songID: attrs["songid"], playing: attrs["state"] == "play"}
		return nil
	})
	return ps, err
}

// diffPlayerState lists the events implied by a player state change
func diffPlayerState(prev, cur playerState) []EventKind {
	var kinds []EventKind
	if prev.songID != cur.songID {
		kinds = append(kinds, SongChange)
	}
	if prev.playing != cur.playing {
		kinds = append(kinds, PlayPause)
	}
	return kinds
}

// Watch follows MPD idle notifications until ctx is cancelled, re-opening
// the watcher connection whenever it fails.
func (h *MPD) Watch(ctx context.Context) error {
	for {
		err := h.watchOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Warn("idle watcher stopped, retrying", "err", err, "retry_in", h.config.RetryDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.config.RetryDelay):
		}
	}
}

func (h *MPD) watchOnce(ctx context.Context) error {
	w, err := mpd.NewWatcher(h.network, h.config.Address, h.config.Password, "player")
	if err != nil {
		return fmt.Errorf("failed to open watcher: %w", err)
	}
	// Close blocks until the watcher goroutine exits, which needs Error and
	// Event drained; run it off the loop.
	defer func() { go w.Close() }()

	failed := make(chan error, 1)
	go func() {
		for err := range w.Error {
			select {
			case failed <- err:
			default:
			}
		}
	}()

	prev, err := h.playerState()
	if err != nil {
		return err
	}
	h.logger.Info("watching mpd", "address", h.config.Address)

	for {
		select {
		case <-ctx.Done():
			go func() {
				for range w.Event {
				}
			}()
			return ctx.Err()

		case err := <-failed:
			go func() {
				for range w.Event {
				}
			}()
			return err

		case subsystem, ok := <-w.Event:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			h.logger.Debug("idle event", "subsystem", subsystem)

			cur, err := h.playerState()
			if err != nil {
				h.logger.Warn("status after idle event failed", "err", err)
				continue
			}
			for _, kind := range diffPlayerState(prev, cur) {
				h.emit(Event{Kind: kind, Playing: cur.playing})
			}
			prev = cur
		}
	}
}

func (h *MPD) emit(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("event dropped, consumer busy", "kind", ev.Kind)
	}
}

func statusFromAttrs(attrs mpd.Attrs) Status {
	st := Status{
		Playing: attrs["state"] == "play",
		Shuffle: attrs["random"] == "1",
	}

	if v, err := strconv.Atoi(attrs["volume"]); err == nil && v > 0 {
		st.Volume = ClampVolume(float64(v) / 100)
	}

	switch {
	case attrs["repeat"] == "1" && attrs["single"] == "1":
		st.Repeat = RepeatTrack
	case attrs["repeat"] == "1":
		st.Repeat = RepeatContext
	default:
		st.Repeat = RepeatOff
	}

	st.ProgressMs = secondsToMs(attrs["elapsed"])
	st.DurationMs = secondsToMs(attrs["duration"])

	// Older servers only report "time: elapsed:total"
	if st.DurationMs == 0 {
		if elapsed, total, ok := strings.Cut(attrs["time"], ":"); ok {
			if st.ProgressMs == 0 {
				st.ProgressMs = secondsToMs(elapsed)
			}
			st.DurationMs = secondsToMs(total)
		}
	}
	return st
}

func trackFromAttrs(attrs mpd.Attrs) Track {
	t := Track{
		ID:     attrs["file"],
		Title:  attrs["Title"],
		Artist: attrs["Artist"],
		Album:  attrs["Album"],
	}
	if t.Title == "" {
		t.Title = attrs["Name"]
	}

	t.DurationMs = secondsToMs(attrs["duration"])
	if t.DurationMs == 0 {
		t.DurationMs = secondsToMs(attrs["Time"])
	}
	return t
}

func secondsToMs(s string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(math.Round(f * 1000))
}

// yearFromDate takes the year from a Date tag such as 2003-05-12 or 2003
func yearFromDate(date string) string {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return ""
	}
	if _, err := strconv.Atoi(date[:4]); err != nil {
		return ""
	}
	return date[:4]
}
