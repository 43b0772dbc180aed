// ABOUTME: Tests for the MPD host adapter
// ABOUTME: Runs the adapter against a scripted line-protocol server
package host

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fhs/gompd/v2/mpd"
)

var _ Host = (*MPD)(nil)

// fakeMPD answers a fixed set of commands and records everything it sees
type fakeMPD struct {
	listener net.Listener

	mu        sync.Mutex
	commands  []string
	responses map[string]string
}

func newFakeMPD(t *testing.T, responses map[string]string) *fakeMPD {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	f := &fakeMPD{listener: l, responses: responses}
	go f.serve()
	t.Cleanup(func() { l.Close() })
	return f
}

func (f *fakeMPD) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeMPD) handle(conn net.Conn) {
	defer conn.Close()
	fmt.Fprint(conn, "OK MPD 0.23.5\n")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		if cmd == "close" {
			return
		}

		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		body := f.responses[cmd]
		f.mu.Unlock()

		fmt.Fprint(conn, body+"OK\n")
	}
}

func (f *fakeMPD) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeMPD) addr() string {
	return f.listener.Addr().String()
}

func newTestMPD(addr string) *MPD {
	return NewMPD(MPDConfig{Address: addr, Timeout: 2 * time.Second, Logger: log.New(io.Discard)})
}

const playingStatus = "volume: 40\nrepeat: 1\nrandom: 0\nsingle: 1\nstate: play\nsong: 0\nsongid: 7\nnextsong: 1\nelapsed: 61.250\nduration: 200.000\n"

func TestMPDStatus(t *testing.T) {
	fake := newFakeMPD(t, map[string]string{"status": playingStatus})
	h := newTestMPD(fake.addr())
	defer h.Close()

	st, err := h.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	want := Status{Playing: true, Volume: 0.4, Repeat: RepeatTrack, ProgressMs: 61250, DurationMs: 200000}
	if st != want {
		t.Errorf("expected %+v, got %+v", want, st)
	}
}

func TestMPDTracks(t *testing.T) {
	fake := newFakeMPD(t, map[string]string{
		"status":         playingStatus,
		"currentsong":    "file: spotify:track:abc\nTitle: First\nArtist: Someone\nAlbum: Record\nTime: 200\nduration: 200.000\nId: 7\n",
		"playlistinfo 1": "file: spotify:track:def\nTitle: Second\nArtist: Other\nAlbum: Record\nduration: 180.500\n",
	})
	h := newTestMPD(fake.addr())
	defer h.Close()

	current, err := h.CurrentTrack()
	if err != nil {
		t.Fatalf("current track failed: %v", err)
	}
	if current.ID != "spotify:track:abc" || current.Title != "First" || current.DurationMs != 200000 {
		t.Errorf("unexpected current track %+v", current)
	}

	next, err := h.NextTrack()
	if err != nil {
		t.Fatalf("next track failed: %v", err)
	}
	if next.Title != "Second" || next.DurationMs != 180500 {
		t.Errorf("unexpected next track %+v", next)
	}
}

func TestMPDNoCurrentTrack(t *testing.T) {
	fake := newFakeMPD(t, map[string]string{})
	h := newTestMPD(fake.addr())
	defer h.Close()

	if _, err := h.CurrentTrack(); err != ErrNoTrack {
		t.Errorf("expected ErrNoTrack, got %v", err)
	}
	if _, err := h.NextTrack(); err != ErrNoTrack {
		t.Errorf("expected ErrNoTrack without nextsong, got %v", err)
	}
}

func TestMPDControls(t *testing.T) {
	fake := newFakeMPD(t, map[string]string{"status": playingStatus})
	h := newTestMPD(fake.addr())
	defer h.Close()

	steps := []func() error{
		func() error { return h.SetVolume(0.4) },
		func() error { return h.SetRepeat(RepeatTrack) },
		func() error { return h.TogglePlay() },
		func() error { return h.Next() },
		func() error { return h.ToggleShuffle() },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	joined := strings.Join(fake.seen(), "\n")
	for _, want := range []string{"setvol 40", "repeat 1", "single 1", "pause 1", "next", "random 1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected command %q, saw:\n%s", want, joined)
		}
	}
}

func TestMPDDialFailure(t *testing.T) {
	l, _ := net.Listen("tcp", "127.0.0.1:0")
	addr := l.Addr().String()
	l.Close()

	h := newTestMPD(addr)
	if err := h.Ping(); err == nil {
		t.Error("expected ping to fail against a closed port")
	}
}

func TestStatusFromAttrs(t *testing.T) {
	tests := []struct {
		name  string
		attrs mpd.Attrs
		want  Status
	}{
		{
			name:  "repeat context no mixer",
			attrs: mpd.Attrs{"state": "pause", "repeat": "1", "single": "0", "volume": "-1", "random": "1"},
			want:  Status{Repeat: RepeatContext, Shuffle: true},
		},
		{
			name:  "legacy time field",
			attrs: mpd.Attrs{"state": "play", "time": "12:240"},
			want:  Status{Playing: true, ProgressMs: 12000, DurationMs: 240000},
		},
		{
			name:  "stopped",
			attrs: mpd.Attrs{"state": "stop", "volume": "100"},
			want:  Status{Volume: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFromAttrs(tt.attrs); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestDiffPlayerState(t *testing.T) {
	tests := []struct {
		name string
		prev playerState
		cur  playerState
		want []EventKind
	}{
		{name: "unchanged", prev: playerState{"1", true}, cur: playerState{"1", true}},
		{name: "song change", prev: playerState{"1", true}, cur: playerState{"2", true}, want: []EventKind{SongChange}},
		{name: "paused", prev: playerState{"1", true}, cur: playerState{"1", false}, want: []EventKind{PlayPause}},
		{name: "both", prev: playerState{"1", false}, cur: playerState{"2", true}, want: []EventKind{SongChange, PlayPause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffPlayerState(tt.prev, tt.cur)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestYearFromDate(t *testing.T) {
	tests := map[string]string{
		"2003-05-12": "2003",
		"1999":       "1999",
		" 2010 ":     "2010",
		"":           "",
		"May 2003":   "",
		"03":         "",
	}
	for in, want := range tests {
		if got := yearFromDate(in); got != want {
			t.Errorf("yearFromDate(%q) = %q, want %q", in, got, want)
		}
	}
}
