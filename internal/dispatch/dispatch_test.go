// ABOUTME: Tests for the command dispatcher
// ABOUTME: Drives the in-memory host and records outbound responses
package dispatch

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/playbridge/playbridge/internal/host"
	"github.com/playbridge/playbridge/pkg/protocol"
)

type recordingSender struct {
	sent []protocol.Envelope
}

func (s *recordingSender) Send(env protocol.Envelope) error {
	s.sent = append(s.sent, env)
	return nil
}

type fakeYears struct {
	years      map[string]string
	prefetched []string
}

func (f *fakeYears) Cached(id string) (string, bool) {
	y, ok := f.years[id]
	return y, ok
}

func (f *fakeYears) Prefetch(id string) {
	f.prefetched = append(f.prefetched, id)
}

// failingPlayer wraps a host and fails every transport command
type failingPlayer struct {
	*host.Memory
}

func (failingPlayer) Play() error { return errors.New("host gone") }

func testQueue() []host.Track {
	return []host.Track{
		{ID: "spotify:track:one", Title: "One", Artist: "Band", Album: "Debut", DurationMs: 200000, ImageURI: "spotify:image:abc"},
		{ID: "spotify:track:two", Title: "Two", Artist: "Band", Album: "Debut", DurationMs: 180000},
	}
}

func newTestDispatcher(player host.Player) (*Dispatcher, *recordingSender, *fakeYears) {
	sender := &recordingSender{}
	years := &fakeYears{years: map[string]string{}}
	d := New(Config{Player: player, Sender: sender, Years: years, Logger: log.New(io.Discard)})
	return d, sender, years
}

func repeatStates(t *testing.T, sent []protocol.Envelope) []string {
	t.Helper()
	var states []string
	for _, env := range sent {
		if env.Type != protocol.TypeResponse || env.Action != protocol.ActionRepeatState {
			t.Fatalf("unexpected envelope %s/%s", env.Type, env.Action)
		}
		var rs protocol.RepeatState
		if err := env.DecodeData(&rs); err != nil {
			t.Fatalf("bad repeat state payload: %v", err)
		}
		states = append(states, rs.State)
	}
	return states
}

func TestSetRepeatThenToggle(t *testing.T) {
	h := host.NewMemory(testQueue())
	d, sender, _ := newTestDispatcher(h)

	d.Handle([]byte(`{"type":"playback","action":"setRepeat","value":"track"}`))
	if st, _ := h.Status(); st.Repeat != host.RepeatTrack {
		t.Fatalf("expected repeat track, got %s", st.Repeat)
	}

	d.Handle([]byte(`{"type":"playback","action":"toggleRepeat"}`))
	if st, _ := h.Status(); st.Repeat != host.RepeatOff {
		t.Fatalf("expected repeat off after toggle, got %s", st.Repeat)
	}

	got := repeatStates(t, sender.sent)
	if len(got) != 2 || got[0] != "track" || got[1] != "off" {
		t.Errorf("expected replies [track off], got %v", got)
	}
}

func TestToggleRepeatCycles(t *testing.T) {
	h := host.NewMemory(testQueue())
	d, sender, _ := newTestDispatcher(h)

	for i := 0; i < 3; i++ {
		d.Handle([]byte(`{"type":"playback","action":"toggleRepeat"}`))
	}

	got := repeatStates(t, sender.sent)
	want := []string{"context", "track", "off"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("toggle %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSetRepeatUnknownEchoesValue(t *testing.T) {
	h := host.NewMemory(testQueue())
	h.SetRepeat(host.RepeatTrack)
	d, sender, _ := newTestDispatcher(h)

	d.Handle([]byte(`{"type":"playback","action":"setRepeat","value":"sometimes"}`))

	if st, _ := h.Status(); st.Repeat != host.RepeatOff {
		t.Errorf("unknown mode should map to off, got %s", st.Repeat)
	}
	if got := repeatStates(t, sender.sent); got[0] != "sometimes" {
		t.Errorf("expected value echoed as sent, got %s", got[0])
	}
}

func TestPlaybackCommands(t *testing.T) {
	h := host.NewMemory(testQueue())
	d, sender, _ := newTestDispatcher(h)

	frames := []string{
		`{"type":"playback","action":"volume","value":40}`,
		`{"type":"playback","action":"play"}`,
		`{"type":"playback","action":"seek","value":61000}`,
		`{"type":"playback","action":"shuffle"}`,
	}
	for _, f := range frames {
		d.Handle([]byte(f))
	}

	st, _ := h.Status()
	if st.Volume != 0.4 {
		t.Errorf("expected volume 0.4, got %v", st.Volume)
	}
	if !st.Playing {
		t.Error("expected playing")
	}
	if st.ProgressMs < 61000 {
		t.Errorf("expected seek to 61000, got %d", st.ProgressMs)
	}
	if !st.Shuffle {
		t.Error("expected shuffle toggled on")
	}

	d.Handle([]byte(`{"type":"playback","action":"next"}`))
	if cur, _ := h.CurrentTrack(); cur.ID != "spotify:track:two" {
		t.Errorf("expected next track, got %s", cur.ID)
	}
	d.Handle([]byte(`{"type":"playback","action":"prev"}`))
	if cur, _ := h.CurrentTrack(); cur.ID != "spotify:track:one" {
		t.Errorf("expected previous track, got %s", cur.ID)
	}

	d.Handle([]byte(`{"type":"playback","action":"toggle"}`))
	d.Handle([]byte(`{"type":"playback","action":"pause"}`))
	if st, _ := h.Status(); st.Playing {
		t.Error("expected paused")
	}

	if len(sender.sent) != 0 {
		t.Errorf("transport commands must not reply, got %d", len(sender.sent))
	}
}

func TestVolumeClamped(t *testing.T) {
	h := host.NewMemory(testQueue())
	d, _, _ := newTestDispatcher(h)

	d.Handle([]byte(`{"type":"playback","action":"volume","value":250}`))
	if st, _ := h.Status(); st.Volume != 1 {
		t.Errorf("expected clamp to 1, got %v", st.Volume)
	}

	d.Handle([]byte(`{"type":"playback","action":"volume","value":"-5"}`))
	if st, _ := h.Status(); st.Volume != 0 {
		t.Errorf("expected clamp to 0, got %v", st.Volume)
	}

	// A missing value leaves the volume alone
	d.Handle([]byte(`{"type":"playback","action":"volume"}`))
	if st, _ := h.Status(); st.Volume != 0 {
		t.Errorf("expected volume unchanged, got %v", st.Volume)
	}
}

func TestNonFiniteVolumeIsDropped(t *testing.T) {
	h := host.NewMemory(testQueue())
	d, sender, _ := newTestDispatcher(h)

	d.Handle([]byte(`{"type":"playback","action":"volume","value":40}`))

	for _, value := range []string{`"NaN"`, `"Inf"`, `"-Infinity"`} {
		d.Handle([]byte(`{"type":"playback","action":"volume","value":` + value + `}`))
		if st, _ := h.Status(); st.Volume != 0.4 {
			t.Errorf("volume %s: expected volume unchanged at 0.4, got %v", value, st.Volume)
		}
	}

	d.Handle([]byte(`{"type":"info","action":"current"}`))
	if len(sender.sent) != 1 {
		t.Fatalf("expected current reply after non-finite volumes, got %d replies", len(sender.sent))
	}
	var cur protocol.CurrentTrack
	if err := sender.sent[0].DecodeData(&cur); err != nil {
		t.Fatalf("bad current payload: %v", err)
	}
	if cur.Volume != 0.4 {
		t.Errorf("expected reported volume 0.4, got %v", cur.Volume)
	}
}

func TestUnknownInputIsIgnored(t *testing.T) {
	h := host.NewMemory(testQueue())
	d, sender, _ := newTestDispatcher(h)

	frames := []string{
		`{"type":"bogus","action":"play"}`,
		`{"type":"playback","action":"explode"}`,
		`{"type":"info","action":"lyrics"}`,
		`Connected to Electron WebSocket Server`,
		`{"type":`,
	}
	for _, f := range frames {
		d.Handle([]byte(f))
	}

	if len(sender.sent) != 0 {
		t.Errorf("expected no replies, got %d", len(sender.sent))
	}
	if st, _ := h.Status(); st.Playing {
		t.Error("unknown input must not change host state")
	}

	// Still dispatching afterwards
	d.Handle([]byte(`{"type":"playback","action":"toggleRepeat"}`))
	if len(sender.sent) != 1 {
		t.Errorf("dispatcher should keep working, got %d replies", len(sender.sent))
	}
}

func TestHostErrorsAreContained(t *testing.T) {
	d, sender, _ := newTestDispatcher(failingPlayer{host.NewMemory(testQueue())})

	d.Handle([]byte(`{"type":"playback","action":"play"}`))
	if len(sender.sent) != 0 {
		t.Errorf("expected no reply, got %d", len(sender.sent))
	}
}

func TestCurrentInfo(t *testing.T) {
	h := host.NewMemory(testQueue())
	h.SetVolume(0.5)
	h.SetRepeat(host.RepeatContext)
	h.Seek(50000)
	d, sender, years := newTestDispatcher(h)
	years.years["spotify:track:one"] = "1999"

	d.Handle([]byte(`{"type":"info","action":"current"}`))

	if len(sender.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(sender.sent))
	}
	env := sender.sent[0]
	if env.Type != protocol.TypeResponse || env.Action != protocol.ActionCurrent {
		t.Fatalf("unexpected envelope %s/%s", env.Type, env.Action)
	}

	var cur protocol.CurrentTrack
	if err := env.DecodeData(&cur); err != nil {
		t.Fatalf("bad payload: %v", err)
	}

	want := protocol.CurrentTrack{
		Name:               "One",
		Artist:             "Band",
		Album:              "Debut",
		DurationMs:         200000,
		AlbumCover:         "https://i.scdn.co/image/abc",
		Year:               "1999",
		Volume:             0.5,
		RepeatState:        1,
		ProgressMs:         50000,
		ProgressPercentage: 25,
	}
	if cur != want {
		t.Errorf("expected %+v, got %+v", want, cur)
	}
}

func TestCurrentInfoDefaults(t *testing.T) {
	d, sender, _ := newTestDispatcher(host.NewMemory(nil))

	d.Handle([]byte(`{"type":"info","action":"current"}`))

	var cur protocol.CurrentTrack
	if err := sender.sent[0].DecodeData(&cur); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if cur.Name != DefaultTrackName || cur.Artist != DefaultArtist || cur.Album != DefaultAlbum || cur.Year != DefaultCurrentYear {
		t.Errorf("expected defaults, got %+v", cur)
	}
	if cur.ProgressPercentage != 0 {
		t.Errorf("expected 0%% without a duration, got %v", cur.ProgressPercentage)
	}
}

func TestNextInfo(t *testing.T) {
	h := host.NewMemory(testQueue())
	d, sender, years := newTestDispatcher(h)

	d.Handle([]byte(`{"type":"info","action":"next"}`))

	var next protocol.NextTrack
	if err := sender.sent[0].DecodeData(&next); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if next.Name != "Two" || next.Duration != 180000 || next.AlbumCover != "" {
		t.Errorf("unexpected next track %+v", next)
	}
	if next.Year != DefaultNextYear {
		t.Errorf("expected default year on cache miss, got %s", next.Year)
	}
	// Peers always receive the year as a JSON string
	if !strings.Contains(string(sender.sent[0].Data), `"year":"2000"`) {
		t.Errorf("expected string year on the wire, got %s", sender.sent[0].Data)
	}
	if len(years.prefetched) != 1 || years.prefetched[0] != "spotify:track:two" {
		t.Errorf("expected a lookup for the next track, got %v", years.prefetched)
	}

	years.years["spotify:track:two"] = "2011"
	d.Handle([]byte(`{"type":"info","action":"next"}`))
	sender.sent[1].DecodeData(&next)
	if next.Year != "2011" {
		t.Errorf("expected cached year, got %s", next.Year)
	}
}

func TestNextInfoWithoutUpcomingTrack(t *testing.T) {
	h := host.NewMemory(testQueue())
	h.Next()
	d, sender, _ := newTestDispatcher(h)

	d.Handle([]byte(`{"type":"info","action":"next"}`))
	if len(sender.sent) != 0 {
		t.Errorf("expected no reply at the end of the queue, got %d", len(sender.sent))
	}
}
