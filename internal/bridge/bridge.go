// ABOUTME: Bridge orchestration between the host and the hub
// ABOUTME: One loop owns dispatch, progress sampling and playback event handling
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/playbridge/playbridge/internal/client"
	"github.com/playbridge/playbridge/internal/dispatch"
	"github.com/playbridge/playbridge/internal/host"
	"github.com/playbridge/playbridge/internal/listeners"
	"github.com/playbridge/playbridge/internal/metadata"
	"github.com/playbridge/playbridge/internal/sampler"
	"github.com/playbridge/playbridge/pkg/protocol"
)

// Connection is the transport the bridge drives
type Connection interface {
	Connect()
	Send(env protocol.Envelope) error
	Messages() <-chan []byte
	Shutdown()
}

// Config holds bridge dependencies and tunables
type Config struct {
	Host       host.Host
	Connection Connection
	Sampler    *sampler.Sampler
	Resolver   *metadata.Resolver

	AutoSwitchCompensation time.Duration
	NaturalEndThreshold    time.Duration
	// HostPollInterval is the wait between reachability checks at startup
	HostPollInterval time.Duration

	Logger *log.Logger
}

// Bridge wires the components together
type Bridge struct {
	config     Config
	sessionID  string
	logger     *log.Logger
	host       host.Host
	conn       Connection
	sampler    *sampler.Sampler
	resolver   *metadata.Resolver
	dispatcher *dispatch.Dispatcher
	registry   *listeners.Registry
	tracker    *listeners.Tracker
}

// New creates a bridge
func New(config Config) *Bridge {
	if config.AutoSwitchCompensation <= 0 {
		config.AutoSwitchCompensation = sampler.DefaultAutoSwitchCompensation
	}
	if config.HostPollInterval <= 0 {
		config.HostPollInterval = time.Second
	}
	if config.Sampler == nil {
		config.Sampler = sampler.New(sampler.DefaultInterval)
	}
	if config.Resolver == nil {
		config.Resolver = metadata.NewResolver(metadata.ResolverConfig{Logger: config.Logger})
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	sessionID := uuid.New().String()
	logger = logger.With("session", sessionID[:8])

	b := &Bridge{
		config:    config,
		sessionID: sessionID,
		logger:    logger.With("component", "bridge"),
		host:      config.Host,
		conn:      config.Connection,
		sampler:   config.Sampler,
		resolver:  config.Resolver,
		registry:  listeners.NewRegistry(),
		tracker:   listeners.NewTracker(config.NaturalEndThreshold, logger),
	}
	b.dispatcher = dispatch.New(dispatch.Config{
		Player: config.Host,
		Sender: config.Connection,
		Years:  config.Resolver,
		Logger: logger,
	})
	return b
}

// SessionID identifies this bridge run in logs
func (b *Bridge) SessionID() string {
	return b.sessionID
}

// Run waits for the host, connects, and serves until ctx is cancelled
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.waitForHost(ctx); err != nil {
		b.resolver.Close()
		if cerr := b.host.Close(); cerr != nil {
			b.logger.Warn("host close failed", "err", cerr)
		}
		return err
	}

	if st, err := b.host.Status(); err == nil {
		b.tracker.SetPreviousDuration(st.DurationMs)
	}

	b.registry.Register(host.SongChange, b.onSongChange)
	b.registry.Register(host.PlayPause, b.onPlayPause)

	b.conn.Connect()
	b.sampler.Start()

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := b.host.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("host watcher stopped", "err", err)
		}
	}()

	b.logger.Info("bridge running")
	b.loop(ctx)

	stopWatch()
	<-watchDone
	b.shutdown()
	return nil
}

// waitForHost polls until the host answers
func (b *Bridge) waitForHost(ctx context.Context) error {
	logged := false
	for {
		err := b.host.Ping()
		if err == nil {
			return nil
		}
		if !logged {
			b.logger.Info("waiting for host", "err", err)
			logged = true
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.config.HostPollInterval):
		}
	}
}

func (b *Bridge) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case frame := <-b.conn.Messages():
			b.dispatcher.Handle(frame)

		case <-b.sampler.Ticks():
			b.sampleProgress()

		case ev := <-b.host.Events():
			b.registry.Dispatch(ev)
		}
	}
}

// sampleProgress emits one progress envelope and records what was sent
func (b *Bridge) sampleProgress() {
	st, err := b.host.Status()
	if err != nil {
		b.logger.Debug("progress read failed", "err", err)
		return
	}

	sample := sampler.Sample(st.ProgressMs, st.DurationMs, b.tracker.AutoSwitched(), b.config.AutoSwitchCompensation)

	env, err := protocol.NewEnvelope(protocol.TypeProgress, "", sample)
	if err != nil {
		b.logger.Error("failed to build progress envelope", "err", err)
		return
	}
	if err := b.conn.Send(env); err != nil && !errors.Is(err, client.ErrNotConnected) {
		b.logger.Debug("progress not sent", "err", err)
	}

	b.tracker.ObserveProgress(sample.Progress)
}

func (b *Bridge) onSongChange(host.Event) {
	track, trackErr := b.host.CurrentTrack()

	st, err := b.host.Status()
	if err != nil {
		b.logger.Warn("status after song change failed", "err", err)
		b.tracker.SongChangedUnclassified(track.DurationMs)
	} else {
		b.tracker.SongChanged(st.Repeat, st.DurationMs)
	}

	if trackErr == nil {
		b.resolver.Prefetch(track.ID)
	}
	if next, err := b.host.NextTrack(); err == nil {
		b.resolver.Prefetch(next.ID)
	}
}

func (b *Bridge) onPlayPause(ev host.Event) {
	b.tracker.PlayPause(ev.Playing)
}

func (b *Bridge) shutdown() {
	b.sampler.Stop()
	b.conn.Shutdown()
	b.resolver.Close()
	if err := b.host.Close(); err != nil {
		b.logger.Warn("host close failed", "err", err)
	}
	b.logger.Info("bridge stopped")
}
