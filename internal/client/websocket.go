// ABOUTME: Self-healing WebSocket connection to the hub
// ABOUTME: Owns probe, connect, reconnect scheduling, best-effort send and shutdown
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/playbridge/playbridge/pkg/protocol"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConnected is returned by Send when the socket is not open
	ErrNotConnected = errors.New("not connected")

	// ErrShutdown is returned by Send after Shutdown
	ErrShutdown = errors.New("connection manager shut down")
)

// Config holds connection manager configuration
type Config struct {
	// URL is the hub WebSocket endpoint, e.g. ws://localhost:5001
	URL string

	// HealthURL is probed with HEAD before every connect attempt
	HealthURL string

	// ProbeTimeout bounds the health probe and the WebSocket handshake
	ProbeTimeout time.Duration

	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration

	Policy ReconnectPolicy
	Logger *log.Logger

	// OnStateChange is called with the manager lock held; it must not call
	// back into the Manager.
	OnStateChange func(State)
}

// Manager owns the transport lifecycle.
//
// All state below mu is mutated only by the Manager itself; an attempt is in
// flight exactly when state is ProbingAvailability or Connecting, which is
// what serializes probes and dials.
type Manager struct {
	config     Config
	logger     *log.Logger
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu     sync.Mutex
	state  State
	policy ReconnectPolicy
	conn   *websocket.Conn
	cancel func() bool // stops the pending reconnect timer
	closed bool

	messages chan []byte
	ctx      context.Context
	stop     context.CancelFunc

	afterFunc func(time.Duration, func()) func() bool
	dropLog   rate.Sometimes
}

// NewManager creates a connection manager in the Disconnected state
func NewManager(config Config) *Manager {
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 2 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 2 * time.Second
	}
	if config.Policy.MaxAttempts == 0 && config.Policy.BaseDelay == 0 {
		config.Policy = DefaultReconnectPolicy()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, stop := context.WithCancel(context.Background())

	return &Manager{
		config:     config,
		logger:     logger.With("component", "connection"),
		httpClient: &http.Client{Timeout: config.ProbeTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.ProbeTimeout,
		},
		state:    Disconnected,
		policy:   config.Policy,
		messages: make(chan []byte, 64),
		ctx:      ctx,
		stop:     stop,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		dropLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// Messages returns inbound frames in arrival order
func (m *Manager) Messages() <-chan []byte {
	return m.messages
}

// State returns the current lifecycle phase
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current consecutive failure count
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy.Attempt
}

// CheckAvailability issues a HEAD request against the health endpoint.
// Any response, whatever its status, means the hub is up; any transport
// failure means it is not.
func (m *Manager) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.config.HealthURL, nil)
	if err != nil {
		m.logger.Debug("health probe request invalid", "err", err)
		return false
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Debug("health probe failed", "url", m.config.HealthURL, "err", err)
		return false
	}
	resp.Body.Close()
	return true
}

// Connect starts a probe-then-dial attempt in the background. It is a no-op
// while an attempt is in flight, while connected, or after Shutdown.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state.attempting() || m.state == Connected {
		return
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	m.setStateLocked(ProbingAvailability)
	go m.runAttempt()
}

// runAttempt performs one probe and dial and settles the outcome. The
// attempt phase is always left, even when the dial panics.
func (m *Manager) runAttempt() {
	var (
		conn      *websocket.Conn
		available bool
		err       error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("connect attempt panicked: %v", r)
			}
		}()
		conn, available, err = m.dial(m.ctx)
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		if conn != nil {
			conn.Close()
		}
		return
	}

	switch {
	case !available:
		m.logger.Info("hub not available, waiting", "retry_in", m.policy.SlowRetry)
		m.setStateLocked(ReconnectScheduled)
		m.scheduleLocked(m.policy.SlowRetry)

	case err != nil:
		m.logger.Warn("connect failed", "err", err)
		m.setStateLocked(ReconnectScheduled)
		m.reconnectLocked()

	default:
		m.conn = conn
		m.policy.Reset()
		m.setStateLocked(Connected)
		m.logger.Info("connected to hub", "url", m.config.URL)
		go m.readMessages(conn)
	}
}

// dial probes the hub and, when it answers, opens the WebSocket
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, bool, error) {
	if !m.CheckAvailability(ctx) {
		return nil, false, nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, true, ErrShutdown
	}
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	conn, resp, err := m.dialer.DialContext(ctx, m.config.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, true, fmt.Errorf("dial failed: HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, true, fmt.Errorf("dial failed: %w", err)
	}
	return conn, true, nil
}

// reconnectLocked applies the backoff schedule after a failure
func (m *Manager) reconnectLocked() {
	delay := m.policy.Next()
	if m.policy.Attempt == 0 {
		m.logger.Info("max reconnection attempts reached, falling back to slow retry", "retry_in", delay)
	} else {
		m.logger.Info("reconnecting", "attempt", m.policy.Attempt, "retry_in", delay)
	}
	m.scheduleLocked(delay)
}

// scheduleLocked arms the single pending reconnect timer
func (m *Manager) scheduleLocked(delay time.Duration) {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = m.afterFunc(delay, m.Connect)
}

// readMessages forwards inbound frames until the socket fails
func (m *Manager) readMessages(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		if messageType != websocket.TextMessage {
			m.logger.Debug("ignoring non-text frame", "type", messageType)
			continue
		}

		select {
		case m.messages <- data:
		case <-m.ctx.Done():
			return
		}
	}
}

// handleDisconnect moves a lost connection into the reconnect schedule
func (m *Manager) handleDisconnect(conn *websocket.Conn, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != conn {
		return
	}
	m.conn = nil
	conn.Close()

	if m.closed {
		return
	}

	if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Warn("connection lost", "err", cause)
	} else {
		m.logger.Info("connection closed")
	}

	m.setStateLocked(ReconnectScheduled)
	m.reconnectLocked()
}

// Send writes one envelope when connected. Otherwise the envelope is
// dropped; nothing is queued.
func (m *Manager) Send(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrShutdown
	}
	if m.state != Connected || m.conn == nil {
		m.dropLog.Do(func() {
			m.logger.Warn("not connected, message not sent", "type", env.Type, "action", env.Action, "state", m.state)
		})
		return ErrNotConnected
	}

	m.conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// The reader notices the broken socket and schedules the reconnect.
		m.conn.Close()
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Shutdown closes the socket and discards any pending reconnect. Safe to
// call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.stop()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bridge shutting down"),
			time.Now().Add(time.Second))
		m.conn.Close()
		m.conn = nil
	}

	m.setStateLocked(Disconnected)
	m.logger.Info("connection manager stopped")
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("state change", "from", m.state, "to", s)
	m.state = s
	if m.config.OnStateChange != nil {
		m.config.OnStateChange(s)
	}
}
