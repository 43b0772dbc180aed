// ABOUTME: Hub server that bridges connect to
// ABOUTME: Serves the health probe and relays frames between connected peers
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/playbridge/playbridge/internal/discovery"
	"github.com/playbridge/playbridge/pkg/protocol"
)

// DefaultGreeting is sent as a plain text frame to every new client
const DefaultGreeting = "Connected to playbridge hub"

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendBuffer    = 64
)

// Config holds hub configuration
type Config struct {
	Host       string
	Port       int
	Name       string
	EnableMDNS bool
	// Greeting is sent on connect; empty disables it
	Greeting string
	Logger   *log.Logger
}

// Server is the hub: one HTTP listener for the health probe and the
// WebSocket relay
type Server struct {
	config   Config
	serverID string
	logger   *log.Logger

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	clients   map[string]*Client
	clientsMu sync.RWMutex

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client is a connected peer
type Client struct {
	ID         string
	RemoteAddr string
	Conn       *websocket.Conn

	sendChan chan []byte
}

// New creates a hub
func New(config Config) *Server {
	if config.Name == "" {
		config.Name = "playbridge hub"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		logger:   logger.With("component", "hub"),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Peers are local desktop processes and browser pages
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[string]*Client),
		stopChan: make(chan struct{}),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/", s.handleWebSocket)
	return s
}

// Handler returns the hub's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ClientCount returns the number of connected peers
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Start listens and serves until Stop is called
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
			Logger:      s.logger,
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.logger.Warn("mDNS advertisement failed", "err", err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	s.logger.Info("hub listening", "addr", addr, "id", s.serverID)

	var serverErr error
	select {
	case <-s.stopChan:
		s.logger.Info("hub shutting down")
	case err := <-errChan:
		serverErr = err
		s.Stop()
	}

	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown error", "err", err)
	}

	s.wg.Wait()
	s.logger.Info("hub stopped")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop disconnects every peer and makes Start return
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.shutdownMu.Lock()
		s.isShutdown = true
		s.shutdownMu.Unlock()
		close(s.stopChan)
	})
}

// handleHealth answers the bridge availability probe
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		json.NewEncoder(w).Encode(protocol.HealthStatus{Status: "ok"})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	shutdown := s.isShutdown
	s.shutdownMu.RUnlock()
	if shutdown {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s.handleConnection(conn, r.RemoteAddr)
}

// handleConnection registers a peer and relays its frames until it leaves
func (s *Server) handleConnection(conn *websocket.Conn, remoteAddr string) {
	client := &Client{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		Conn:       conn,
		sendChan:   make(chan []byte, sendBuffer),
	}

	s.clientsMu.Lock()
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	s.logger.Info("client connected", "id", client.ID, "remote", remoteAddr)

	s.wg.Add(1)
	writerDone := make(chan struct{})
	go func() {
		defer s.wg.Done()
		defer close(writerDone)
		s.clientWriter(client)
	}()

	if s.config.Greeting != "" {
		s.enqueue(client, []byte(s.config.Greeting))
	}

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()

		close(client.sendChan)
		<-writerDone
		conn.Close()
		s.logger.Info("client disconnected", "id", client.ID)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("client read error", "id", client.ID, "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.broadcast(client.ID, data)
	}
}

// broadcast sends a frame to every client except the sender
func (s *Server) broadcast(fromID string, data []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for id, c := range s.clients {
		if id == fromID {
			continue
		}
		s.enqueue(c, data)
	}
}

func (s *Server) enqueue(c *Client, data []byte) {
	select {
	case c.sendChan <- data:
	default:
		s.logger.Warn("client send buffer full, dropping frame", "id", c.ID)
	}
}

// clientWriter owns all writes to a client connection
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.sendChan:
			if !ok {
				return
			}
			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("client write failed", "id", client.ID, "err", err)
				client.Conn.Close()
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				client.Conn.Close()
				return
			}

		case <-s.stopChan:
			client.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"),
				time.Now().Add(time.Second))
			client.Conn.Close()
			return
		}
	}
}
