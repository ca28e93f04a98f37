// Package server exposes the POS terminal workflows over a WebSocket
// request/response channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dotside-studios/pax-pos-agent/buildinfo"
	"github.com/dotside-studios/pax-pos-agent/pos"
	"github.com/dotside-studios/pax-pos-agent/protocol"
)

// Config holds the server configuration.
type Config struct {
	Terminal *pos.Terminal
	Port     int
	// Sessions guards the single client session. Nil means no secret and no
	// idle timeout.
	Sessions *SessionManager
	MDNS     bool
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
	// Versions lists backend library versions for the health check and the
	// device status push.
	Versions map[string]string
	// Handlers are registered after the built-in ones.
	Handlers []ServerHandler
}

// Server manages the HTTP and WebSocket endpoints.
type Server struct {
	config Config
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards httpServer and mdnsServer between Start and Stop.
	mu         sync.Mutex
	httpServer *http.Server
	mdnsServer *zeroconf.Server

	clients    map[*Client]bool
	clientsMux sync.RWMutex
	upgrader   websocket.Upgrader

	handlerRegistry *HandlerRegistry
}

// New creates a server and registers the card, printer and system handlers.
func New(config Config) *Server {
	if config.Sessions == nil {
		config.Sessions = NewSessionManager("", 0)
	}

	s := &Server{
		config:  config,
		logger:  log.With().Str("component", "server").Logger(),
		clients: make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		handlerRegistry: NewHandlerRegistry(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	config.Sessions.OnExpire(s.closeClients)

	if config.Terminal != nil {
		NewCardHandler(config.Terminal).Register(s)
		NewPrinterHandler(config.Terminal).Register(s)
		NewSystemHandler(config.Terminal, config.Versions).Register(s)
	}
	for _, h := range config.Handlers {
		h.Register(s)
	}
	return s
}

// Handle implements HandlerServer.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	if err := s.handlerRegistry.Handle(messageType, handler); err != nil {
		s.logger.Error().Err(err).Msg("handler registration failed")
		return err
	}
	return nil
}

// StartLifecycle implements HandlerServer.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.handlerRegistry.RegisterLifecycle(start)
}

// Broadcast implements HandlerServer.
func (s *Server) Broadcast(messageType string, payload any) {
	s.clientsMux.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMux.RUnlock()

	for _, c := range clients {
		if err := c.Push(messageType, payload); err != nil {
			c.Close()
		}
	}
}

// MessageTypes lists the registered operations.
func (s *Server) MessageTypes() []string {
	return s.handlerRegistry.MessageTypes()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	for c := range s.clients {
		c.Close()
	}
}

// enableCORS adds CORS headers and answers preflight requests.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// Handler returns the HTTP routes of the agent.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(RouteHealth, enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))

	mux.HandleFunc(RouteWebSocket, s.handleWebSocket)

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " running"))
	}))
	return mux
}

// Start serves until Stop is called. It returns early when the listener
// cannot be opened, and returns nil at once if Stop already ran.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return nil
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	s.httpServer = srv

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.Warn().Err(err).Msg("mDNS unavailable, auto-discovery disabled")
		}
	}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.tlsEnabled() {
			s.logger.Info().Str("addr", srv.Addr).Msg("serving wss")
			err = srv.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			s.logger.Info().Str("addr", srv.Addr).Msg("serving ws")
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.handlerRegistry.StartLifecycleHandlers(s.ctx)

	select {
	case <-s.ctx.Done():
		s.logger.Info().Msg("server context cancelled, shutting down")
		return nil
	case err := <-errCh:
		s.logger.Error().Err(err).Msg("http server failed")
		s.Stop()
		return err
	}
}

func (s *Server) tlsEnabled() bool {
	return s.config.CertFile != "" && s.config.KeyFile != ""
}

// Stop shuts the server down and disconnects every client. It is safe to
// call before Start and more than once.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	srv, mdns := s.httpServer, s.mdnsServer
	s.httpServer, s.mdnsServer = nil, nil
	s.mu.Unlock()

	if mdns != nil {
		mdns.Shutdown()
		s.logger.Debug().Msg("mDNS service stopped")
	}

	s.closeClients()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("server shutdown error")
		}
	}
}

// startMDNS advertises the agent for discovery on the local network. The
// caller holds s.mu.
func (s *Server) startMDNS() error {
	scheme := "ws"
	if s.tlsEnabled() {
		scheme = "wss"
	}
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"scheme=" + scheme,
		"path=" + RouteWebSocket,
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	s.logger.Info().Str("service", MDNSServiceType).Int("port", s.config.Port).Msg("mDNS service registered")
	return nil
}

// handleWebSocket claims the session, upgrades the connection and serves
// requests until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	token, err := s.config.Sessions.Acquire(r.URL.Query().Get("secret"), origin, r.RemoteAddr)
	switch {
	case errors.Is(err, ErrInvalidSecret):
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("websocket rejected: invalid API secret")
		http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
		return
	case errors.Is(err, ErrSessionClaimed):
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("websocket rejected: session already claimed")
		http.Error(w, "Session already claimed by another client", http.StatusConflict)
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("session acquisition failed")
		http.Error(w, "Session error", http.StatusInternalServerError)
		return
	}
	defer s.config.Sessions.ReleaseToken(token)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn, r.RemoteAddr, s.logger)
	client.logger.Info().Str("remote", r.RemoteAddr).Msg("websocket connected")

	s.clientsMux.Lock()
	s.clients[client] = true
	s.clientsMux.Unlock()

	connCtx, cancel := context.WithCancel(s.ctx)
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		s.clientsMux.Lock()
		delete(s.clients, client)
		s.clientsMux.Unlock()
		client.Close()
		client.logger.Info().Msg("websocket disconnected, session released")
	}()

	client.Push(protocol.PushDeviceStatus, s.deviceStatus(connCtx))

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.config.Sessions.RefreshTimeout()

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.logger.Warn().Err(err).Msg("failed to parse websocket message")
			client.RespondError("", "", protocol.ErrCodeParse, "Invalid message format")
			continue
		}

		if !s.handlerRegistry.Has(req.Type) {
			client.logger.Warn().Str("type", req.Type).Msg("unknown message type")
			client.RespondError(req.ID, "", protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.dispatch(connCtx, client, req)
		}()
	}
}

// dispatch runs one handler. A panicking handler answers with an internal
// error instead of taking the connection down.
func (s *Server) dispatch(ctx context.Context, client *Client, req protocol.WebSocketRequest) {
	start := time.Now()
	err := s.handlerRegistry.Dispatch(ctx, client, req)

	var panicErr *PanicError
	switch {
	case errors.As(err, &panicErr):
		client.logger.Error().Interface("panic", panicErr.Value).Str("type", req.Type).Msg("handler panic recovered")
		client.RespondError(req.ID, req.Type, protocol.ErrCodeInternal, fmt.Sprintf("Internal error: %v", panicErr.Value))
	case err != nil:
		client.logger.Warn().Err(err).Str("type", req.Type).Msg("handler error")
	}
	client.logger.Debug().Str("type", req.Type).Str("id", req.ID).Dur("took", time.Since(start)).Msg("request handled")
}

func (s *Server) deviceStatus(ctx context.Context) protocol.DeviceStatusPayload {
	status := protocol.DeviceStatusPayload{Versions: s.config.Versions}
	if s.config.Terminal == nil {
		status.Message = "No terminal configured"
		return status
	}

	diag := s.config.Terminal.Diagnose(ctx)
	status.Connected = diag.Loaded
	status.PlatformSupported = diag.PlatformSupported
	if diag.Err != nil {
		status.Message = diag.Map()["error"].(string)
	} else {
		status.Message = "Device ready"
	}
	return status
}

// handleHealthCheck serves GET /api/v1/health.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().Format(time.RFC3339),
		"version":       buildinfo.FullVersion(),
		"sessionActive": s.config.Sessions.Active(),
		"versions":      s.config.Versions,
	})
}
