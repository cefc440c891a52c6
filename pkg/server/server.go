// Package server exposes the engine to an external presentation layer over
// HTTP: control endpoints, a websocket event stream and Prometheus metrics.
package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/realtime-ai/voiceloop/pkg/engine"
	"github.com/realtime-ai/voiceloop/pkg/llm"
	"github.com/realtime-ai/voiceloop/pkg/pipeline"
)

// Controller is the engine surface the server drives. *engine.Engine
// implements it.
type Controller interface {
	StartListening() error
	StopListening()
	ForceStop() bool
	Status() engine.Status
	TurnConfig() engine.TurnConfig
	SetTurnConfig(cfg engine.TurnConfig)
	Inference() llm.Generator
	Subscribe(t pipeline.EventType, ch chan<- pipeline.Event)
	Unsubscribe(t pipeline.EventType, ch chan<- pipeline.Event)
}

// Config holds the configuration for the server.
type Config struct {
	// Addr is the address to listen on (e.g., "127.0.0.1:8080").
	Addr string

	// AuthToken is the bearer token for authentication.
	// If empty, authentication is disabled.
	AuthToken string

	// Gatherer serves /metrics. prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer

	// PingTimeout bounds each model ping of GET /models.
	PingTimeout time.Duration

	// MaxImageBytes limits PUT /settings/image.
	MaxImageBytes int64

	// ReadBufferSize is the WebSocket read buffer size.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	WriteBufferSize int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:            "127.0.0.1:8080",
		PingTimeout:     10 * time.Second,
		MaxImageBytes:   10 << 20,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
}

// Server is the control and event server.
type Server struct {
	config     *Config
	controller Controller

	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex

	httpServer *http.Server
	mux        *http.ServeMux
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server for controller and registers its routes.
func New(config *Config, controller Controller) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 10 * time.Second
	}
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = 10 << 20
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config,
		controller: controller,
		clients:    make(map[*websocket.Conn]struct{}),
		mux:        http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("GET /events", s.authorized(s.handleEvents))
	s.mux.HandleFunc("POST /listen/start", s.authorized(s.handleListenStart))
	s.mux.HandleFunc("POST /listen/stop", s.authorized(s.handleListenStop))
	s.mux.HandleFunc("POST /playback/stop", s.authorized(s.handlePlaybackStop))
	s.mux.HandleFunc("GET /settings", s.authorized(s.handleGetSettings))
	s.mux.HandleFunc("PUT /settings", s.authorized(s.handlePutSettings))
	s.mux.HandleFunc("PUT /settings/image", s.authorized(s.handlePutImage))
	s.mux.HandleFunc("DELETE /settings/image", s.authorized(s.handleDeleteImage))
	s.mux.HandleFunc("GET /models", s.authorized(s.handleModels))
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the server.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.mux,
	}

	log.Printf("[Server] starting on %s", s.config.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
		return nil
	}
}

// Stop closes every event stream and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.clientsMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// authorized checks the bearer token. The event stream also accepts a
// "token" query parameter since browsers cannot set headers on websockets.
func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || token == r.Header.Get("Authorization") {
				token = r.URL.Query().Get("token")
			}
			if token != s.config.AuthToken {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// handleEvents streams every engine event as JSON until the client leaves.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()

	events := make(chan pipeline.Event, 64)
	for _, t := range pipeline.AllEventTypes {
		s.controller.Subscribe(t, events)
	}

	defer func() {
		for _, t := range pipeline.AllEventTypes {
			s.controller.Unsubscribe(t, events)
		}
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	// the reader only watches for close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[Server] WebSocket read error: %v", err)
				}
				return
			}
		}
	}()

	hello := pipeline.Event{
		Type:      pipeline.EventStatus,
		Timestamp: time.Now(),
		Payload:   engine.StatusPayload{Status: s.controller.Status()},
	}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-closed:
			return
		case evt := <-events:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				log.Printf("[Server] failed to write event: %v", err)
				return
			}
		}
	}
}
