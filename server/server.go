package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicerelay/core"
	"voicerelay/persona"
	"voicerelay/session"
)

// Config holds configuration for the websocket server.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	Path       string `json:"path"`

	ReadBufferSize  int `json:"read_buffer_size"`
	WriteBufferSize int `json:"write_buffer_size"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8765",
		Path:            "/",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// Server accepts websocket connections and runs one session dispatcher
// per connection. Workers share nothing but the store.
type Server struct {
	config   Config
	store    session.Store
	registry *persona.Registry
	runner   session.TurnRunner
	logger   *core.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a websocket server wired to the session dependencies.
func New(config Config, st session.Store, registry *persona.Registry, runner session.TurnRunner, logger *core.Logger) *Server {
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultConfig().ListenAddr
	}
	if config.Path == "" {
		config.Path = "/"
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Server{
		config:   config,
		store:    st,
		registry: registry,
		runner:   runner,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			// Callers are identified by address, not origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, func(w http.ResponseWriter, r *http.Request) {
		s.handleConnection(ctx, w, r)
	})

	s.httpSrv = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpSrv.ListenAndServe()
	}()
	s.logger.With(map[string]interface{}{"addr": s.config.ListenAddr}).Info("websocket server started")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleConnection upgrades one request and runs its dispatcher to
// completion on this goroutine.
func (s *Server) handleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.With(map[string]interface{}{"error": err}).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	callerAddress := callerAddressOf(r)
	sessionLogger := s.logger.With(map[string]interface{}{
		"session_id": uuid.New().String()[:8],
		"caller":     callerAddress,
	})

	d := session.NewDispatcher(conn, callerAddress, s.store, s.registry, s.runner, sessionLogger)
	d.Run(ctx)
}

// callerAddressOf extracts the durable caller address: the host part of
// the remote address.
func callerAddressOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
