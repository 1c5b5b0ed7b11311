package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/collab"
	"github.com/MarcoPoloResearchLab/canvas/internal/users"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	defaultAuthTimeout       = 10 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultSendBuffer        = 256
	defaultReadLimitBytes    = 64 * 1024
)

// CredentialVerifier resolves a client credential to a principal.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, token string) (users.Principal, error)
}

// SupervisorConfig describes the dependencies and limits of a Supervisor.
type SupervisorConfig struct {
	Verifier          CredentialVerifier
	Registry          *collab.Registry
	Router            *Router
	Metrics           *Metrics
	Logger            *zap.Logger
	Clock             func() time.Time
	AllowedOrigins    []string
	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	ReadLimitBytes    int64
}

// Supervisor owns every client websocket: the authentication handshake,
// frame dispatch, heartbeats and teardown.
type Supervisor struct {
	verifier          CredentialVerifier
	registry          *collab.Registry
	router            *Router
	metrics           *Metrics
	logger            *zap.Logger
	clock             func() time.Time
	upgrader          websocket.Upgrader
	authTimeout       time.Duration
	heartbeatInterval time.Duration
	writeTimeout      time.Duration
	sendBuffer        int
	readLimit         int64

	mu          sync.Mutex
	connections map[string]*Connection
}

// NewSupervisor validates the configuration and returns a Supervisor.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Router == nil {
		return nil, errMissingRouter
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = cfg.Router.metrics
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	supervisor := &Supervisor{
		verifier:          cfg.Verifier,
		registry:          cfg.Registry,
		router:            cfg.Router,
		metrics:           metrics,
		logger:            logger,
		clock:             clock,
		authTimeout:       positiveDuration(cfg.AuthTimeout, defaultAuthTimeout),
		heartbeatInterval: positiveDuration(cfg.HeartbeatInterval, defaultHeartbeatInterval),
		writeTimeout:      positiveDuration(cfg.WriteTimeout, defaultWriteTimeout),
		sendBuffer:        cfg.SendBuffer,
		readLimit:         cfg.ReadLimitBytes,
		connections:       make(map[string]*Connection),
	}
	if supervisor.sendBuffer <= 0 {
		supervisor.sendBuffer = defaultSendBuffer
	}
	if supervisor.readLimit <= 0 {
		supervisor.readLimit = defaultReadLimitBytes
	}
	supervisor.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return supervisor, nil
}

func positiveDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	origins := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		origins[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := origins[origin]
		return ok
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
func (s *Supervisor) ServeWS(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn := newConnection(ulid.Make().String(), socket, s.sendBuffer, s.writeTimeout, s.clock())
	s.mu.Lock()
	s.connections[conn.ID()] = conn
	s.mu.Unlock()
	s.metrics.connectionsOpened.Add(1)
	s.metrics.connectionsActive.Add(1)

	s.serve(context.WithoutCancel(r.Context()), conn)
}

func (s *Supervisor) serve(ctx context.Context, conn *Connection) {
	defer func() {
		close(conn.readerDone)
		s.terminate(ctx, conn, websocket.CloseNormalClosure, "")
	}()

	conn.socket.SetReadLimit(s.readLimit)
	if err := s.authenticate(ctx, conn); err != nil {
		if !errors.Is(err, ErrAuthentication) {
			s.logger.Warn("websocket subscription failed", zap.String("connection_id", conn.ID()), zap.Error(err))
			return
		}
		s.metrics.authFailures.Add(1)
		s.logger.Info("websocket authentication failed",
			zap.String("connection_id", conn.ID()),
			zap.Error(err),
		)
		s.writeError(conn, frameHeader{Type: TypeError, SessionID: conn.ID()}, err)
		conn.close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	for {
		_, data, err := conn.socket.ReadMessage()
		if err != nil {
			if !conn.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}
		s.handleFrame(ctx, conn, data)
	}
}

func (s *Supervisor) authenticate(ctx context.Context, conn *Connection) error {
	_ = conn.socket.SetReadDeadline(time.Now().Add(s.authTimeout))
	_, data, err := conn.socket.ReadMessage()
	if err != nil {
		return authenticationError("no credential received", err)
	}
	envelope, err := decodeEnvelope(data)
	if err != nil {
		return authenticationError("malformed auth frame", err)
	}
	if envelope.Type != TypeAuth {
		return authenticationError("first frame must be auth", nil)
	}
	var payload authPayload
	if err := envelope.decodePayload(&payload); err != nil || payload.Credential == "" {
		return authenticationError("credential is required", err)
	}
	principal, err := s.verifier.VerifyCredential(ctx, payload.Credential)
	if err != nil {
		return authenticationError("credential rejected", err)
	}
	_ = conn.socket.SetReadDeadline(time.Time{})

	conn.userID = principal.UserID
	conn.displayName = principal.DisplayName
	conn.acknowledged.Store(true)
	conn.authenticated.Store(true)
	conn.socket.SetPongHandler(func(string) error {
		conn.acknowledged.Store(true)
		return nil
	})

	replayed, err := s.router.Subscribe(ctx, conn, func(pending int) error {
		frame, err := encodeFrame(frameHeader{
			Type:      TypeAuthenticated,
			SessionID: conn.ID(),
			RequestID: envelope.RequestID,
		}, authenticatedPayload{
			SessionID:   conn.ID(),
			UserID:      principal.UserID,
			DisplayName: principal.DisplayName,
			Replayed:    pending,
		}, s.clock())
		if err != nil {
			return err
		}
		if err := conn.writeDirect(frame); err != nil {
			return err
		}
		conn.startWriter(func() {
			s.metrics.delivered.Add(1)
		}, func(err error) {
			s.metrics.sendFailures.Add(1)
			s.logger.Warn("websocket send failed",
				zap.String("connection_id", conn.ID()),
				zap.String("user_id", conn.UserID()),
				zap.Error(err),
			)
			go s.terminate(ctx, conn, websocket.CloseAbnormalClosure, "send failed")
		})
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("websocket authenticated",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", principal.UserID),
		zap.Int("replayed", replayed),
	)
	return nil
}

func authenticationError(message string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", ErrAuthentication, message, cause)
	}
	return fmt.Errorf("%w: %s", ErrAuthentication, message)
}

// terminate closes the connection, waits for its reader and writer, then
// removes it from the router and from every room. Safe to call repeatedly.
func (s *Supervisor) terminate(ctx context.Context, conn *Connection, code int, reason string) {
	conn.cleanup.Do(func() {
		conn.close(code, reason)
		conn.waitWriter()
		<-conn.readerDone
		if conn.authenticated.Load() {
			s.router.Unsubscribe(ctx, conn)
			if err := s.registry.Disconnect(ctx, conn.ID()); err != nil {
				s.logger.Warn("room disconnect failed", zap.String("connection_id", conn.ID()), zap.Error(err))
			}
		}
		s.mu.Lock()
		delete(s.connections, conn.ID())
		s.mu.Unlock()
		s.metrics.connectionsClosed.Add(1)
		s.metrics.connectionsActive.Add(-1)
		s.logger.Debug("websocket closed",
			zap.String("connection_id", conn.ID()),
			zap.String("user_id", conn.UserID()),
			zap.Duration("lifetime", s.clock().Sub(conn.openedAt)),
		)
	})
}

// Probe runs one heartbeat round. Connections that did not answer the
// previous ping are terminated; the rest receive a new ping.
func (s *Supervisor) Probe(ctx context.Context) {
	s.mu.Lock()
	connections := make([]*Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		connections = append(connections, conn)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range connections {
		if !conn.authenticated.Load() || conn.isClosed() {
			continue
		}
		if !conn.acknowledged.Swap(false) {
			s.metrics.heartbeatTerminations.Add(1)
			s.logger.Info("heartbeat missed",
				zap.String("connection_id", conn.ID()),
				zap.String("user_id", conn.UserID()),
			)
			wg.Add(1)
			go func(conn *Connection) {
				defer wg.Done()
				s.terminate(ctx, conn, websocket.CloseGoingAway, "heartbeat timeout")
			}(conn)
			continue
		}
		if err := conn.ping(); err != nil {
			s.logger.Debug("heartbeat ping failed", zap.String("connection_id", conn.ID()), zap.Error(err))
			wg.Add(1)
			go func(conn *Connection) {
				defer wg.Done()
				s.terminate(ctx, conn, websocket.CloseAbnormalClosure, "ping failed")
			}(conn)
		}
	}
	wg.Wait()
}

// Run probes connections every heartbeat interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Shutdown closes every connection and waits for their teardown.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	connections := make([]*Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		connections = append(connections, conn)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range connections {
		wg.Add(1)
		go func(conn *Connection) {
			defer wg.Done()
			s.terminate(ctx, conn, websocket.CloseGoingAway, "server shutdown")
		}(conn)
	}
	wg.Wait()
}

// ConnectionCount returns the number of open connections.
func (s *Supervisor) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

func (s *Supervisor) writeError(conn *Connection, header frameHeader, err error) {
	frame, encodeErr := encodeFrame(header, errorFrom(err, header.RequestID), s.clock())
	if encodeErr != nil {
		return
	}
	_ = conn.writeDirect(frame)
}
