package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/broker"
	"github.com/danmuck/voltshift/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSocketPath   = "/run/voltshift.sock"
	DefaultSocketMode   = os.FileMode(0o660)
	DefaultWriteTimeout = 10 * time.Second
)

// ErrServerClosed is returned when serving is attempted after shutdown.
var ErrServerClosed = errors.New("server: closed")

// Config tunes the socket server.
type Config struct {
	SocketPath   string
	SocketMode   os.FileMode
	WriteTimeout time.Duration
	Limits       frame.Limits
}

func (c Config) withDefaults() Config {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.SocketMode == 0 {
		c.SocketMode = DefaultSocketMode
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = frame.DefaultLimits()
	}
	return c
}

// Server accepts client connections and binds each to a broker session.
type Server struct {
	cfg    Config
	broker *broker.Broker
	authz  auth.Authorizer
	logger zerolog.Logger

	mu     sync.Mutex
	conns  map[*net.UnixConn]struct{}
	closed bool

	handlers sync.WaitGroup
	active   atomic.Int64
}

func New(cfg Config, b *broker.Broker, authz auth.Authorizer) *Server {
	if authz == nil {
		authz = auth.Policy{}
	}
	return &Server{
		cfg:    cfg.withDefaults(),
		broker: b,
		authz:  authz,
		logger: log.Logger.With().Str("component", "server").Logger(),
		conns:  make(map[*net.UnixConn]struct{}),
	}
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int64 {
	return s.active.Load()
}

// Listen binds the configured socket path, replacing a stale socket file.
func (s *Server) Listen() (*net.UnixListener, error) {
	path := s.cfg.SocketPath
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("server: removing stale socket %s: %w", path, err)
	}
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("server: listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, s.cfg.SocketMode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("server: chmod %s: %w", path, err)
	}
	return ln, nil
}

// Serve listens on the configured path and serves until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts on ln until ctx is done. On shutdown it stops the
// broker, which terminates every session and closes its connection, then
// waits for handlers to drain.
func (s *Server) ServeListener(ctx context.Context, ln *net.UnixListener) error {
	ln.SetUnlinkOnClose(true)
	defer ln.Close()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrServerClosed
	}
	s.logger.Info().Msgf("server.Server.Serve listening path=%q", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var serveErr error
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error().Err(err).Msg("server.Server.Serve accept failed")
			serveErr = err
			break
		}
		if !s.track(conn) {
			conn.Close()
			break
		}
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}

	s.shutdown()
	s.handlers.Wait()
	s.logger.Info().Msg("server.Server.Serve stopped")
	return serveErr
}

func (s *Server) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.broker.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("server.Server.shutdown broker stop")
	}

	// Connections that never got a session are not reached by broker stop.
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) track(conn *net.UnixConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *net.UnixConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}
