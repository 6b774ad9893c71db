// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	perrors "github.com/hambosto/proxy-stream/pkg/errors"
	"github.com/hambosto/proxy-stream/pkg/observer"
)

const (
	defaultBufferSize      = 32 * 1024
	defaultShutdownTimeout = 5 * time.Second

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var (
	// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrServerStarted is returned when Listen or Serve is called twice.
	ErrServerStarted = errors.New("server already started")
)

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port). An empty host binds all interfaces.
	Address string

	// TargetAddress is the destination every session connects to (host:port)
	TargetAddress string

	// BufferSize is the size of the buffer used by each relay direction.
	BufferSize int

	// DialTimeout bounds connecting to the target. Zero leaves it to the OS.
	DialTimeout time.Duration

	// HalfCloseTimeout is how long the remaining direction may stay idle
	// after the other one reached EOF. Zero disables the bound.
	HalfCloseTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for active sessions to
	// finish after the listener is closed. Remaining sessions are then
	// closed forcefully.
	ShutdownTimeout time.Duration

	// Logger for server events
	Logger *slog.Logger
}

// Server accepts TCP connections and relays each one, byte for byte, to the
// target address.
type Server struct {
	config   Config
	observer observer.Observer
	dialer   net.Dialer
	bufPool  sync.Pool
	wg       sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
	closing  atomic.Bool
	done     chan struct{}
}

// New creates a new TCP server. A nil observer logs session events to
// cfg.Logger.
func New(cfg Config, obs observer.Observer) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if obs == nil {
		obs = observer.NewLog(cfg.Logger)
	}

	s := &Server{
		config:   cfg,
		observer: obs,
		dialer:   net.Dialer{Timeout: cfg.DialTimeout},
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	size := cfg.BufferSize
	s.bufPool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}

	return s
}

// Listen binds the configured address and serves until ctx is cancelled or
// the listener fails. A bind failure is returned as *errors.BindError.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return &perrors.BindError{Address: s.config.Address, Err: err}
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on l until ctx is cancelled or an unrecoverable
// accept error occurs. Serve takes ownership of l and closes it on return.
// It returns nil after a clean shutdown, ErrShutdownTimeout if sessions had
// to be closed forcefully, or the fatal *errors.AcceptError.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		l.Close()
		return ErrServerStarted
	}
	s.listener = l
	close(s.ready)
	s.mu.Unlock()

	s.config.Logger.Info("TCP server started",
		slog.String("address", l.Addr().String()),
		slog.String("target", s.config.TargetAddress))

	// Sessions outlive ctx until the shutdown timeout expires.
	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	acceptDone := make(chan error, 1)
	go func() {
		acceptDone <- s.acceptLoop(connCtx, l)
	}()

	var acceptErr error
	select {
	case <-ctx.Done():
		s.config.Logger.Info("shutdown signal received, closing listener")
		s.close(l)
		acceptErr = <-acceptDone
	case acceptErr = <-acceptDone:
		s.config.Logger.Error("listener stopped", slog.String("error", acceptErr.Error()))
		s.close(l)
	}

	if err := s.drain(connCancel); err != nil {
		return err
	}
	return acceptErr
}

// Addr returns the bound listener address, or nil before the server listens.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Ready is closed once the server has a listening socket.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Accepting reports whether the accept loop is running.
func (s *Server) Accepting() bool {
	select {
	case <-s.ready:
		return !s.closing.Load()
	default:
		return false
	}
}

func (s *Server) close(l net.Listener) {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
}

// acceptLoop starts one session per accepted connection. Transient accept
// errors are retried with exponential backoff; anything else is fatal.
func (s *Server) acceptLoop(ctx context.Context, l net.Listener) error {
	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}

			aerr := &perrors.AcceptError{
				Address: l.Addr().String(),
				Fatal:   !isTransientAcceptError(err),
				Err:     err,
			}
			s.observer.OnAcceptError(aerr)
			if aerr.Fatal {
				return aerr
			}

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			select {
			case <-time.After(delay):
			case <-s.done:
				return nil
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// drain waits for active sessions, forcing them closed once the shutdown
// timeout expires.
func (s *Server) drain(force context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Info("all connections closed")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn("shutdown timeout exceeded, forcing connection closure")
		force()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return ErrShutdownTimeout
	}
}
