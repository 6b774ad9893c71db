// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	perrors "github.com/hambosto/proxy-stream/pkg/errors"
	"github.com/hambosto/proxy-stream/pkg/observer"
)

// Direction indicates the direction of byte flow within a session.
type Direction int

const (
	// Upstream represents bytes flowing from client to target.
	Upstream Direction = iota

	// Downstream represents bytes flowing from target to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

type closeWriter interface {
	CloseWrite() error
}

type closeReader interface {
	CloseRead() error
}

type lingerer interface {
	SetLinger(sec int) error
}

// endpoint is one side of a session. Close is idempotent so the goroutine
// that ends the session and the unwinding copy goroutines may both call it.
type endpoint struct {
	net.Conn
	closed atomic.Bool
}

func newEndpoint(c net.Conn) *endpoint {
	return &endpoint{Conn: c}
}

// Close closes the connection once; later calls return nil.
func (e *endpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.Conn.Close()
}

// CloseWrite shuts down the write side, falling back to a full close for
// connections that cannot half-close.
func (e *endpoint) CloseWrite() error {
	if e.closed.Load() {
		return nil
	}
	if cw, ok := e.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return e.Close()
}

// Abort closes the connection with a reset where supported, so the peer
// cannot mistake the close for an orderly end of stream.
func (e *endpoint) Abort() error {
	if e.closed.Load() {
		return nil
	}
	if l, ok := e.Conn.(lingerer); ok {
		l.SetLinger(0)
	}
	return e.Close()
}

// CloseRead shuts down the read side when supported.
func (e *endpoint) CloseRead() error {
	if e.closed.Load() {
		return nil
	}
	if cr, ok := e.Conn.(closeReader); ok {
		return cr.CloseRead()
	}
	return nil
}

type copyResult struct {
	dir Direction
	n   int64
	err error
}

// pipe copies src to dst until src reaches EOF or an I/O error occurs. Each
// chunk read is fully written before the next read, so at most one buffer
// per direction is in flight. On EOF the write side of dst is shut down.
//
// While idle holds a non-zero duration, every read and write is given a
// fresh deadline of that length, so only a silent direction times out.
func (s *Server) pipe(dst, src *endpoint, dir Direction, sessionID string, idle *atomic.Int64) copyResult {
	bufp := s.bufPool.Get().(*[]byte)
	defer s.bufPool.Put(bufp)
	buf := *bufp

	res := copyResult{dir: dir}
	for {
		if d := time.Duration(idle.Load()); d > 0 {
			src.SetReadDeadline(time.Now().Add(d))
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			if d := time.Duration(idle.Load()); d > 0 {
				dst.SetWriteDeadline(time.Now().Add(d))
			}
			nw, werr := dst.Write(buf[:nr])
			res.n += int64(nw)
			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				res.err = &perrors.RelayError{SessionID: sessionID, Direction: dir.String(), Op: "write", Err: werr}
				return res
			}
		}
		if rerr == io.EOF {
			if err := dst.CloseWrite(); err != nil && !perrors.IsClosedConn(err) {
				s.config.Logger.Debug("half-close failed",
					slog.String("session", sessionID),
					slog.String("direction", dir.String()),
					slog.String("error", err.Error()))
			}
			if err := src.CloseRead(); err != nil && !perrors.IsClosedConn(err) {
				s.config.Logger.Debug("read shutdown failed",
					slog.String("session", sessionID),
					slog.String("direction", dir.String()),
					slog.String("error", err.Error()))
			}
			return res
		}
		if rerr != nil {
			res.err = &perrors.RelayError{SessionID: sessionID, Direction: dir.String(), Op: "read", Err: rerr}
			return res
		}
	}
}

// relay runs both directions concurrently and returns once both have
// stopped. An error in either direction closes both endpoints right away;
// an orderly EOF leaves the other direction running for as long as it keeps
// moving bytes. With HalfCloseTimeout set, a remaining direction that stays
// silent that long is aborted and both endpoints are reset.
func (s *Server) relay(client, target *endpoint, sessionID string) observer.Stats {
	var idle atomic.Int64
	results := make(chan copyResult, 2)
	go func() {
		results <- s.pipe(target, client, Upstream, sessionID, &idle)
	}()
	go func() {
		results <- s.pipe(client, target, Downstream, sessionID, &idle)
	}()

	var stats observer.Stats
	record := func(r copyResult) {
		switch r.dir {
		case Upstream:
			stats.Upstream = r.n
		case Downstream:
			stats.Downstream = r.n
		}
	}

	first := <-results
	record(first)
	switch {
	case first.err != nil:
		stats.Err = first.err
		client.Close()
		target.Close()
	case s.config.HalfCloseTimeout > 0:
		idle.Store(int64(s.config.HalfCloseTimeout))
		// The remaining direction may already be blocked in Read.
		deadline := time.Now().Add(s.config.HalfCloseTimeout)
		client.SetDeadline(deadline)
		target.SetDeadline(deadline)
	}

	// A closed endpoint makes the second direction fail on its next read or
	// write; that unwind error is not reported.
	second := <-results
	record(second)
	if stats.Err == nil && second.err != nil && !client.closed.Load() && !target.closed.Load() {
		stats.Err = second.err
		if perrors.IsTimeout(second.err) {
			client.Abort()
			target.Abort()
		}
	}

	return stats
}
