// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	perrors "github.com/hambosto/proxy-stream/pkg/errors"
	"github.com/hambosto/proxy-stream/pkg/observer"
)

// handleConn runs one session:
// 1. Dial the target
// 2. Relay bytes in both directions
// 3. Close both connections on every exit path
//
// Cancelling ctx closes both connections, which unblocks the relay.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	start := time.Now()
	client := newEndpoint(conn)
	defer client.Close()

	octx := &observer.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: conn.RemoteAddr().String(),
		TargetAddr: s.config.TargetAddress,
	}
	s.observer.OnAccept(octx)

	stopClient := context.AfterFunc(ctx, func() { client.Close() })
	defer stopClient()

	outbound, err := s.dialer.DialContext(ctx, "tcp", s.config.TargetAddress)
	if err != nil {
		s.observer.OnConnectError(octx, &perrors.ConnectError{
			SessionID:  octx.SessionID,
			RemoteAddr: octx.RemoteAddr,
			Target:     s.config.TargetAddress,
			Err:        err,
		})
		return
	}
	target := newEndpoint(outbound)
	defer target.Close()

	stopTarget := context.AfterFunc(ctx, func() { target.Close() })
	defer stopTarget()

	s.config.Logger.Debug("connection established",
		slog.String("session", octx.SessionID),
		slog.String("client", octx.RemoteAddr),
		slog.String("target", outbound.RemoteAddr().String()))

	stats := s.relay(client, target, octx.SessionID)

	client.Close()
	target.Close()

	// Forced shutdown closes the endpoints underneath the relay.
	if ctx.Err() != nil && perrors.IsClosedConn(stats.Err) {
		stats.Err = nil
	}
	stats.Duration = time.Since(start)
	s.observer.OnClose(octx, stats)
}
