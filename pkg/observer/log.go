// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"errors"
	"log/slog"

	perrors "github.com/hambosto/proxy-stream/pkg/errors"
)

var _ Observer = (*Log)(nil)

// Log is an Observer that writes every event to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging observer.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		logger: logger,
	}
}

// OnAccept logs an accepted connection.
func (l *Log) OnAccept(octx *Context) {
	l.logger.Info("connection received",
		slog.String("session", octx.SessionID),
		slog.String("remote", octx.RemoteAddr))
}

// OnAcceptError logs a failed accept. Transient failures are warnings since
// the listener keeps accepting.
func (l *Log) OnAcceptError(err error) {
	var ae *perrors.AcceptError
	if errors.As(err, &ae) && !ae.Fatal {
		l.logger.Warn("failed to accept connection, retrying", slog.String("error", err.Error()))
		return
	}
	l.logger.Error("failed to accept connection", slog.String("error", err.Error()))
}

// OnConnectError logs a failed dial to the target.
func (l *Log) OnConnectError(octx *Context, err error) {
	l.logger.Error("failed to connect to target",
		slog.String("session", octx.SessionID),
		slog.String("remote", octx.RemoteAddr),
		slog.String("target", octx.TargetAddr),
		slog.String("error", err.Error()))
}

// OnClose logs a terminated session.
func (l *Log) OnClose(octx *Context, stats Stats) {
	attrs := []any{
		slog.String("session", octx.SessionID),
		slog.String("remote", octx.RemoteAddr),
		slog.Int64("upstream_bytes", stats.Upstream),
		slog.Int64("downstream_bytes", stats.Downstream),
		slog.Duration("duration", stats.Duration),
	}
	if stats.Err != nil {
		l.logger.Warn("connection terminated with error", append(attrs, slog.String("error", stats.Err.Error()))...)
		return
	}
	l.logger.Info("connection terminated", attrs...)
}
