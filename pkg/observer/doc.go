// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package observer defines the notification hooks a forwarding server calls
// during a session's lifetime.
//
// # Lifecycle
//
//	Accepted ──→ Connecting ──→ Relaying ──→ Closed
//	   │              │                        │
//	OnAccept    OnConnectError              OnClose
//
// An accepted connection produces exactly one OnAccept followed by exactly
// one of OnConnectError or OnClose. OnAcceptError is reported by the accept
// loop independently of any session.
//
// Observers only report; they never see or alter the relayed bytes.
//
// # Implementations
//
//   - Noop: discards every event
//   - Log: writes events to a *slog.Logger
//   - Multi: fans events out to several observers
//
// The metrics package provides a Prometheus-backed Observer.
//
// # Example
//
//	obs := observer.Multi{
//		observer.NewLog(logger),
//		metrics.New("proxy_stream", reg),
//	}
//	server := tcp.New(cfg, obs)
package observer
