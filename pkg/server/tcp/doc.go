// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements a protocol-agnostic TCP forwarding server.
//
// # Overview
//
// The server binds one listening socket and, for every accepted connection,
// dials a fixed target and relays bytes unmodified in both directions.
//
//	┌─────────┐         ┌─────────┐         ┌─────────┐
//	│ Client  │ ←─TCP─→ │  Server │ ←─TCP─→ │ Target  │
//	└─────────┘         └─────────┘         └─────────┘
//	                         ↓
//	                    ┌──────────┐
//	                    │ Observer │
//	                    └──────────┘
//
// # Connection Flow
//
//  1. Server accepts a connection and starts a session goroutine
//  2. The session dials the target; on failure it closes the client
//  3. The session spawns two goroutines:
//     - Upstream: Client → Target
//     - Downstream: Target → Client
//  4. The session waits for both goroutines and closes both connections
//
// # Half-Close
//
// When one direction reads EOF, the write side of its destination is shut
// down so the peer sees end-of-stream while the other direction keeps
// flowing. HalfCloseTimeout then acts as an idle timeout: each read or write
// in the remaining direction pushes the deadline forward, and a direction
// that stays silent for longer is aborted with a reset on both connections.
//
// An I/O error in either direction closes both connections immediately.
//
// # Accept Errors
//
// Resource exhaustion (EMFILE, ENFILE, ENOBUFS, ENOMEM) and connections
// that failed before being accepted (ECONNABORTED, ECONNRESET, EPROTO,
// EPERM) are retried with backoff from 5ms up to 1s. Any other accept
// error stops the server and is returned from Listen.
//
// # Graceful Shutdown
//
// When the context is cancelled:
//
//  1. Server stops accepting new connections
//  2. Server waits for existing sessions (up to ShutdownTimeout)
//  3. Remaining sessions are closed forcefully
//  4. Listen returns ErrShutdownTimeout if the timeout was exceeded
//
// # Example
//
//	cfg := tcp.Config{
//		Address:       ":8888",
//		TargetAddress: "127.0.0.1:110",
//	}
//
//	server := tcp.New(cfg, observer.NewLog(logger))
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
