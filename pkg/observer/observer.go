// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"time"
)

// Context contains the metadata of one forwarding session.
type Context struct {
	// SessionID is a unique identifier for this session
	SessionID string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// TargetAddr is the destination the session connects to
	TargetAddr string
}

// Stats summarizes a finished session.
type Stats struct {
	// Upstream is the number of bytes copied from the client to the target.
	Upstream int64

	// Downstream is the number of bytes copied from the target to the client.
	Downstream int64

	// Duration is the time between accept and close.
	Duration time.Duration

	// Err is the error that ended the session, nil on orderly close.
	Err error
}

// Observer receives session lifecycle notifications. Calls are made from the
// session goroutines and must not block; they cannot alter the session.
type Observer interface {
	// OnAccept is called when an inbound connection is accepted.
	OnAccept(octx *Context)

	// OnAcceptError is called for every failed accept, transient or fatal.
	OnAcceptError(err error)

	// OnConnectError is called when the target cannot be reached.
	// OnClose is not called for such sessions.
	OnConnectError(octx *Context, err error)

	// OnClose is called once both connections of a relaying session are closed.
	OnClose(octx *Context, stats Stats)
}

// Noop is an Observer that ignores every event.
type Noop struct{}

var _ Observer = (*Noop)(nil)

func (Noop) OnAccept(*Context)              {}
func (Noop) OnAcceptError(error)            {}
func (Noop) OnConnectError(*Context, error) {}
func (Noop) OnClose(*Context, Stats)        {}

// Multi fans events out to several observers in order.
type Multi []Observer

var _ Observer = (Multi)(nil)

func (m Multi) OnAccept(octx *Context) {
	for _, o := range m {
		o.OnAccept(octx)
	}
}

func (m Multi) OnAcceptError(err error) {
	for _, o := range m {
		o.OnAcceptError(err)
	}
}

func (m Multi) OnConnectError(octx *Context, err error) {
	for _, o := range m {
		o.OnConnectError(octx, err)
	}
}

func (m Multi) OnClose(octx *Context, stats Stats) {
	for _, o := range m {
		o.OnClose(octx, stats)
	}
}
