// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy of the forwarding proxy.
//
// Errors are classified by the stage they occur in: binding the listen
// socket, accepting inbound connections, connecting to the target and
// relaying bytes. Only bind errors and fatal accept errors leave the
// listener; the rest are contained within a single session.
package errors

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrBind indicates the listen socket could not be created.
	ErrBind = errors.New("bind failed")

	// ErrAccept indicates accepting an inbound connection failed.
	ErrAccept = errors.New("accept failed")

	// ErrConnect indicates the target could not be reached.
	ErrConnect = errors.New("connect failed")

	// ErrRelay indicates an I/O failure while relaying bytes.
	ErrRelay = errors.New("relay failed")

	// ErrInvalidConfig indicates the resolved configuration is unusable.
	ErrInvalidConfig = errors.New("invalid config")
)

// BindError is returned when the listener cannot bind its address.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Is reports ErrBind as a match.
func (e *BindError) Is(target error) bool { return target == ErrBind }

// AcceptError is returned from the accept loop. Transient errors are retried;
// Fatal errors stop the listener.
type AcceptError struct {
	Address string
	Fatal   bool
	Err     error
}

func (e *AcceptError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("accept on %s (%s): %v", e.Address, kind, e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }

// Is reports ErrAccept as a match.
func (e *AcceptError) Is(target error) bool { return target == ErrAccept }

// ConnectError is returned when a session fails to reach the target.
type ConnectError struct {
	SessionID  string
	RemoteAddr string
	Target     string
	Err        error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect [%s] %s -> %s: %v", e.SessionID, e.RemoteAddr, e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is reports ErrConnect as a match.
func (e *ConnectError) Is(target error) bool { return target == ErrConnect }

// RelayError is returned when one direction of a session fails.
type RelayError struct {
	SessionID string
	Direction string
	Op        string // "read" or "write"
	Err       error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s [%s] %s: %v", e.Direction, e.SessionID, e.Op, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// Is reports ErrRelay as a match.
func (e *RelayError) Is(target error) bool { return target == ErrRelay }

// IsClosedConn reports whether err is the result of using a connection that
// was closed locally or torn down by the peer. Such errors are expected while
// a session unwinds.
func IsClosedConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
