// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIs(t *testing.T) {
	sentinels := []error{ErrBind, ErrAccept, ErrConnect, ErrRelay, ErrInvalidConfig}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "bind", err: &BindError{Address: ":8888", Err: syscall.EADDRINUSE}, want: ErrBind},
		{name: "accept", err: &AcceptError{Address: ":8888", Err: syscall.EMFILE}, want: ErrAccept},
		{name: "connect", err: &ConnectError{SessionID: "s1", Target: "127.0.0.1:110", Err: syscall.ECONNREFUSED}, want: ErrConnect},
		{name: "relay", err: &RelayError{SessionID: "s1", Direction: "upstream", Op: "read", Err: syscall.ECONNRESET}, want: ErrRelay},
		{name: "wrapped relay", err: fmt.Errorf("session: %w", &RelayError{Err: io.ErrShortWrite}), want: ErrRelay},
		{name: "invalid config", err: fmt.Errorf("%w: bad port", ErrInvalidConfig), want: ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range sentinels {
				got := errors.Is(tt.err, s)
				if want := s == tt.want; got != want {
					t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, s, got, want)
				}
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := &ConnectError{SessionID: "s1", Target: "127.0.0.1:110", Err: syscall.ECONNREFUSED}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Errorf("Expected cause to be reachable through %v", err)
	}

	var re *RelayError
	wrapped := Wrap(&RelayError{Direction: "downstream", Op: "write", Err: syscall.EPIPE}, "session")
	if !errors.As(wrapped, &re) || re.Op != "write" {
		t.Errorf("Expected RelayError through Wrap, got %v", wrapped)
	}
}

func TestAcceptError_Error(t *testing.T) {
	tests := []struct {
		fatal bool
		want  string
	}{
		{fatal: false, want: "(transient)"},
		{fatal: true, want: "(fatal)"},
	}

	for _, tt := range tests {
		err := &AcceptError{Address: "127.0.0.1:8888", Fatal: tt.fatal, Err: syscall.EMFILE}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Expected %q in %q", tt.want, err.Error())
		}
	}
}

func TestIsClosedConn(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "closed", err: net.ErrClosed, want: true},
		{name: "op closed", err: &net.OpError{Op: "read", Net: "tcp", Err: net.ErrClosed}, want: true},
		{name: "broken pipe", err: &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}, want: true},
		{name: "reset", err: &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, want: true},
		{name: "relay reset", err: &RelayError{Op: "read", Err: syscall.ECONNRESET}, want: true},
		{name: "eof", err: io.EOF, want: false},
		{name: "refused", err: syscall.ECONNREFUSED, want: false},
		{name: "timeout", err: &net.OpError{Op: "read", Net: "tcp", Err: timeoutError{}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsClosedConn(tt.err); got != tt.want {
				t.Errorf("IsClosedConn(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "op timeout", err: &net.OpError{Op: "read", Net: "tcp", Err: timeoutError{}}, want: true},
		{name: "deadline", err: os.ErrDeadlineExceeded, want: true},
		{name: "relay timeout", err: &RelayError{Op: "read", Err: os.ErrDeadlineExceeded}, want: true},
		{name: "reset", err: syscall.ECONNRESET, want: false},
		{name: "closed", err: net.ErrClosed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeout(tt.err); got != tt.want {
				t.Errorf("IsTimeout(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if err := Wrap(nil, "ops server"); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}

	cause := errors.New("address in use")
	err := Wrap(cause, "ops server")
	if err.Error() != "ops server: address in use" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected cause to be preserved")
	}
}
