// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package tcp

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	perrors "github.com/hambosto/proxy-stream/pkg/errors"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func acceptErr(errno syscall.Errno) error {
	return &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", errno)}
}

func TestIsTransientAcceptError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "too many open files", err: acceptErr(syscall.EMFILE), want: true},
		{name: "file table overflow", err: acceptErr(syscall.ENFILE), want: true},
		{name: "no buffer space", err: acceptErr(syscall.ENOBUFS), want: true},
		{name: "connection aborted", err: acceptErr(syscall.ECONNABORTED), want: true},
		{name: "connection reset", err: acceptErr(syscall.ECONNRESET), want: true},
		{name: "protocol error", err: acceptErr(syscall.EPROTO), want: true},
		{name: "firewall rejected", err: acceptErr(syscall.EPERM), want: true},
		{name: "timeout", err: &net.OpError{Op: "accept", Net: "tcp", Err: timeoutError{}}, want: true},
		{name: "bad file descriptor", err: acceptErr(syscall.EBADF), want: false},
		{name: "invalid argument", err: acceptErr(syscall.EINVAL), want: false},
		{name: "closed listener", err: net.ErrClosed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientAcceptError(tt.err); got != tt.want {
				t.Errorf("isTransientAcceptError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// scriptedListener returns the scripted errors from Accept, then blocks
// until closed.
type scriptedListener struct {
	mu     sync.Mutex
	errs   []error
	closed chan struct{}
	once   sync.Once
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	<-l.closed
	return nil, net.ErrClosed
}

func (l *scriptedListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *scriptedListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8888}
}

func TestTCPServer_FatalAcceptError(t *testing.T) {
	l := &scriptedListener{
		errs:   []error{acceptErr(syscall.EMFILE), acceptErr(syscall.EMFILE), acceptErr(syscall.EBADF)},
		closed: make(chan struct{}),
	}
	obs := newMockObserver()
	server := New(Config{TargetAddress: "127.0.0.1:9", Logger: testLogger()}, obs)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(context.Background(), l)
	}()

	var err error
	select {
	case err = <-serverErr:
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not stop on fatal accept error")
	}

	var ae *perrors.AcceptError
	if !errors.As(err, &ae) || !ae.Fatal {
		t.Fatalf("Expected fatal AcceptError, got %v", err)
	}
	if !errors.Is(err, syscall.EBADF) {
		t.Errorf("Expected EBADF to be wrapped, got %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.acceptErrors) != 3 {
		t.Fatalf("Expected 3 reported accept errors, got %d", len(obs.acceptErrors))
	}
	for i, e := range obs.acceptErrors[:2] {
		if errors.As(e, &ae) && ae.Fatal {
			t.Errorf("Accept error %d should be transient", i)
		}
	}
}

func TestTCPServer_AcceptBackoffInterrupted(t *testing.T) {
	errs := make([]error, 12)
	for i := range errs {
		errs[i] = acceptErr(syscall.EMFILE)
	}
	l := &scriptedListener{errs: errs, closed: make(chan struct{})}
	server := New(Config{TargetAddress: "127.0.0.1:9", Logger: testLogger()}, newMockObserver())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(ctx, l)
	}()

	// Backoff has grown to several hundred milliseconds by now.
	time.Sleep(700 * time.Millisecond)
	cancelled := time.Now()
	cancel()

	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
		if elapsed := time.Since(cancelled); elapsed > 250*time.Millisecond {
			t.Errorf("Serve returned %v after cancellation, expected backoff to be interrupted", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not stop after cancellation")
	}
}
