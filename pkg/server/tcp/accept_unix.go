// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package tcp

import (
	"errors"
	"syscall"

	perrors "github.com/hambosto/proxy-stream/pkg/errors"
	"golang.org/x/sys/unix"
)

// transientAcceptErrnos are accept(2) failures that leave the listening
// socket usable: resource exhaustion and connections aborted by the peer
// before they were accepted.
var transientAcceptErrnos = []syscall.Errno{
	unix.EMFILE,
	unix.ENFILE,
	unix.ENOBUFS,
	unix.ENOMEM,
	unix.ECONNABORTED,
	unix.ECONNRESET,
	unix.EPROTO,
	unix.EPERM,
	unix.EINTR,
	unix.EAGAIN,
}

func isTransientAcceptError(err error) bool {
	if perrors.IsTimeout(err) {
		return true
	}
	for _, errno := range transientAcceptErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
