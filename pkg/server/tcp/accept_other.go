// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package tcp

import (
	perrors "github.com/hambosto/proxy-stream/pkg/errors"
)

func isTransientAcceptError(err error) bool {
	return perrors.IsTimeout(err)
}
