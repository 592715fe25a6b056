// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
)

// isClosedConnError reports whether err is an error from use of a closed network connection,
// or a connection reset or aborted by the peer.
func isClosedConnError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	return strings.Contains(err.Error(), "use of closed network connection")
}

// cleanIP removes the IPv4-mapped IPv6 prefix so that IPv4 clients are logged as such.
func cleanIP(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}

// remoteIP returns the host part of a remote address, or the address itself if it has no port.
func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return cleanIP(host)
}

// WithPort replaces the port of a host:port address.
// If addr has no port, the port is appended.
func WithPort(addr string, port int) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = strings.Trim(addr, "[]")
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
