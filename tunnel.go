// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/saucelabs/gateproxy/conntrack"
	"github.com/saucelabs/gateproxy/log"
)

const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

const defaultConnectPort = 443

type tunnelState int

const (
	tunnelAuthenticating tunnelState = iota
	tunnelDialing
	tunnelEstablished
	tunnelClosed
)

func (s tunnelState) String() string {
	switch s {
	case tunnelAuthenticating:
		return "authenticating"
	case tunnelDialing:
		return "dialing"
	case tunnelEstablished:
		return "established"
	case tunnelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Tunnel close reasons, they are used as log values and metric labels.
const (
	closeAuthFailed    = "auth_failed"
	closeBadTarget     = "bad_target"
	closeDialFailed    = "dial_failed"
	closeClientClosed  = "client_closed"
	closeOriginClosed  = "origin_closed"
	closeTunnelTimeout = "tunnel_timeout"
	closeProxyClosed   = "proxy_closed"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type tunnelConfig struct {
	realm          string
	auth           Authenticator
	dial           dialFunc
	connectTimeout time.Duration
	timeout        time.Duration
	log            log.StructuredLogger
	metrics        *httpProxyMetrics

	// onClose is called once when the tunnel reaches the closed state.
	onClose func(t *tunnel)
}

// tunnel relays bytes between a hijacked client connection and an origin connection.
// All paths out of the tunnel go through close.
type tunnel struct {
	cfg    *tunnelConfig
	req    *http.Request
	client *conntrack.Conn
	br     *bufio.Reader
	ip     string

	host string
	port int

	mu     sync.Mutex
	state  tunnelState
	origin net.Conn
	timer  *time.Timer
	reason string

	closeOnce sync.Once
	done      chan struct{}
}

func newTunnel(cfg *tunnelConfig, req *http.Request, conn net.Conn, br *bufio.Reader) *tunnel {
	return &tunnel{
		cfg:    cfg,
		req:    req,
		client: conntrack.Builder{}.Build(conn),
		br:     br,
		ip:     remoteIP(conn.RemoteAddr().String()),
		state:  tunnelAuthenticating,
		done:   make(chan struct{}),
	}
}

func (t *tunnel) State() tunnelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed when the tunnel is closed.
func (t *tunnel) Done() <-chan struct{} {
	return t.done
}

// run drives the tunnel from authentication to the closed state, it returns when the tunnel is closed
// and both relay directions have finished.
func (t *tunnel) run(ctx context.Context) {
	if !t.cfg.auth.Authenticate(t.req.Header) {
		t.cfg.log.Info("auth_fail_connect", "ip", t.ip, "target", t.req.Host)
		t.cfg.metrics.authFailure("connect")
		t.writeAuthRequired()
		t.close(closeAuthFailed)
		return
	}

	host, port := parseConnectTarget(t.req.Host)
	if host == "" {
		t.cfg.log.Info("bad_connect", "reason", "invalid_target", "ip", t.ip)
		t.cfg.metrics.error("bad_connect")
		t.close(closeBadTarget)
		return
	}
	t.host, t.port = host, port
	t.cfg.log.Info("connect_tunnel", "ip", t.ip, "host", host, "port", port)

	if !t.transition(tunnelAuthenticating, tunnelDialing) {
		return
	}

	origin, err := t.dial(ctx)
	if err != nil {
		t.cfg.log.Info("connect_error", "host", host, "port", port, "error", err)
		t.cfg.metrics.error("connect_error")
		t.close(closeDialFailed)
		return
	}

	if !t.establish(origin) {
		origin.Close()
		return
	}

	if _, err := io.WriteString(t.client, connectEstablished); err != nil {
		t.cfg.log.Debug("client_error", "ip", t.ip, "host", host, "error", err)
		t.close(closeClientClosed)
		return
	}
	if err := drainBuffer(origin, t.br); err != nil {
		t.cfg.log.Debug("connect_error", "host", host, "port", port, "error", err)
		t.close(closeOriginClosed)
		return
	}

	t.relay(origin)
}

func (t *tunnel) dial(ctx context.Context) (net.Conn, error) {
	if t.cfg.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.connectTimeout)
		defer cancel()
	}

	// Dialing can be interrupted by close.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	return t.cfg.dial(ctx, "tcp", net.JoinHostPort(t.host, strconv.Itoa(t.port)))
}

// establish moves the tunnel to the established state and arms the timer.
// It returns false if the tunnel was closed while dialing.
func (t *tunnel) establish(origin net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != tunnelDialing {
		return false
	}
	t.state = tunnelEstablished
	t.origin = origin
	if t.cfg.timeout > 0 {
		t.timer = time.AfterFunc(t.cfg.timeout, t.expire)
	}
	t.cfg.metrics.tunnelEstablished()
	return true
}

func (t *tunnel) transition(from, to tunnelState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != from {
		return false
	}
	t.state = to
	return true
}

func (t *tunnel) expire() {
	if t.State() == tunnelClosed {
		return
	}
	t.cfg.log.Info("tunnel_timeout", "side", "client", "ip", t.ip, "timeout", t.cfg.timeout)
	t.cfg.log.Info("tunnel_timeout", "side", "origin", "host", t.host, "port", t.port, "timeout", t.cfg.timeout)
	t.close(closeTunnelTimeout)
}

// relay copies data in both directions, the first direction to finish closes the tunnel.
func (t *tunnel) relay(origin net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	cc := []copier{
		{name: closeOriginClosed, dst: t.client, src: origin},
		{name: closeClientClosed, dst: origin, src: t.client},
	}
	for i := range cc {
		c := cc[i]
		go func() {
			defer wg.Done()
			if err := c.copy(); err != nil && !isClosedConnError(err) && t.State() != tunnelClosed {
				t.cfg.log.Debug("client_error", "ip", t.ip, "host", t.host, "direction", c.name, "error", err)
			}
			t.close(c.name)
		}()
	}
	wg.Wait()
}

// close moves the tunnel to the closed state from any state.
// Both sockets are closed and the timer is stopped, subsequent calls are no-ops.
func (t *tunnel) close(reason string) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		prev := t.state
		t.state = tunnelClosed
		t.reason = reason
		origin := t.origin
		if t.timer != nil {
			t.timer.Stop()
		}
		t.mu.Unlock()

		if err := t.client.Close(); err != nil && !isClosedConnError(err) {
			t.cfg.log.Debug("client_error", "ip", t.ip, "error", err)
		}
		if origin != nil {
			if err := origin.Close(); err != nil && !isClosedConnError(err) {
				t.cfg.log.Debug("connect_error", "host", t.host, "error", err)
			}
		}
		close(t.done)

		if prev == tunnelEstablished {
			args := []any{
				"ip", t.ip, "host", t.host, "port", t.port, "reason", reason,
				"client_rx", t.client.Observer().Rx(), "client_tx", t.client.Observer().Tx(),
			}
			if o := conntrack.ObserverFromConn(origin); o != nil {
				args = append(args, "origin_rx", o.Rx(), "origin_tx", o.Tx())
			}
			t.cfg.log.Info("tunnel_closed", args...)
		}
		t.cfg.metrics.tunnelClosed(prev, reason)

		if t.cfg.onClose != nil {
			t.cfg.onClose(t)
		}
	})
}

// Reason returns the reason the tunnel was closed, or an empty string if it is open.
func (t *tunnel) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

func (t *tunnel) writeAuthRequired() {
	res := authRequiredResponse(t.req, t.cfg.realm)
	defer res.Body.Close()
	res.Close = true
	if err := res.Write(t.client); err != nil {
		t.cfg.log.Debug("client_error", "ip", t.ip, "error", err)
	}
}

// parseConnectTarget splits host[:port], the port defaults to 443 if missing or invalid.
func parseConnectTarget(target string) (host string, port int) {
	h, p, err := net.SplitHostPort(target)
	if err != nil {
		return strings.Trim(target, "[]"), defaultConnectPort
	}
	port, err = strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		port = defaultConnectPort
	}
	return h, port
}

func drainBuffer(w io.Writer, r *bufio.Reader) error {
	if r == nil {
		return nil
	}
	if n := r.Buffered(); n > 0 {
		rbuf, err := r.Peek(n)
		if err != nil {
			return err
		}
		if _, err := w.Write(rbuf); err != nil {
			return err
		}
		r.Discard(n)
	}
	return nil
}

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 32*1024)
		return &b
	},
}

type copier struct {
	name string
	dst  io.Writer
	src  io.Reader
}

func (c copier) copy() error {
	bufp := copyBufPool.Get().(*[]byte) //nolint:forcetypeassert // It's *[]byte.
	defer copyBufPool.Put(bufp)

	_, err := io.CopyBuffer(c.dst, c.src, *bufp)
	return err
}
