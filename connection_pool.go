// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/saucelabs/gateproxy/log"
)

// ErrPoolDestroyed is returned by ConnectionPool operations after Destroy.
var ErrPoolDestroyed = errors.New("connection pool destroyed")

type ConnectionPoolConfig struct {
	DialConfig

	// MaxConnsPerHost limits the total number of connections per host,
	// including connections in the dialing, active, and idle states.
	// On limit violation, requests wait for a free connection.
	// Zero means no limit.
	MaxConnsPerHost int

	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections to keep per-host.
	MaxIdleConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle
	// (keep-alive) connection will remain idle before closing itself.
	IdleConnTimeout time.Duration

	// ResponseHeaderTimeout, if non-zero, specifies the amount of
	// time to wait for a server's response headers after fully
	// writing the request. Zero means no timeout.
	ResponseHeaderTimeout time.Duration

	TLSHandshakeTimeout time.Duration

	// InsecureSkipVerify disables verification of origin TLS certificates.
	InsecureSkipVerify bool
}

func DefaultConnectionPoolConfig() *ConnectionPoolConfig {
	return &ConnectionPoolConfig{
		DialConfig:          *DefaultDialConfig(),
		MaxConnsPerHost:     100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func (c *ConnectionPoolConfig) Validate() error {
	if c.MaxConnsPerHost < 0 {
		return fmt.Errorf("max conns per host must be non-negative, got %d", c.MaxConnsPerHost)
	}
	if c.MaxIdleConnsPerHost < 0 {
		return fmt.Errorf("max idle conns per host must be non-negative, got %d", c.MaxIdleConnsPerHost)
	}
	if c.MaxConnsPerHost > 0 && c.MaxIdleConnsPerHost > c.MaxConnsPerHost {
		return fmt.Errorf("max idle conns per host (%d) exceeds max conns per host (%d)",
			c.MaxIdleConnsPerHost, c.MaxConnsPerHost)
	}
	return nil
}

// ConnectionPool holds reusable keep-alive connections to origin servers.
// There is one handle for plain and one for TLS origins, both share a dialer
// so that Destroy can close every live socket.
type ConnectionPool struct {
	config ConnectionPoolConfig
	dialer *Dialer
	http   *http.Transport
	https  *http.Transport
	log    log.StructuredLogger

	mu        sync.Mutex
	destroyed bool
}

func NewConnectionPool(cfg *ConnectionPoolConfig, log log.StructuredLogger) (*ConnectionPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := NewDialer(&cfg.DialConfig)
	p := &ConnectionPool{
		config: *cfg,
		dialer: d,
		log:    log,
	}
	p.http = p.newTransport(nil)
	p.https = p.newTransport(&tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicitly enabled by the user
	})
	p.https.ForceAttemptHTTP2 = true

	if cfg.InsecureSkipVerify {
		log.Warn("origin TLS certificate verification disabled")
	}

	return p, nil
}

func (p *ConnectionPool) newTransport(tlsCfg *tls.Config) *http.Transport {
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           p.dialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   p.config.TLSHandshakeTimeout,
		MaxConnsPerHost:       p.config.MaxConnsPerHost,
		MaxIdleConnsPerHost:   p.config.MaxIdleConnsPerHost,
		IdleConnTimeout:       p.config.IdleConnTimeout,
		ResponseHeaderTimeout: p.config.ResponseHeaderTimeout,
	}
}

// HTTP returns the handle used for plain HTTP origins.
func (p *ConnectionPool) HTTP() *http.Transport {
	return p.http
}

// HTTPS returns the handle used for TLS origins.
func (p *ConnectionPool) HTTPS() *http.Transport {
	return p.https
}

// RoundTrip sends the request using the handle matching the request URL scheme.
func (p *ConnectionPool) RoundTrip(req *http.Request) (*http.Response, error) {
	if p.isDestroyed() {
		return nil, ErrPoolDestroyed
	}

	switch req.URL.Scheme {
	case "http":
		return p.http.RoundTrip(req)
	case "https":
		return p.https.RoundTrip(req)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", req.URL.Scheme)
	}
}

// DialContext opens a raw connection, it is used for CONNECT tunnels.
// The connection is closed on Destroy.
func (p *ConnectionPool) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if p.isDestroyed() {
		return nil, ErrPoolDestroyed
	}
	return p.dialContext(ctx, network, addr)
}

func (p *ConnectionPool) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return p.dialer.DialContext(ctx, network, addr)
}

// OpenConns returns the number of open origin connections.
func (p *ConnectionPool) OpenConns() int {
	return p.dialer.Len()
}

// Destroy closes idle connections and force-closes active ones.
// It is safe to call Destroy multiple times.
func (p *ConnectionPool) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	p.mu.Unlock()

	p.http.CloseIdleConnections()
	p.https.CloseIdleConnections()

	return p.dialer.CloseAll()
}

func (p *ConnectionPool) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}
