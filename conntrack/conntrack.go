// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package conntrack wraps network connections to observe traffic and lifetime.
package conntrack

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// Observer allows to observe the number of bytes read and written from a connection.
type Observer struct {
	rx atomic.Uint64
	tx atomic.Uint64
}

// Rx returns the number of bytes read from the connection.
func (o *Observer) Rx() uint64 {
	return o.rx.Load()
}

// Tx returns the number of bytes written to the connection.
func (o *Observer) Tx() uint64 {
	return o.tx.Load()
}

// Conn is a net.Conn that counts traffic and runs a hook when closed.
type Conn struct {
	net.Conn
	o       Observer
	once    sync.Once
	onClose func()
}

func (c *Conn) Read(p []byte) (n int, err error) {
	n, err = c.Conn.Read(p)
	c.o.rx.Add(uint64(n)) //nolint:gosec // n is never negative.
	return
}

func (c *Conn) Write(p []byte) (n int, err error) {
	n, err = c.Conn.Write(p)
	c.o.tx.Add(uint64(n)) //nolint:gosec // n is never negative.
	return
}

// Close closes the underlying connection, OnClose is called at most once.
func (c *Conn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() {
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

type closeWriter interface {
	CloseWrite() error
}

// CloseWrite shuts down the writing side of the underlying connection if supported.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return errors.New("conntrack: connection does not support CloseWrite")
}

func (c *Conn) Observer() *Observer {
	return &c.o
}

type Builder struct {
	// OnClose is called after the underlying connection is closed and before the Close method returns.
	// OnClose is called at most once.
	OnClose func()
}

func (b Builder) Build(c net.Conn) *Conn {
	return &Conn{
		Conn:    c,
		onClose: b.OnClose,
	}
}

// ObserverFromConn returns the Observer of a connection created by Builder, or nil.
func ObserverFromConn(c net.Conn) *Observer {
	if tc, ok := c.(*Conn); ok {
		return tc.Observer()
	}
	return nil
}

// Tracker keeps a set of open connections so that they can be closed together.
type Tracker struct {
	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
}

func NewTracker() *Tracker {
	return &Tracker{
		conns: make(map[*Conn]struct{}),
	}
}

// Track wraps c and registers it until it is closed.
// Connections tracked after CloseAll are closed immediately.
func (t *Tracker) Track(c net.Conn) *Conn {
	var tc *Conn
	tc = Builder{OnClose: func() { t.remove(tc) }}.Build(c)

	t.mu.Lock()
	closed := t.closed
	if !closed {
		t.conns[tc] = struct{}{}
	}
	t.mu.Unlock()

	if closed {
		tc.Close()
	}

	return tc
}

func (t *Tracker) remove(c *Conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

// Len returns the number of open tracked connections.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// CloseAll closes all tracked connections, it is safe to call multiple times.
func (t *Tracker) CloseAll() error {
	t.mu.Lock()
	t.closed = true
	conns := make([]*Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var err error
	for _, c := range conns {
		if cerr := c.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}
