// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"context"
	"net"
	"time"

	"github.com/saucelabs/gateproxy/conntrack"
)

type DialConfig struct {
	// DialTimeout is the maximum amount of time a dial will wait for
	// connect to complete.
	//
	// With or without a timeout, the operating system may impose
	// its own earlier timeout. For instance, TCP timeouts are
	// often around 3 minutes.
	DialTimeout time.Duration

	// KeepAlive specifies the interval between keep-alive probes for an active network connection.
	// If negative, keep-alive probes are disabled.
	KeepAlive time.Duration
}

func DefaultDialConfig() *DialConfig {
	return &DialConfig{
		DialTimeout: 10 * time.Second,
		KeepAlive:   1 * time.Second,
	}
}

// Dialer dials TCP connections and tracks them until they are closed.
type Dialer struct {
	nd      net.Dialer
	tracker *conntrack.Tracker
}

func NewDialer(cfg *DialConfig) *Dialer {
	return &Dialer{
		nd: net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
			Resolver: &net.Resolver{
				PreferGo: true,
			},
		},
		tracker: conntrack.NewTracker(),
	}
}

func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	c, err := d.nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return d.tracker.Track(c), nil
}

// Len returns the number of open connections created by the dialer.
func (d *Dialer) Len() int {
	return d.tracker.Len()
}

// CloseAll closes all open connections created by the dialer.
// Connections dialed afterwards are closed immediately.
func (d *Dialer) CloseAll() error {
	return d.tracker.CloseAll()
}
