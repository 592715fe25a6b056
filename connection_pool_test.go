// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/saucelabs/gateproxy/log"
)

func newTestPool(t *testing.T, cfg *ConnectionPoolConfig) *ConnectionPool {
	t.Helper()

	if cfg == nil {
		cfg = DefaultConnectionPoolConfig()
	}
	p, err := NewConnectionPool(cfg, log.NopLogger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Destroy() })
	return p
}

func TestConnectionPoolConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ConnectionPoolConfig)
		valid  bool
	}{
		{
			name:   "default",
			modify: func(*ConnectionPoolConfig) {},
			valid:  true,
		},
		{
			name:   "unlimited conns",
			modify: func(c *ConnectionPoolConfig) { c.MaxConnsPerHost = 0 },
			valid:  true,
		},
		{
			name:   "negative conns",
			modify: func(c *ConnectionPoolConfig) { c.MaxConnsPerHost = -1 },
		},
		{
			name:   "negative idle conns",
			modify: func(c *ConnectionPoolConfig) { c.MaxIdleConnsPerHost = -1 },
		},
		{
			name: "idle exceeds max",
			modify: func(c *ConnectionPoolConfig) {
				c.MaxConnsPerHost = 5
				c.MaxIdleConnsPerHost = 6
			},
		},
	}

	for i := range tests {
		tc := tests[i]
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConnectionPoolConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestConnectionPoolReuse(t *testing.T) {
	var remotes []string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remotes = append(remotes, r.RemoteAddr)
		w.Write([]byte("ok"))
	}))
	defer s.Close()

	p := newTestPool(t, nil)

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, s.URL, http.NoBody)
		if err != nil {
			t.Fatal(err)
		}
		res, err := p.RoundTrip(req)
		if err != nil {
			t.Fatal(err)
		}
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}

	if len(remotes) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(remotes))
	}
	for _, r := range remotes[1:] {
		if r != remotes[0] {
			t.Fatalf("expected connection reuse, got remote addresses %v", remotes)
		}
	}
}

func TestConnectionPoolDestroy(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer s.Close()

	p := newTestPool(t, nil)

	req, err := http.NewRequest(http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	raw, err := p.DialContext(context.Background(), "tcp", s.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	if n := p.OpenConns(); n != 2 {
		t.Fatalf("expected 2 open connections, got %d", n)
	}

	if err := p.Destroy(); err != nil {
		t.Fatal(err)
	}
	if err := p.Destroy(); err != nil {
		t.Fatalf("second destroy: %v", err)
	}

	if n := p.OpenConns(); n != 0 {
		t.Fatalf("expected no open connections, got %d", n)
	}
	if _, err := raw.Write([]byte("x")); err == nil {
		t.Fatal("expected write to destroyed connection to fail")
	}

	if _, err := p.RoundTrip(req); !errors.Is(err, ErrPoolDestroyed) {
		t.Fatalf("expected ErrPoolDestroyed, got %v", err)
	}
	if _, err := p.DialContext(context.Background(), "tcp", s.Listener.Addr().String()); !errors.Is(err, ErrPoolDestroyed) {
		t.Fatalf("expected ErrPoolDestroyed, got %v", err)
	}
}

func TestConnectionPoolUnsupportedScheme(t *testing.T) {
	p := newTestPool(t, nil)

	req, err := http.NewRequest(http.MethodGet, "ftp://example.com/", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.RoundTrip(req); err == nil {
		t.Fatal("expected error")
	}
}

func TestConnectionPoolTLS(t *testing.T) {
	s := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secure"))
	}))
	defer s.Close()

	req, err := http.NewRequest(http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("verify", func(t *testing.T) {
		p := newTestPool(t, nil)
		if _, err := p.RoundTrip(req); err == nil {
			t.Fatal("expected certificate verification error")
		}
	})

	t.Run("insecure", func(t *testing.T) {
		cfg := DefaultConnectionPoolConfig()
		cfg.InsecureSkipVerify = true
		p := newTestPool(t, cfg)

		res, err := p.RoundTrip(req)
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		b, err := io.ReadAll(res.Body)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "secure" {
			t.Fatalf("unexpected body %q", b)
		}
	})
}
