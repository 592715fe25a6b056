// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/saucelabs/gateproxy/log"
)

const (
	testUser = "user"
	testPass = "pass"
)

var testToken = base64.StdEncoding.EncodeToString([]byte(testUser + ":" + testPass))

type testProxy struct {
	*HTTPProxy
	reg *prometheus.Registry
}

func newTestProxy(t *testing.T, modify func(cfg *HTTPProxyConfig)) *testProxy {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg := DefaultHTTPProxyConfig()
	cfg.Addr = "localhost:0"
	cfg.PromRegistry = reg
	if modify != nil {
		modify(cfg)
	}

	p, err := NewHTTPProxy(cfg, NewStaticCredentialAuthority(testUser, testPass), nil, log.NopLogger)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("run: %v", err)
		}
		if err := p.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})

	return &testProxy{HTTPProxy: p, reg: reg}
}

func (p *testProxy) proxyURL(withAuth bool) *url.URL {
	u := &url.URL{Scheme: "http", Host: p.Addr()}
	if withAuth {
		u.User = url.UserPassword(testUser, testPass)
	}
	return u
}

func (p *testProxy) expect(t *testing.T, baseURL string, withAuth bool) *httpexpect.Expect {
	t.Helper()

	tr := &http.Transport{
		Proxy: http.ProxyURL(p.proxyURL(withAuth)),
	}
	t.Cleanup(tr.CloseIdleConnections)

	return httpexpect.WithConfig(httpexpect.Config{
		TestName: t.Name(),
		BaseURL:  baseURL,
		Reporter: httpexpect.NewAssertReporter(t),
		Client: &http.Client{
			Transport: tr,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	})
}

// countingOrigin counts requests that reached the handler.
type countingOrigin struct {
	*httptest.Server
	hits atomic.Int32
	last atomic.Pointer[http.Request]
}

func newOrigin(t *testing.T, h http.HandlerFunc) *countingOrigin {
	t.Helper()

	o := &countingOrigin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		o.last.Store(r)
		h(w, r)
	}))
	t.Cleanup(o.Close)

	return o
}

func TestHTTPProxyAuthRequired(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secret"))
	})
	p := newTestProxy(t, nil)

	t.Run("no credentials", func(t *testing.T) {
		p.expect(t, o.URL, false).GET("/").Expect().
			Status(http.StatusProxyAuthRequired).
			Header("Proxy-Authenticate").IsEqual(`Basic realm="Proxy"`)
	})

	t.Run("empty body", func(t *testing.T) {
		p.expect(t, o.URL, false).GET("/").Expect().
			Status(http.StatusProxyAuthRequired).
			Body().IsEmpty()
	})

	t.Run("wrong credentials", func(t *testing.T) {
		p.expect(t, o.URL, false).GET("/").
			WithHeader("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:wrong"))).
			Expect().
			Status(http.StatusProxyAuthRequired)
	})

	t.Run("lowercase scheme", func(t *testing.T) {
		p.expect(t, o.URL, false).GET("/").
			WithHeader("Proxy-Authorization", "basic "+testToken).
			Expect().
			Status(http.StatusProxyAuthRequired)
	})

	if n := o.hits.Load(); n != 0 {
		t.Fatalf("origin reached %d times", n)
	}
	if v := testutil.ToFloat64(p.metrics.authFailures.WithLabelValues("http")); v != 4 {
		t.Fatalf("auth failures = %v, want 4", v)
	}
}

func TestHTTPProxyForward(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "yes")
		w.Write([]byte("hello " + r.URL.RequestURI()))
	})
	p := newTestProxy(t, nil)

	p.expect(t, o.URL, true).GET("/path").WithQuery("q", "1").Expect().
		Status(http.StatusOK).
		Header("X-Origin").IsEqual("yes")

	r := o.last.Load()
	if r == nil {
		t.Fatal("origin not reached")
	}
	if want := o.Listener.Addr().String(); r.Host != want {
		t.Errorf("origin Host = %q, want %q", r.Host, want)
	}
	if v := r.Header.Get("Proxy-Authorization"); v != "" {
		t.Errorf("Proxy-Authorization forwarded to origin: %q", v)
	}
}

func TestHTTPProxyCacheHit(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Count", "first")
		w.Write([]byte("cached body"))
	})
	p := newTestProxy(t, nil)
	e := p.expect(t, o.URL, true)

	for i := 0; i < 3; i++ {
		res := e.GET("/resource").Expect().Status(http.StatusOK)
		res.Header("X-Count").IsEqual("first")
		res.Header("Content-Type").IsEqual("text/plain")
		res.Body().IsEqual("cached body")
	}

	if n := o.hits.Load(); n != 1 {
		t.Fatalf("origin reached %d times, want 1", n)
	}
	if n := p.CacheSize(); n != 1 {
		t.Fatalf("cache size = %d, want 1", n)
	}
	if v := testutil.ToFloat64(p.metrics.cacheLookups.WithLabelValues("hit")); v != 2 {
		t.Fatalf("cache hits = %v, want 2", v)
	}

	p.ClearCache()
	e.GET("/resource").Expect().Status(http.StatusOK)
	if n := o.hits.Load(); n != 2 {
		t.Fatalf("origin reached %d times after clear, want 2", n)
	}
}

func TestHTTPProxyNotCached(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		status  int
		control string
	}{
		{"no-store", http.MethodGet, http.StatusOK, "no-store"},
		{"no-cache", http.MethodGet, http.StatusOK, "max-age=0, no-cache"},
		{"not found", http.MethodGet, http.StatusNotFound, ""},
		{"post", http.MethodPost, http.StatusOK, ""},
		{"head", http.MethodHead, http.StatusOK, ""},
	}

	for i := range tests {
		tc := tests[i]
		t.Run(tc.name, func(t *testing.T) {
			o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.control != "" {
					w.Header().Set("Cache-Control", tc.control)
				}
				w.WriteHeader(tc.status)
				w.Write([]byte("body"))
			})
			p := newTestProxy(t, nil)
			e := p.expect(t, o.URL, true)

			for j := 0; j < 2; j++ {
				e.Request(tc.method, "/").Expect().Status(tc.status)
			}

			if n := o.hits.Load(); n != 2 {
				t.Fatalf("origin reached %d times, want 2", n)
			}
			if n := p.CacheSize(); n != 0 {
				t.Fatalf("cache size = %d, want 0", n)
			}
		})
	}
}

func TestHTTPProxyMissingHost(t *testing.T) {
	p := newTestProxy(t, nil)

	conn, err := net.Dial("tcp", p.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// HTTP/1.0 allows requests without Host.
	if _, err := io.WriteString(conn, "GET / HTTP/1.0\r\nProxy-Authorization: Basic "+testToken+"\r\n\r\n"); err != nil {
		t.Fatal(err)
	}

	res, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "Missing Host" {
		t.Fatalf("body = %q, want %q", b, "Missing Host")
	}
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestHTTPProxyBadGateway(t *testing.T) {
	p := newTestProxy(t, nil)

	p.expect(t, "http://"+closedAddr(t), true).GET("/").Expect().
		Status(http.StatusBadGateway).
		Body().IsEqual("Bad Gateway")

	if v := testutil.ToFloat64(p.metrics.errors.WithLabelValues("net_dial")); v != 1 {
		t.Fatalf("net_dial errors = %v, want 1", v)
	}
}

func TestHTTPProxyRequestTimeout(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	p := newTestProxy(t, func(cfg *HTTPProxyConfig) {
		cfg.RequestTimeout = 100 * time.Millisecond
	})

	start := time.Now()
	p.expect(t, o.URL, true).GET("/slow").Expect().
		Status(http.StatusBadGateway)
	if d := time.Since(start); d > 3*time.Second {
		t.Fatalf("request took %s", d)
	}
}

func TestHTTPProxyAbortAfterHeaders(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("partial"))
		http.NewResponseController(w).Flush()

		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			panic(err)
		}
		conn.Close()
	})
	p := newTestProxy(t, nil)

	tr := &http.Transport{Proxy: http.ProxyURL(p.proxyURL(true))}
	defer tr.CloseIdleConnections()

	for i := 0; i < 2; i++ {
		res, err := (&http.Client{Transport: tr}).Get(o.URL + "/partial")
		if err == nil {
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
			}
			_, err = io.ReadAll(res.Body)
			res.Body.Close()
		}
		if err == nil {
			t.Fatal("expected truncated response error")
		}
	}

	if n := p.CacheSize(); n != 0 {
		t.Fatalf("cache size = %d, want 0", n)
	}
	if n := o.hits.Load(); n != 2 {
		t.Fatalf("origin reached %d times, want 2", n)
	}
}

func TestHTTPProxyMaxEntrySize(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	})
	p := newTestProxy(t, func(cfg *HTTPProxyConfig) {
		cfg.Cache.MaxEntrySize = 32
	})
	e := p.expect(t, o.URL, true)

	for i := 0; i < 2; i++ {
		e.GET("/big").Expect().Status(http.StatusOK).Body().Length().IsEqual(64)
	}
	if n := o.hits.Load(); n != 2 {
		t.Fatalf("origin reached %d times, want 2", n)
	}
}

func TestHTTPProxyHealthCheck(t *testing.T) {
	o := newOrigin(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})
	p := newTestProxy(t, nil)

	ok, err := p.HealthCheck(context.Background(), o.URL+"/up")
	if err != nil || !ok {
		t.Fatalf("HealthCheck(up) = %v, %v", ok, err)
	}
	ok, err = p.HealthCheck(context.Background(), o.URL+"/down")
	if err != nil || ok {
		t.Fatalf("HealthCheck(down) = %v, %v", ok, err)
	}
	if _, err := p.HealthCheck(context.Background(), "http://"+closedAddr(t)); err == nil {
		t.Fatal("expected error for unreachable origin")
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		host, target, want string
	}{
		{"example.com", "/a?b=1", "http://example.com/a?b=1"},
		{"example.com", "http://example.com/a?b=1", "http://example.com/a?b=1"},
		{"example.com:8080", "http://example.com:8080", "http://example.com:8080/"},
		{"Example.com", "/Path", "http://Example.com/Path"},
	}

	for _, tc := range tests {
		u, err := url.ParseRequestURI(tc.target)
		if err != nil {
			t.Fatal(err)
		}
		if got := cacheKey(tc.host, u); got != tc.want {
			t.Errorf("cacheKey(%q, %q) = %q, want %q", tc.host, tc.target, got, tc.want)
		}
	}
}

func TestHTTPProxyConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*HTTPProxyConfig)
	}{
		{"no address", func(c *HTTPProxyConfig) { c.Addr = "" }},
		{"bad address", func(c *HTTPProxyConfig) { c.Addr = "localhost" }},
		{"negative max conns", func(c *HTTPProxyConfig) { c.MaxConns = -1 }},
		{"negative timeout", func(c *HTTPProxyConfig) { c.TunnelTimeout = -time.Second }},
		{"no realm", func(c *HTTPProxyConfig) { c.Realm = "" }},
	}

	if err := DefaultHTTPProxyConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	for i := range tests {
		tc := tests[i]
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultHTTPProxyConfig()
			tc.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
