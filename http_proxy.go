// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/saucelabs/gateproxy/cache"
	"github.com/saucelabs/gateproxy/log"
	"golang.org/x/net/netutil"
)

type HTTPProxyConfig struct {
	HTTPServerConfig
	PromConfig

	// MaxConns limits the number of concurrent client connections, zero means no limit.
	MaxConns int

	// RequestTimeout bounds a forwarded request including the response body.
	RequestTimeout time.Duration

	// ConnectTimeout bounds dialing the origin of a CONNECT tunnel.
	ConnectTimeout time.Duration

	// TunnelTimeout is the maximum lifetime of an established tunnel regardless of traffic.
	TunnelTimeout time.Duration

	// Realm is sent in the Proxy-Authenticate challenge.
	Realm string

	Cache cache.Config
}

func DefaultHTTPProxyConfig() *HTTPProxyConfig {
	return &HTTPProxyConfig{
		HTTPServerConfig: HTTPServerConfig{
			Addr:              ":30345",
			ReadHeaderTimeout: 1 * time.Minute,
			IdleTimeout:       1 * time.Hour,
		},
		PromConfig: PromConfig{
			PromNamespace: "gateproxy",
		},
		RequestTimeout: 30 * time.Second,
		ConnectTimeout: 30 * time.Second,
		TunnelTimeout:  5 * time.Minute,
		Realm:          "Proxy",
		Cache:          *cache.DefaultConfig(),
	}
}

func (c *HTTPProxyConfig) Validate() error {
	if err := c.HTTPServerConfig.Validate(); err != nil {
		return err
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max conns must be non-negative, got %d", c.MaxConns)
	}
	if c.RequestTimeout < 0 || c.ConnectTimeout < 0 || c.TunnelTimeout < 0 {
		return errors.New("timeouts must be non-negative")
	}
	if c.Realm == "" {
		return errors.New("realm is required")
	}
	return nil
}

// HTTPProxy is a forward proxy gated by a single credential.
// Plain requests are forwarded through the connection pool and cached,
// CONNECT requests are relayed as opaque tunnels.
type HTTPProxy struct {
	config   HTTPProxyConfig
	auth     Authenticator
	pool     *ConnectionPool
	ownsPool bool
	cache    *cache.Cache
	proxy    *httputil.ReverseProxy
	log      log.StructuredLogger
	metrics  *httpProxyMetrics
	tunnel   tunnelConfig
	limit    int64

	srv      *http.Server
	listener net.Listener

	mu      sync.Mutex
	tunnels map[*tunnel]struct{}
	closed  bool
}

// NewHTTPProxy creates a new HTTP proxy listening on the configured address.
// If pool is nil, the proxy creates and owns a default connection pool.
// It is the caller's responsibility to call Close on the returned server.
func NewHTTPProxy(cfg *HTTPProxyConfig, auth Authenticator, pool *ConnectionPool, log log.StructuredLogger) (*HTTPProxy, error) {
	hp, err := newHTTPProxy(cfg, auth, pool, log)
	if err != nil {
		return nil, err
	}

	l, err := hp.listen()
	if err != nil {
		hp.Close()
		return nil, err
	}
	hp.listener = l

	hp.log.Info("proxy_started", "address", l.Addr().String())

	return hp, nil
}

func newHTTPProxy(cfg *HTTPProxyConfig, auth Authenticator, pool *ConnectionPool, log log.StructuredLogger) (*HTTPProxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}

	hp := &HTTPProxy{
		config:  *cfg,
		auth:    auth,
		pool:    pool,
		log:     log,
		metrics: newHTTPProxyMetrics(cfg.PromRegistry, cfg.PromNamespace),
		tunnels: make(map[*tunnel]struct{}),
	}

	if hp.pool == nil {
		log.Info("connection pool not configured, using defaults")
		p, err := NewConnectionPool(DefaultConnectionPoolConfig(), log)
		if err != nil {
			return nil, err
		}
		hp.pool = p
		hp.ownsPool = true
	}

	cc := cfg.Cache
	cc.OnEvict = func(e *cache.Entry) {
		hp.metrics.cacheEviction()
		if cfg.Cache.OnEvict != nil {
			cfg.Cache.OnEvict(e)
		}
	}
	hp.cache = cache.New(&cc)
	registerCacheSize(cfg.PromRegistry, cfg.PromNamespace, func() float64 {
		return float64(hp.cache.Len())
	})
	hp.limit = cc.MaxEntrySize
	if hp.limit <= 0 {
		hp.limit = cache.DefaultMaxEntrySize
	}

	hp.proxy = &httputil.ReverseProxy{
		Rewrite:        hp.rewrite,
		Transport:      hp.pool,
		ModifyResponse: hp.modifyResponse,
		ErrorHandler:   hp.errorHandler,
		ErrorLog:       stdErrorLog(log),
		// Stream every chunk to the client as soon as it is read from the origin.
		FlushInterval: -1,
	}

	hp.tunnel = tunnelConfig{
		realm:          cfg.Realm,
		auth:           auth,
		dial:           hp.pool.DialContext,
		connectTimeout: cfg.ConnectTimeout,
		timeout:        cfg.TunnelTimeout,
		log:            log,
		metrics:        hp.metrics,
		onClose:        hp.removeTunnel,
	}

	hp.srv = hp.config.server(hp, log)
	// Tunnel and request timeouts are enforced by the proxy.
	hp.srv.ReadTimeout = 0
	hp.srv.WriteTimeout = 0

	return hp, nil
}

func (hp *HTTPProxy) listen() (net.Listener, error) {
	l, err := net.Listen("tcp", hp.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open listener on address %s: %w", hp.config.Addr, err)
	}
	l = &meteredListener{Listener: l, metrics: newListenerMetrics(hp.config.PromRegistry, hp.config.PromNamespace)}
	if hp.config.MaxConns > 0 {
		l = netutil.LimitListener(l, hp.config.MaxConns)
	}
	return l, nil
}

// Handler returns the proxy request handler.
func (hp *HTTPProxy) Handler() http.Handler {
	return hp
}

func (hp *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		hp.serveConnect(w, r)
		return
	}
	hp.servePlain(w, r)
}

func (hp *HTTPProxy) servePlain(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r.RemoteAddr)

	if !hp.auth.Authenticate(r.Header) {
		hp.log.Info("auth_fail_http", "ip", ip, "method", r.Method, "url", r.URL.String())
		hp.metrics.authFailure("http")
		hp.write(w, authRequiredResponse(r, hp.config.Realm))
		return
	}

	host := r.Host
	if host == "" {
		hp.log.Info("bad_request", "reason", "missing_host", "ip", ip)
		hp.metrics.error("missing_host")
		hp.write(w, textResponse(r, http.StatusBadRequest, "Missing Host"))
		return
	}

	key := cacheKey(host, r.URL)
	if cache.IsLookupMethod(r.Method) {
		e, ok := hp.cache.Lookup(r.Method, key)
		hp.metrics.cacheLookup(ok)
		if ok {
			hp.log.Info("cache_hit", "url", key)
			replay(w, r, e)
			hp.metrics.request(r.Method, e.StatusCode)
			return
		}
	}

	hp.log.Info("http_request", "ip", ip, "method", r.Method, "host", host, "url", r.URL.RequestURI())

	ctx := r.Context()
	if hp.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hp.config.RequestTimeout)
		defer cancel()
	}

	c := newResponseCapture(w, r.Method, hp.limit)
	defer func() {
		if res := c.finalize(); res != nil {
			hp.cache.Store(r.Method, key, res.Body, res.Header, res.StatusCode)
		}
		if code := c.StatusCode(); code != 0 {
			hp.metrics.request(r.Method, code)
		}
	}()

	hp.proxy.ServeHTTP(c, r.WithContext(withCapture(ctx, c)))
}

// cacheKey is the target URL of a plain request, absolute-form targets are reduced to path and query.
func cacheKey(host string, u *url.URL) string {
	return "http://" + host + u.RequestURI()
}

func (hp *HTTPProxy) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL.Scheme = "http"
	pr.Out.URL.Host = pr.In.Host
	pr.Out.Host = ""
}

func (hp *HTTPProxy) modifyResponse(res *http.Response) error {
	if c := captureFromContext(res.Request.Context()); c != nil {
		res.Body = c.wrapBody(res.Body)
	}
	return nil
}

func (hp *HTTPProxy) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(r.Context().Err(), context.Canceled) {
		hp.log.Debug("client_error", "ip", remoteIP(r.RemoteAddr), "url", r.URL.String(), "error", err)
		hp.metrics.error("client_closed")
		return
	}

	hp.log.Error("proxy_error", "url", r.URL.String(), "error", err)

	if c, ok := w.(*responseCapture); ok && c.WroteHeader() {
		hp.metrics.error("aborted")
		panic(http.ErrAbortHandler)
	}
	hp.write(w, hp.errorResponse(r, err))
}

func (hp *HTTPProxy) write(w http.ResponseWriter, resp *http.Response) {
	if err := writeResponse(w, resp); err != nil && !isClosedConnError(err) {
		hp.log.Debug("client_error", "error", err)
	}
}

func replay(w http.ResponseWriter, r *http.Request, e *cache.Entry) {
	h := w.Header()
	for k, v := range e.Header {
		h[k] = slices.Clone(v)
	}
	w.WriteHeader(e.StatusCode)
	if r.Method != http.MethodHead {
		w.Write(e.Body)
	}
}

func (hp *HTTPProxy) serveConnect(w http.ResponseWriter, r *http.Request) {
	conn, brw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		hp.log.Error("client_error", "ip", remoteIP(r.RemoteAddr), "error", fmt.Errorf("hijack: %w", err))
		hp.metrics.error("hijack")
		return
	}

	t := newTunnel(&hp.tunnel, r, conn, brw.Reader)
	if !hp.addTunnel(t) {
		t.close(closeProxyClosed)
		return
	}
	t.run(r.Context())
}

func (hp *HTTPProxy) addTunnel(t *tunnel) bool {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if hp.closed {
		return false
	}
	hp.tunnels[t] = struct{}{}
	return true
}

func (hp *HTTPProxy) removeTunnel(t *tunnel) {
	hp.mu.Lock()
	delete(hp.tunnels, t)
	hp.mu.Unlock()
}

func (hp *HTTPProxy) closeTunnels() {
	hp.mu.Lock()
	hp.closed = true
	tunnels := make([]*tunnel, 0, len(hp.tunnels))
	for t := range hp.tunnels {
		tunnels = append(tunnels, t)
	}
	hp.mu.Unlock()

	for _, t := range tunnels {
		t.close(closeProxyClosed)
	}
}

// ActiveTunnels returns the number of tunnels that are not closed.
func (hp *HTTPProxy) ActiveTunnels() int {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return len(hp.tunnels)
}

func (hp *HTTPProxy) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		<-ctx.Done()
		hp.closeTunnels()
		if err := hp.srv.Shutdown(context.Background()); err != nil {
			hp.log.Error("failed to shutdown server", "error", err)
		}
	}()

	if err := hp.srv.Serve(hp.listener); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}

	wg.Wait()
	return nil
}

// Addr returns the address the server is listening on.
func (hp *HTTPProxy) Addr() string {
	if hp.listener == nil {
		return ""
	}
	return hp.listener.Addr().String()
}

// ClearCache removes all cached responses.
func (hp *HTTPProxy) ClearCache() {
	hp.cache.Clear()
}

// CacheSize returns the number of unexpired cached responses.
func (hp *HTTPProxy) CacheSize() int {
	return hp.cache.Len()
}

// CacheStats returns cache counters.
func (hp *HTTPProxy) CacheStats() cache.Stats {
	return hp.cache.Stats()
}

// HealthCheck sends a HEAD request to u through the connection pool
// and reports whether the origin answered with a 2xx status.
func (hp *HTTPProxy) HealthCheck(ctx context.Context, u string) (bool, error) {
	if hp.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hp.config.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, http.NoBody)
	if err != nil {
		return false, err
	}
	res, err := hp.pool.RoundTrip(req)
	if err != nil {
		return false, err
	}
	res.Body.Close()

	return res.StatusCode >= 200 && res.StatusCode < 300, nil
}

// Close stops accepting connections, closes active tunnels and client connections,
// destroys the connection pool if it is owned by the proxy and clears the cache.
func (hp *HTTPProxy) Close() error {
	hp.closeTunnels()

	var err error
	if hp.srv != nil {
		err = hp.srv.Close()
	}
	if hp.listener != nil {
		if lerr := hp.listener.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) && err == nil {
			err = lerr
		}
	}
	if hp.ownsPool {
		if perr := hp.pool.Destroy(); perr != nil && err == nil {
			err = perr
		}
	}
	hp.cache.Clear()

	return err
}

type captureKey struct{}

func withCapture(ctx context.Context, c *responseCapture) context.Context {
	return context.WithValue(ctx, captureKey{}, c)
}

func captureFromContext(ctx context.Context) *responseCapture {
	c, _ := ctx.Value(captureKey{}).(*responseCapture)
	return c
}
