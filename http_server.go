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
	stdlog "log"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/saucelabs/gateproxy/log"
)

type HTTPServerConfig struct {
	Addr string

	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body. A zero or negative value means
	// there will be no timeout.
	ReadTimeout time.Duration

	// ReadHeaderTimeout is the amount of time allowed to read
	// request headers.
	ReadHeaderTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out
	// writes of the response.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled.
	IdleTimeout time.Duration
}

func DefaultHTTPServerConfig() *HTTPServerConfig {
	return &HTTPServerConfig{
		Addr:              "localhost:10000",
		ReadHeaderTimeout: 1 * time.Minute,
		IdleTimeout:       1 * time.Hour,
	}
}

func (c *HTTPServerConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("address is required")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("address %q: %w", c.Addr, err)
	}
	if c.ReadTimeout < 0 || c.ReadHeaderTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return errors.New("timeouts must be non-negative")
	}
	return nil
}

func (c *HTTPServerConfig) server(h http.Handler, log log.StructuredLogger) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       c.IdleTimeout,
		ErrorLog:          stdErrorLog(log),
	}
}

// HTTPServer serves the API handler.
type HTTPServer struct {
	config   HTTPServerConfig
	log      log.StructuredLogger
	srv      *http.Server
	listener net.Listener
}

// NewHTTPServer creates a server listening on the configured address.
// It is the caller's responsibility to call Close on the returned server.
func NewHTTPServer(cfg *HTTPServerConfig, h http.Handler, log log.StructuredLogger) (*HTTPServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open listener on address %s: %w", cfg.Addr, err)
	}

	hs := &HTTPServer{
		config:   *cfg,
		log:      log,
		srv:      cfg.server(h, log),
		listener: l,
	}
	hs.log.Info("HTTP server listen", "address", l.Addr().String())

	return hs, nil
}

func (hs *HTTPServer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)

	// handle http shutdown on server context done
	go func() {
		defer wg.Done()

		<-ctx.Done()
		if err := hs.srv.Shutdown(context.Background()); err != nil {
			hs.log.Error("failed to shutdown server", "error", err)
		}
	}()

	if err := hs.srv.Serve(hs.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	hs.log.Debug("server was shutdown gracefully")

	wg.Wait()

	return nil
}

// Addr returns the address the server is listening on.
func (hs *HTTPServer) Addr() string {
	return hs.listener.Addr().String()
}

func (hs *HTTPServer) Close() error {
	if err := hs.srv.Close(); err != nil {
		return err
	}
	if err := hs.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// stdErrorLog returns a standard library logger for net/http internals, or nil to use the default one.
func stdErrorLog(l log.StructuredLogger) *stdlog.Logger {
	if h, ok := l.(interface{ Handler() slog.Handler }); ok {
		return slog.NewLogLogger(h.Handler(), slog.LevelError)
	}
	return nil
}
