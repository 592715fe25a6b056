// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/saucelabs/gateproxy/cache"
)

// capturedResponse is a complete response observed by responseCapture.
type capturedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// responseCapture is a pass-through http.ResponseWriter that records the response for caching.
// Every chunk goes to the client first, only bytes the client accepted are accumulated.
// The status code and headers are recorded once, when the final header is written.
type responseCapture struct {
	w      http.ResponseWriter
	method string
	limit  int64

	status      int
	header      http.Header
	wroteHeader bool
	buf         bytes.Buffer

	// skip is set when the response can never be stored, accumulation stops.
	skip     bool
	writeErr error
	upstream bool // upstream body reached EOF

	mu        sync.Mutex
	finalized bool
}

func newResponseCapture(w http.ResponseWriter, method string, limit int64) *responseCapture {
	return &responseCapture{
		w:      w,
		method: method,
		limit:  limit,
	}
}

func (c *responseCapture) Header() http.Header {
	return c.w.Header()
}

func (c *responseCapture) WriteHeader(code int) {
	if c.wroteHeader {
		return
	}

	// Informational responses are passed through, the final response follows.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		c.w.WriteHeader(code)
		return
	}

	c.wroteHeader = true
	c.status = code
	c.header = c.w.Header().Clone()
	if code == http.StatusSwitchingProtocols || !cache.IsCacheable(c.method, code, c.header) {
		c.skip = true
	}

	c.w.WriteHeader(code)
}

func (c *responseCapture) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}

	n, err := c.w.Write(p)
	if err != nil && c.writeErr == nil {
		c.writeErr = err
	}

	if !c.skip && n > 0 {
		if int64(c.buf.Len()+n) > c.limit {
			c.skip = true
			c.buf = bytes.Buffer{}
		} else {
			c.buf.Write(p[:n])
		}
	}

	return n, err
}

// Unwrap allows http.ResponseController to reach the underlying writer for Flush and Hijack.
func (c *responseCapture) Unwrap() http.ResponseWriter {
	return c.w
}

// StatusCode returns the status code written so far, or 0.
func (c *responseCapture) StatusCode() int {
	return c.status
}

func (c *responseCapture) WroteHeader() bool {
	return c.wroteHeader
}

// wrapBody marks the capture complete when body is read to EOF.
func (c *responseCapture) wrapBody(body io.ReadCloser) io.ReadCloser {
	return &eofReadCloser{ReadCloser: body, onEOF: func() { c.upstream = true }}
}

// finalize ends the capture and returns the captured response if it can be stored.
// Only the first call has effect, it returns nil if the response was not cacheable,
// was incomplete, or the client did not receive all of it.
func (c *responseCapture) finalize() *capturedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized {
		return nil
	}
	c.finalized = true

	if !c.wroteHeader || c.skip || c.writeErr != nil || !c.upstream {
		c.buf = bytes.Buffer{}
		return nil
	}

	return &capturedResponse{
		StatusCode: c.status,
		Header:     c.header,
		Body:       bytes.Clone(c.buf.Bytes()),
	}
}

type eofReadCloser struct {
	io.ReadCloser
	once  sync.Once
	onEOF func()
}

func (r *eofReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if errors.Is(err, io.EOF) {
		r.once.Do(r.onEOF)
	}
	return n, err
}
