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
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/martian/v3/proxyutil"
)

// ErrorHeader is the header that is set on error responses with the error message.
const ErrorHeader = "X-Gateproxy-Error"

var (
	ErrProxyAuthentication = errors.New("proxy authentication required")
	ErrMissingHost         = errors.New("missing host")
)

// errorResponse maps an upstream failure to a response.
// Every upstream failure results in 502, the error kind only selects the metric label.
func (hp *HTTPProxy) errorResponse(req *http.Request, err error) *http.Response {
	label := errorLabel(err)
	hp.metrics.error(label)

	resp := textResponse(req, http.StatusBadGateway, "Bad Gateway")
	resp.Header.Set(ErrorHeader, err.Error())
	return resp
}

func errorLabel(err error) string {
	var (
		netErr  *net.OpError
		recErr  tls.RecordHeaderError
		certErr *tls.CertificateVerificationError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrPoolDestroyed):
		return "pool_destroyed"
	case errors.As(err, &recErr):
		return "tls_record_header"
	case errors.As(err, &certErr):
		return "tls_certificate"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return "timeout"
		}
		return "net_" + netErr.Op
	default:
		return "upstream_error"
	}
}

func authRequiredResponse(req *http.Request, realm string) *http.Response {
	resp := proxyutil.NewResponse(http.StatusProxyAuthRequired, nil, req)
	resp.Header.Set("Proxy-Authenticate", `Basic realm="`+realm+`"`)
	resp.ContentLength = 0
	return resp
}

func textResponse(req *http.Request, code int, msg string) *http.Response {
	body := strings.NewReader(msg)
	resp := proxyutil.NewResponse(code, body, req)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.ContentLength = int64(body.Len())
	return resp
}

// writeResponse writes resp to a handler response writer.
func writeResponse(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()

	h := w.Header()
	for k, v := range resp.Header {
		h[k] = v
	}
	w.WriteHeader(resp.StatusCode)

	_, err := io.Copy(w, resp.Body)
	return err
}
