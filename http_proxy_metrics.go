// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpProxyMetrics struct {
	errors         *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
	requests       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	tunnelsActive  prometheus.Gauge
	tunnels        *prometheus.CounterVec
}

func newHTTPProxyMetrics(r prometheus.Registerer, namespace string) *httpProxyMetrics {
	if r == nil {
		r = prometheus.NewRegistry() // This registry will be discarded.
	}
	f := promauto.With(r)

	return &httpProxyMetrics{
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "proxy_errors_total",
			Namespace: namespace,
			Help:      "Number of proxy errors",
		}, []string{"reason"}),
		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "auth_failures_total",
			Namespace: namespace,
			Help:      "Number of requests rejected due to missing or invalid proxy credentials",
		}, []string{"kind"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "http_requests_total",
			Namespace: namespace,
			Help:      "Number of forwarded plain HTTP requests",
		}, []string{"method", "code"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "cache_lookups_total",
			Namespace: namespace,
			Help:      "Number of response cache lookups",
		}, []string{"result"}),
		cacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Name:      "cache_evictions_total",
			Namespace: namespace,
			Help:      "Number of cache entries evicted to make room for new ones",
		}),
		tunnelsActive: f.NewGauge(prometheus.GaugeOpts{
			Name:      "tunnels_active",
			Namespace: namespace,
			Help:      "Number of established CONNECT tunnels",
		}),
		tunnels: f.NewCounterVec(prometheus.CounterOpts{
			Name:      "tunnels_total",
			Namespace: namespace,
			Help:      "Number of CONNECT tunnels by close reason",
		}, []string{"result"}),
	}
}

// registerCacheSize exposes the number of cache entries, fn is called on every scrape.
func registerCacheSize(r prometheus.Registerer, namespace string, fn func() float64) {
	if r == nil {
		return
	}
	promauto.With(r).NewGaugeFunc(prometheus.GaugeOpts{
		Name:      "cache_entries",
		Namespace: namespace,
		Help:      "Number of unexpired entries in the response cache",
	}, fn)
}

func (m *httpProxyMetrics) error(reason string) {
	m.errors.WithLabelValues(reason).Inc()
}

func (m *httpProxyMetrics) authFailure(kind string) {
	m.authFailures.WithLabelValues(kind).Inc()
}

func (m *httpProxyMetrics) request(method string, code int) {
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *httpProxyMetrics) cacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *httpProxyMetrics) cacheEviction() {
	m.cacheEvictions.Inc()
}

func (m *httpProxyMetrics) tunnelEstablished() {
	m.tunnelsActive.Inc()
}

func (m *httpProxyMetrics) tunnelClosed(prev tunnelState, reason string) {
	if prev == tunnelEstablished {
		m.tunnelsActive.Dec()
	}
	m.tunnels.WithLabelValues(reason).Inc()
}
