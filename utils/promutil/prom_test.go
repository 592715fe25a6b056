// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package promutil

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

func TestDumpPrometheusMetrics(t *testing.T) {
	r := prometheus.NewRegistry()
	f := promauto.With(r)

	f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateproxy",
		Name:      "tunnels_total",
		Help:      "Number of CONNECT tunnels by close reason",
	}, []string{"result"}).WithLabelValues("tunnel_timeout").Add(2)
	f.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateproxy",
		Name:      "cache_entries",
		Help:      "Number of unexpired entries in the response cache",
	}).Set(3)

	counters := func(mf *dto.MetricFamily) bool {
		return mf.GetType() == dto.MetricType_COUNTER
	}

	got, err := DumpPrometheusMetrics(r, counters)
	if err != nil {
		t.Fatal(err)
	}
	want := `# HELP gateproxy_tunnels_total Number of CONNECT tunnels by close reason
# TYPE gateproxy_tunnels_total counter
gateproxy_tunnels_total{result="tunnel_timeout"} 2
`
	if got != want {
		t.Fatalf("unexpected dump:\n%s", got)
	}

	all, err := DumpPrometheusMetrics(r)
	if err != nil {
		t.Fatal(err)
	}
	g, err := ParseMetricFamilies(strings.NewReader(all))
	if err != nil {
		t.Fatal(err)
	}
	mfs, _ := g.Gather()
	if len(mfs) != 2 {
		t.Fatalf("got %d metric families, want 2", len(mfs))
	}
}
