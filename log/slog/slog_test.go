// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package slog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	flog "github.com/saucelabs/gateproxy/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	l := New(&flog.Config{Level: flog.InfoLevel, Format: flog.JSONFormat}, WithWriter(&buf))
	l.Named("proxy").Info("cache_hit", "url", "http://example.com/")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "cache_hit", rec["message"])
	assert.Equal(t, "INFO", rec["severity"])
	assert.Equal(t, "proxy", rec["name"])
	assert.Equal(t, "http://example.com/", rec["url"])
	assert.Contains(t, rec, "timestamp")
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&flog.Config{Level: flog.ErrorLevel, Format: flog.TextFormat}, WithWriter(&buf))
	l.Info("hidden")
	l.Debug("hidden")
	l.Error("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(out, "shown"))
}

func TestLoggerOnError(t *testing.T) {
	var names []string
	l := New(flog.DefaultConfig(), WithWriter(new(bytes.Buffer)), WithOnError(func(name string) {
		names = append(names, name)
	}))

	l.Named("api").Error("boom")
	l.Named("proxy").With("k", "v").Error("boom")
	l.Info("not an error")

	assert.Equal(t, []string{"api", "proxy"}, names)
}

func TestLoggerWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := New(flog.DefaultConfig(), WithWriter(&buf), WithAttributes("instance", "a"))
	l.Info("proxy_started")
	assert.Contains(t, buf.String(), "instance=a")
}
