// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigFileTemplate(t *testing.T) {
	cmd := Command()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"run", "config-file", "--config-file", ""})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	out := stdout.String()
	for _, s := range []string{
		"# --- Server options ---",
		"#address: :30345",
		"# --- Cache options ---",
		"#cache-ttl: 5m0s",
		"# --- Logging options ---",
		"#log-level: info",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("missing %q in:\n%s", s, out)
		}
	}
	for _, s := range []string{"goleak", "config-file:"} {
		if strings.Contains(out, s) {
			t.Errorf("unexpected %q in:\n%s", s, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := Command()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"version", "--config-file", ""})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "Version:") {
		t.Fatalf("unexpected output: %s", stdout.String())
	}
}
