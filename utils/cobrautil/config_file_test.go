// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cobrautil

import (
	"strings"
	"testing"
	"time"

	"github.com/saucelabs/gateproxy/utils/cobrautil/templates"
	"github.com/spf13/pflag"
)

func TestWriteConfigFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config-file", "config.json", "<path>Configuration file to load options from. ")
	fs.String("address", ":30345", "<host:port>The server address to listen on. ")
	fs.Duration("cache-ttl", 5*time.Minute, "Time to live of cached responses. ")
	fs.Bool("goleak", false, "")
	if err := fs.MarkHidden("goleak"); err != nil {
		t.Fatal(err)
	}

	g := templates.FlagGroups{
		{Name: "Server options", Prefix: []string{""}},
		{Name: "Cache options", Prefix: []string{"cache"}},
	}

	var b strings.Builder
	WriteConfigFile(&b, g, fs, "config-file")

	want := `# --- Server options ---

#
# <host:port> The server address to listen on.
#
#address: :30345

# --- Cache options ---

#
# <duration> Time to live of cached responses.
#
#cache-ttl: 5m0s

`
	if got := b.String(); got != want {
		t.Fatalf("unexpected output:\n%s", got)
	}
}
