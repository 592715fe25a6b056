// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"testing"

	"go.uber.org/goleak"
)

// Tunnels, pooled connections and servers must be released by the end of every test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
