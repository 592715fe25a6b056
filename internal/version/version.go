// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package version holds build information set with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Version = "devel"
	Time    = "unknown"
	Commit  = "unknown"
)

// String returns build information in a tabular form.
func String() string {
	var b strings.Builder

	fmt.Fprintln(&b, "Version:\t", Version)
	fmt.Fprintln(&b, "Built time:\t", Time)
	fmt.Fprintln(&b, "Git commit:\t", Commit)

	fmt.Fprintln(&b, "Go Arch:\t", runtime.GOARCH)
	fmt.Fprintln(&b, "Go OS:\t\t", runtime.GOOS)
	fmt.Fprintln(&b, "Go Version:\t", runtime.Version())

	return b.String()
}
