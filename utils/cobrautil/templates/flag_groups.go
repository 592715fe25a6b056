// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package templates

import (
	"strings"

	"github.com/spf13/pflag"
)

type FlagGroup struct {
	Name   string
	Prefix []string
}

type FlagGroups []FlagGroup

// SplitFlagSet splits a flag set into multiple flag sets based on the prefix of the flag names.
// A flag is added to the group with the longest matching prefix,
// on a tie the first group wins.
// The returned flag sets are ordered by the order of the groups.
// Flags that match no group are dropped.
func (g FlagGroups) SplitFlagSet(fs *pflag.FlagSet) []*pflag.FlagSet {
	result := make([]*pflag.FlagSet, len(g))
	for i := range g {
		result[i] = pflag.NewFlagSet(g[i].Name, pflag.ContinueOnError)
	}

	fs.VisitAll(func(f *pflag.Flag) {
		best, bestLen := -1, -1
		for i := range g {
			for _, p := range g[i].Prefix {
				if strings.HasPrefix(f.Name, p) && len(p) > bestLen {
					best, bestLen = i, len(p)
				}
			}
		}
		if best >= 0 {
			result[best].AddFlag(f)
		}
	})
	return result
}
