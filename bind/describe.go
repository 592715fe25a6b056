// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bind

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

type DescribeFormat int

const (
	Plain DescribeFormat = iota
	JSON
)

// DescribeFlags returns the current flag values sorted by name.
// The help flag is never included.
func DescribeFlags(fs *pflag.FlagSet, showHidden bool, format DescribeFormat) (string, error) {
	type kv struct {
		name  string
		value string
		raw   bool
	}
	var vals []kv
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "help" || (f.Hidden && !showHidden) {
			return
		}
		v := f.Value.String()
		if strings.HasSuffix(f.Value.Type(), "Slice") {
			v = strings.Trim(v, "[]")
		}
		vals = append(vals, kv{f.Name, v, f.Value.Type() == "bool"})
	})

	switch format {
	case Plain:
		var b strings.Builder
		for _, v := range vals {
			fmt.Fprintf(&b, "%s=%s\n", v.name, v.value)
		}
		return b.String(), nil
	case JSON:
		var b strings.Builder
		b.WriteByte('{')
		for i, v := range vals {
			if i > 0 {
				b.WriteByte(',')
			}
			k, err := json.Marshal(v.name)
			if err != nil {
				return "", err
			}
			b.Write(k)
			b.WriteByte(':')
			if v.raw {
				b.WriteString(v.value)
			} else {
				s, err := json.Marshal(v.value)
				if err != nil {
					return "", err
				}
				b.Write(s)
			}
		}
		b.WriteByte('}')
		return b.String(), nil
	default:
		return "", fmt.Errorf("unknown format: %d", format)
	}
}
