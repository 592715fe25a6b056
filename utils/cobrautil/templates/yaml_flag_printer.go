// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package templates

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/pflag"
)

// YamlFlagPrinter prints flags as commented YAML key-value pairs.
type YamlFlagPrinter struct {
	out       io.Writer
	wrapLimit uint
}

func NewYamlFlagPrinter(out io.Writer, wrapLimit uint) *YamlFlagPrinter {
	return &YamlFlagPrinter{
		out:       out,
		wrapLimit: wrapLimit,
	}
}

func (p *YamlFlagPrinter) PrintHelpFlag(f *pflag.Flag) {
	formatBuf := new(bytes.Buffer)
	writeYamlFlag(formatBuf, f)

	wrappedStr := formatBuf.String()
	flagAndUsage := strings.Split(formatBuf.String(), "\n")

	// if the flag usage is longer than one line, wrap it again
	if len(flagAndUsage) > 1 {
		nextLines := strings.Join(flagAndUsage[:len(flagAndUsage)-1], " ")
		wrappedUsages := wordwrap.WrapString(nextLines, p.wrapLimit-2)
		wrappedUsages = "#\n# " + strings.ReplaceAll(wrappedUsages, "\n", "\n# ")
		wrappedStr = wrappedUsages + "\n#\n#" + flagAndUsage[len(flagAndUsage)-1]
	}
	fmt.Fprint(p.out, wrappedStr)
	fmt.Fprint(p.out, "\n\n")
}

func writeYamlFlag(out io.Writer, f *pflag.Flag) {
	name, usage := flagNameAndUsage(f)

	def := f.DefValue
	if def == "[]" {
		def = ""
	}
	if def != "" {
		def = " " + def
	}

	fmt.Fprintf(out, "%s%s\n%s:%s", name, usage, f.Name, def)
}

// flagNameAndUsage splits the usage string into the value placeholder and the description.
// A placeholder is a leading <...> or [...] group followed by an upper case letter.
func flagNameAndUsage(f *pflag.Flag) (string, string) {
	name, usage := pflag.UnquoteUsage(f)

	if vt := findValueType(usage); vt > 0 {
		name = usage[:vt]
		usage = usage[vt:]
	} else {
		if name == "" || name == "string" {
			name = "value"
		}
		name = fmt.Sprintf("<%s>", name)
	}

	return name + " ", strings.TrimSpace(usage)
}

func findValueType(usage string) int {
	runes := []rune(usage)
	if len(runes) == 0 {
		return 0
	}

	var (
		a, b  rune
		stack int
	)
	update := func(r rune) {
		switch r {
		case '<':
			a, b = '<', '>'
			stack = 1
		case '[':
			a, b = '[', ']'
			stack = 1
		}
	}
	update(runes[0])

	if stack == 0 {
		return 0
	}

	for i := 1; i < len(runes); i++ {
		if stack == 0 {
			if unicode.IsUpper(runes[i]) {
				return len(string(runes[:i]))
			}
			update(runes[i])
		} else {
			switch runes[i] {
			case a:
				stack++
			case b:
				stack--
			}
		}
	}

	if stack > 0 {
		panic("unbalanced brackets in usage string")
	}

	return len(usage)
}
