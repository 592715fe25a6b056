// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cobrautil

import (
	"fmt"
	"io"

	"github.com/saucelabs/gateproxy/utils/cobrautil/templates"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ConfigFileCommand returns a hidden command that prints a commented YAML config file
// with all the visible flags of fs set to their default values.
func ConfigFileCommand(g templates.FlagGroups, fs *pflag.FlagSet, configFileFlagName string) *cobra.Command {
	return &cobra.Command{
		Use:    "config-file",
		Short:  "Print config file template",
		Args:   cobra.NoArgs,
		Hidden: true,
		Run: func(cmd *cobra.Command, _ []string) {
			WriteConfigFile(cmd.OutOrStdout(), g, fs, configFileFlagName)
		},
	}
}

func WriteConfigFile(w io.Writer, g templates.FlagGroups, fs *pflag.FlagSet, configFileFlagName string) {
	p := templates.NewYamlFlagPrinter(w, 80)

	for i, fs := range g.SplitFlagSet(fs) {
		if !fs.HasAvailableFlags() {
			continue
		}

		header := true
		fs.VisitAll(func(flag *pflag.Flag) {
			if flag.Hidden {
				return
			}
			if flag.Name == configFileFlagName {
				return
			}

			if header {
				fmt.Fprintf(w, "# --- %s ---\n\n", g[i].Name)
				header = false
			}

			p.PrintHelpFlag(flag)
		})
	}
}
