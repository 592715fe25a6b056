// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateproxy

import (
	"github.com/saucelabs/gateproxy/bind"
	"github.com/saucelabs/gateproxy/command/run"
	"github.com/saucelabs/gateproxy/command/version"
	"github.com/saucelabs/gateproxy/utils/cobrautil"
	"github.com/saucelabs/gateproxy/utils/cobrautil/templates"
	"github.com/spf13/cobra"
)

const (
	EnvPrefix          = "GATEPROXY"
	ConfigFileFlagName = "config-file"

	// DefaultConfigFile is loaded from the working directory unless --config-file is set.
	DefaultConfigFile = "config.json"
)

// EnvAliases are environment variables honored in addition to the prefixed ones.
func EnvAliases() []cobrautil.EnvAlias {
	return []cobrautil.EnvAlias{
		{Flag: "port", Env: []string{"PORT"}},
	}
}

func FlagGroups() templates.FlagGroups {
	return templates.FlagGroups{
		{
			Name: "Server options",
			Prefix: []string{
				"",
				"port",
				"realm",
			},
		},
		{
			Name: "Timeout options",
			Prefix: []string{
				"request-timeout",
				"connect-timeout",
				"tunnel-timeout",
			},
		},
		{
			Name: "Credentials options",
			Prefix: []string{
				"persistent-credentials",
				"credentials",
				"auth",
			},
		},
		{
			Name:   "Cache options",
			Prefix: []string{"cache"},
		},
		{
			Name: "HTTP client options",
			Prefix: []string{
				"pool",
				"http",
				"insecure",
			},
		},
		{
			Name: "API server options",
			Prefix: []string{
				"api",
				"prom",
			},
		},
		{
			Name:   "Logging options",
			Prefix: []string{"log"},
		},
		{
			Name:   "Options",
			Prefix: []string{"config-file"},
		},
	}
}

func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gateproxy",
		Short:         "Authenticating HTTP proxy server with response caching and CONNECT tunnels",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cobrautil.BindAll(cmd, EnvPrefix, ConfigFileFlagName, EnvAliases()...)
		},
	}
	configFile := DefaultConfigFile
	bind.ConfigFile(cmd.PersistentFlags(), &configFile)

	r := run.Command()
	r.AddCommand(cobrautil.ConfigFileCommand(FlagGroups(), r.Flags(), ConfigFileFlagName))
	cmd.AddCommand(
		r,
		version.Command(),
	)

	cobrautil.DefaultLong(cmd)
	cobrautil.NoHelpSubcommand(cmd)

	return cmd
}
