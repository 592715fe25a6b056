// Copyright 2022-2026 Sauce Labs Inc., all rights reserved.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bind

import (
	"strings"

	"github.com/mmatczuk/anyflag"
	"github.com/saucelabs/gateproxy"
	"github.com/saucelabs/gateproxy/cache"
	"github.com/saucelabs/gateproxy/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func ConfigFile(fs *pflag.FlagSet, configFile *string) {
	fs.StringVarP(configFile,
		"config-file", "c", *configFile, "<path>"+
			"Configuration file to load options from. "+
			"The supported formats are: JSON, YAML and TOML. "+
			"The file format is determined by the file extension, if not specified the default format is YAML. "+
			"If the file does not exist or cannot be parsed, a notice is printed and the defaults are used. "+
			"The following precedence order of configuration sources is used: command flags, environment variables, config file, default values. ")
}

func HTTPProxyConfig(fs *pflag.FlagSet, cfg *gateproxy.HTTPProxyConfig) {
	HTTPServerConfig(fs, &cfg.HTTPServerConfig, "")

	fs.IntVar(&cfg.MaxConns,
		"max-conns", cfg.MaxConns,
		"Maximum number of concurrent client connections. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.RequestTimeout,
		"request-timeout", cfg.RequestTimeout,
		"The maximum amount of time to forward a single request and receive the response. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.ConnectTimeout,
		"connect-timeout", cfg.ConnectTimeout,
		"The maximum amount of time to establish a connection to the target of a CONNECT request. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.TunnelTimeout,
		"tunnel-timeout", cfg.TunnelTimeout,
		"The maximum lifetime of an established CONNECT tunnel. "+
			"Zero means no limit. ")

	fs.StringVar(&cfg.Realm,
		"realm", cfg.Realm, "<name>"+
			"Realm sent in the Proxy-Authenticate header. ")

	fs.StringVar(&cfg.PromNamespace,
		"prom-namespace", cfg.PromNamespace, "<name>"+
			"Prometheus namespace to use for metrics. ")
}

// Port binds the --port flag.
// A non-zero port replaces the port of the proxy address, see gateproxy.WithPort.
func Port(fs *pflag.FlagSet, port *int) {
	fs.IntVar(port,
		"port", *port, "<port>"+
			"Port to listen on, it overrides the port of the address. "+
			"The PORT environment variable is also honored. ")
}

func HTTPServerConfig(fs *pflag.FlagSet, cfg *gateproxy.HTTPServerConfig, prefix string) {
	namePrefix := prefix
	if namePrefix != "" {
		namePrefix += "-"
	}

	fs.StringVar(&cfg.Addr,
		namePrefix+"address", cfg.Addr, "<host:port>"+
			"The server address to listen on. "+
			"If the host is empty, the server will listen on all available interfaces. ")

	fs.DurationVar(&cfg.ReadHeaderTimeout,
		namePrefix+"read-header-timeout", cfg.ReadHeaderTimeout,
		"The amount of time allowed to read request headers. ")

	fs.DurationVar(&cfg.IdleTimeout,
		namePrefix+"idle-timeout", cfg.IdleTimeout,
		"The maximum amount of time to wait for the next request before closing a keep-alive connection. "+
			"Zero means no limit. ")
}

func APIServerConfig(fs *pflag.FlagSet, cfg *gateproxy.HTTPServerConfig) {
	fs.StringVar(&cfg.Addr,
		"api-address", cfg.Addr, "<host:port>"+
			"The server address to listen on for the API, metrics and health checks. "+
			"If empty, the API server is disabled. ")
}

func CredentialsConfig(fs *pflag.FlagSet, cfg *gateproxy.CredentialsConfig) {
	fs.BoolVar(&cfg.Persistent,
		"persistent-credentials", cfg.Persistent,
		"Load the proxy credentials from the credentials file if it exists, "+
			"and save newly generated credentials to it. ")

	fs.StringVar(&cfg.File,
		"credentials-file", cfg.File, "<path>"+
			"Path to the credentials file used with persistent credentials. ")

	fs.IntVar(&cfg.UserByteLength,
		"auth-user-bytes", cfg.UserByteLength,
		"Number of random bytes in the generated username, it is hex encoded. ")

	fs.IntVar(&cfg.PassByteLength,
		"auth-pass-bytes", cfg.PassByteLength,
		"Number of random bytes in the generated password, it is hex encoded. ")
}

func CacheConfig(fs *pflag.FlagSet, cfg *cache.Config) {
	fs.IntVar(&cfg.MaxSize,
		"cache-max-size", cfg.MaxSize,
		"Maximum number of responses kept in the cache. "+
			"The least recently used response is evicted when the cache is full. ")

	fs.DurationVar(&cfg.DefaultTTL,
		"cache-ttl", cfg.DefaultTTL,
		"Time to live of cached responses. ")

	fs.Int64Var(&cfg.MaxEntrySize,
		"cache-max-entry-size", cfg.MaxEntrySize, "<bytes>"+
			"Responses with a larger body are not cached. ")
}

func ConnectionPoolConfig(fs *pflag.FlagSet, cfg *gateproxy.ConnectionPoolConfig) {
	fs.IntVar(&cfg.MaxConnsPerHost,
		"pool-max-conns", cfg.MaxConnsPerHost,
		"Maximum number of upstream connections per host, including connections in use. "+
			"Zero means no limit. ")

	fs.IntVar(&cfg.MaxIdleConnsPerHost,
		"pool-max-idle-conns", cfg.MaxIdleConnsPerHost,
		"Maximum number of idle (keep-alive) upstream connections per host. ")

	fs.DurationVar(&cfg.IdleConnTimeout,
		"pool-idle-timeout", cfg.IdleConnTimeout,
		"The maximum amount of time an idle (keep-alive) connection will remain idle before closing itself. "+
			"Zero means no limit. ")

	fs.DurationVar(&cfg.KeepAlive,
		"pool-keep-alive", cfg.KeepAlive,
		"The interval between TCP keep-alive probes of upstream connections. ")

	fs.DurationVar(&cfg.DialTimeout,
		"http-dial-timeout", cfg.DialTimeout,
		"The maximum amount of time a dial will wait for a connect to complete. "+
			"With or without a timeout, the operating system may impose its own earlier timeout. For instance, TCP timeouts are often around 3 minutes. ")

	fs.DurationVar(&cfg.TLSHandshakeTimeout,
		"http-tls-handshake-timeout", cfg.TLSHandshakeTimeout,
		"The maximum amount of time waiting to wait for a TLS handshake. Zero means no limit. ")

	fs.BoolVar(&cfg.InsecureSkipVerify, "insecure", cfg.InsecureSkipVerify,
		"Don't verify the server's certificate chain and host name. "+
			"Enable to work with self-signed certificates. ")
}

func LogConfig(fs *pflag.FlagSet, cfg *log.Config) {
	fs.Var(NewFileFlag(&cfg.File, OpenFileParser(log.DefaultFileFlags, log.DefaultFileMode, log.DefaultDirMode)),
		"log-file", "<path>"+
			"Path to the log file, if empty, logs to stdout. "+
			"The file is reopened on SIGHUP to allow log rotation. ")

	logLevel := []log.Level{
		log.ErrorLevel,
		log.WarnLevel,
		log.InfoLevel,
		log.DebugLevel,
	}
	fs.Var(anyflag.NewValue[log.Level](cfg.Level, &cfg.Level, anyflag.EnumParser[log.Level](logLevel...)),
		"log-level", "<error|warn|info|debug>"+
			"Log level. ")

	logFormat := []log.Format{
		log.TextFormat,
		log.JSONFormat,
	}
	fs.Var(anyflag.NewValue[log.Format](cfg.Format, &cfg.Format, anyflag.EnumParser[log.Format](logFormat...)),
		"log-format", "<text|json>"+
			"Log format. ")
}

func Goleak(fs *pflag.FlagSet, enabled *bool) {
	fs.BoolVar(enabled, "goleak", *enabled, "Report goroutine leaks on exit.")
}

func MarkFlagHidden(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.Flags().MarkHidden(name); err != nil {
			panic(err)
		}
	}
}

func AutoMarkFlagFilename(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if strings.HasPrefix(f.Usage, "<path") ||
			strings.HasSuffix(f.Name, "-file") ||
			strings.HasSuffix(f.Name, "-dir") {
			MarkFlagFilename(cmd, f.Name)
		}
	})
}

func MarkFlagFilename(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagFilename(name); err != nil {
			panic(err)
		}
	}
}
