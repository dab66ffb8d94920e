// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ava-labs/emulatorvm/emulatorvm"
)

const (
	envPrefix = "EMULATORVM"

	versionKey           = "version"
	configFileKey        = "config-file"
	httpHostKey          = "http-host"
	httpPortKey          = "http-port"
	logLevelKey          = "log-level"
	logFormatKey         = "log-format"
	maxSnapshotsKey      = "max-snapshots"
	requestTimeoutKey    = "request-timeout"
	readHeaderTimeoutKey = "read-header-timeout"
)

func buildFlagSet() *flag.FlagSet {
	defaults := emulatorvm.DefaultConfig()
	fs := flag.NewFlagSet("emulatorvm", flag.ContinueOnError)

	fs.Bool(versionKey, false, "If true, prints the version and quits")
	fs.String(configFileKey, "", "Path to a config file (json, yaml or toml)")
	fs.String(httpHostKey, "127.0.0.1", "Address of the HTTP server")
	fs.Uint(httpPortKey, 9650, "Port of the HTTP server")
	fs.String(logLevelKey, "info", "Log level: crit, error, warn, info, debug")
	fs.String(logFormatKey, "terminal", "Log format: terminal or json")
	fs.Int(maxSnapshotsKey, defaults.MaxSnapshots, "Snapshots kept per session")
	fs.Duration(requestTimeoutKey, defaults.RequestTimeout, "Timeout of a single request, 0 to disable")
	fs.Duration(readHeaderTimeoutKey, 30*time.Second, "Timeout for reading request headers")

	return fs
}

// getViper returns the viper environment for the server binary
func getViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := buildFlagSet()
	pflag.CommandLine.AddGoFlagSet(fs)
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	if configFile := v.GetString(configFileKey); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("couldn't read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

type params struct {
	version           bool
	httpHost          string
	httpPort          uint
	logLevel          log.Lvl
	logFormat         log.Format
	readHeaderTimeout time.Duration
	config            emulatorvm.Config
}

func getParams(v *viper.Viper) (*params, error) {
	level, err := log.LvlFromString(v.GetString(logLevelKey))
	if err != nil {
		return nil, err
	}
	var format log.Format
	switch v.GetString(logFormatKey) {
	case "terminal":
		format = log.TerminalFormat()
	case "json":
		format = log.JsonFormat()
	default:
		return nil, fmt.Errorf("unknown log format %q", v.GetString(logFormatKey))
	}

	p := &params{
		version:           v.GetBool(versionKey),
		httpHost:          v.GetString(httpHostKey),
		httpPort:          v.GetUint(httpPortKey),
		logLevel:          level,
		logFormat:         format,
		readHeaderTimeout: v.GetDuration(readHeaderTimeoutKey),
		config: emulatorvm.Config{
			MaxSnapshots:   v.GetInt(maxSnapshotsKey),
			RequestTimeout: v.GetDuration(requestTimeoutKey),
		},
	}
	return p, p.config.Validate()
}
