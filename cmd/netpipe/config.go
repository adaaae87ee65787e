// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envPrefix is the prefix of the environment variables overriding settings.
const envPrefix = "NETPIPE_"

// settings contains the settings shared by all subcommands. Each field
// is filled, in increasing order of precedence, from the flag default,
// the YAML config file, the NETPIPE_ environment, and an explicit flag.
type settings struct {
	Address       string        `koanf:"address"`
	Answer        string        `koanf:"answer"`
	Debug         bool          `koanf:"debug"`
	MaxLineLength int           `koanf:"max_line_length"`
	Name          string        `koanf:"name"`
	Port          int           `koanf:"port"`
	Server        string        `koanf:"server"`
	SNI           string        `koanf:"sni"`
	Timeout       time.Duration `koanf:"timeout"`
	TLS           bool          `koanf:"tls"`
}

// settingsKey maps a flag name to the corresponding settings key.
func settingsKey(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// loadSettings merges the flags of cmd with the config file at path,
// which may be empty, and with the environment.
func loadSettings(cmd *cobra.Command, path string) (*settings, error) {
	k := koanf.New(".")

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name != "config" {
			k.Set(settingsKey(f.Name), f.DefValue)
		}
	})

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, err
	}

	cmd.Flags().Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			k.Set(settingsKey(f.Name), f.Value.String())
		}
	})

	var cfg settings
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// newLogger returns the JSON logger writing to stderr.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
