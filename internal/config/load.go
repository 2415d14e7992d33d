// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package config

import (
	"errors"
	"net/url"
	"os"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DatabaseURLEnv names the environment variable that supplies database.url.
const DatabaseURLEnv = "DATABASE_URL"

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-format":        "log.format",
	"log-level":         "log.level",
	"store":             "database.store",
	"database-url":      "database.url",
	"metrics-addr":      "metrics.addr",
	"session-policy":    "session.policy",
	"lockout-threshold": "lockout.threshold",
}

// RegisterFlags adds the configuration flags to fs with built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("store", d.Database.Store, "credential store: postgres, or memory (serve and tests only; nothing persists between commands)")
	fs.String("database-url", "", "PostgreSQL connection URL (default: $"+DatabaseURLEnv+")")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("session-policy", d.Session.Policy, "concurrent session policy (replace or reject)")
	fs.Int("lockout-threshold", d.Lockout.Threshold, "consecutive failures before an account locks")
}

// LoadOptions controls where configuration comes from.
type LoadOptions struct {
	// Path is the YAML config file. A missing file is skipped unless Required.
	Path     string
	Required bool
	// Flags are applied last. Unchanged flags only fill keys still unset.
	Flags *pflag.FlagSet
	// Getenv reads the environment; nil uses os.Getenv.
	Getenv func(string) string
}

// Load builds a Config from defaults, the config file, the environment and
// flags, in increasing precedence, then validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(defaultsProvider{}, kyaml.Parser()); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !opts.Required:
		case err != nil:
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", opts.Path).Wrap(err)
		default:
			if err := ValidateSchema(data); err != nil {
				return nil, oops.Code("CONFIG_INVALID").With("path", opts.Path).Wrap(err)
			}
			if err := k.Load(file.Provider(opts.Path), kyaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", opts.Path).Wrap(err)
			}
		}
	}

	var changedURL bool
	if opts.Flags != nil {
		changedURL = opts.Flags.Changed("database-url")
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || (f.Name == "database-url" && !f.Changed) {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(DatabaseURLEnv); v != "" && !changedURL {
		cfg.Database.URL = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MarshalYAML renders the configuration as YAML.
func MarshalYAML(cfg Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, oops.Code("CONFIG_MARSHAL_FAILED").Wrap(err)
	}
	return data, nil
}

// defaultsProvider feeds Default() to koanf as YAML.
type defaultsProvider struct{}

func (defaultsProvider) ReadBytes() ([]byte, error) {
	return yaml.Marshal(Default())
}

func (defaultsProvider) Read() (map[string]any, error) {
	return nil, errors.New("defaults provider does not support Read")
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
