// Package config loads application settings from a yaml file,
// environment variables and command-line flags, in that order of
// precedence. A session snapshots the result at start; changes made
// afterwards never apply retroactively.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/conorfennell/cardbox/internal/queue"
	"github.com/conorfennell/cardbox/internal/sm2"
)

// envPrefix namespaces the environment variables, e.g.
// CARDBOX_STUDY__NEW_CARDS_PER_DAY maps to study.new_cards_per_day.
const envPrefix = "CARDBOX_"

// Config is the full application configuration.
type Config struct {
	DB     string         `koanf:"db" validate:"required"`
	Listen string         `koanf:"listen" validate:"required"`
	Study  queue.Settings `koanf:"study"`
	SM2    sm2.Params     `koanf:"sm2"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DB:     "cardbox.db",
		Listen: "localhost:8484",
		Study:  queue.DefaultSettings(),
		SM2:    *sm2.DefaultParams(),
	}
}

// Load layers the yaml file at path (if it exists), CARDBOX_*
// environment variables and the given flags over the defaults, then
// validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(key string) string {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flag config: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
