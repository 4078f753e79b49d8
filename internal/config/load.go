package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override. Sections are separated
	// by a double underscore: ERP_MIRROR_API__CHUNK_SIZE -> api.chunk_size.
	EnvPrefix = "ERP_MIRROR_"

	// PathEnvVar names the config file when --config is not given.
	PathEnvVar = "ERP_MIRROR_CONFIG"
)

// legacyEnv maps the variables of earlier deployments to config keys.
// Prefixed variables override them.
var legacyEnv = map[string]string{
	"CLOUD_API_URL": "api.url",
	"SYNC_API_KEY":  "api.key",
	"DATABASE_URL":  "mirror.dsn",
	"ERP_DSN":       "source.dsn",
}

// Load builds the configuration: defaults, then the YAML file at path (or
// $ERP_MIRROR_CONFIG), then legacy variables, then ERP_MIRROR_* variables.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", legacyKey), nil); err != nil {
		return nil, fmt.Errorf("load legacy environment: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", prefixedKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	return cfg, nil
}

func legacyKey(name string) string {
	return legacyEnv[name]
}

// prefixedKey turns ERP_MIRROR_SYNC__RUN_ON_START into sync.run_on_start.
// Variables without a section are ignored.
func prefixedKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	if !strings.Contains(name, "__") {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(name, "__", "."))
}
