package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	pkgconfig "github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"gopkg.in/yaml.v3"
)

type decodeFunc func(data []byte, cfg *pkgconfig.Config) error

// decoders maps file extensions to the format they hold.
var decoders = map[string]decodeFunc{
	".yaml": decodeYAML,
	".yml":  decodeYAML,
	".json": decodeJSON,
	".toml": decodeTOML,
}

// Load reads the configuration file at path (when non-empty), applies
// environment overrides, defaults and validation.
// With an empty path the configuration comes from the environment only.
func Load(path string) (*pkgconfig.Config, error) {
	if path == "" {
		return processConfig(&pkgconfig.Config{}, os.LookupEnv)
	}
	return LoadFromFile(path)
}

// LoadFromFile loads configuration from a file, auto-detecting the format by extension.
// Supported formats: .yaml, .yml, .json, .toml
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	decode, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", strings.TrimPrefix(ext, "."), err)
	}

	return processConfig(&cfg, os.LookupEnv)
}

func decodeYAML(data []byte, cfg *pkgconfig.Config) error {
	return yaml.Unmarshal(data, cfg)
}

func decodeJSON(data []byte, cfg *pkgconfig.Config) error {
	return json.Unmarshal(data, cfg)
}

// decodeTOML rejects keys that match no field, which catches misspelt
// section names that would otherwise fall back to defaults silently.
func decodeTOML(data []byte, cfg *pkgconfig.Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}

// processConfig applies environment overrides, defaults and validates the configuration.
func processConfig(cfg *pkgconfig.Config, lookup pkgconfig.LookupFunc) (*pkgconfig.Config, error) {
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
