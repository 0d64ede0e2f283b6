package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// substituteEnv replaces ${VAR} and ${VAR:default} references with
// environment values before YAML parsing.
func substituteEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		if v, ok := os.LookupEnv(string(groups[1])); ok {
			return []byte(v)
		}
		return groups[2]
	})
}

// Load reads a YAML file into cfg, expanding ${ENV} references first.
func Load(path string, cfg interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data, cfg)
}

// Parse decodes YAML bytes into cfg, expanding ${ENV} references first.
func Parse(data []byte, cfg interface{}) error {
	if err := yaml.Unmarshal(substituteEnv(data), cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if d, ok := cfg.(interface{ SetDefaults() }); ok {
		d.SetDefaults()
	}
	if v, ok := cfg.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadHubSpotSource loads and validates a HubSpot source config file.
func LoadHubSpotSource(path string) (*HubSpotSourceConfig, error) {
	cfg := &HubSpotSourceConfig{}
	if err := Load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadJSONLDestination loads and validates a JSONL destination config file.
func LoadJSONLDestination(path string) (*JSONLDestinationConfig, error) {
	cfg := &JSONLDestinationConfig{}
	if err := Load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
