// Package config loads the console's configuration: defaults, then a TOML
// file, then AGENTCONSOLE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration.
type Config struct {
	Server struct {
		BaseURL string `koanf:"base_url"`
	} `koanf:"server"`

	Polling struct {
		IntervalMS int `koanf:"interval_ms"`
		EvictAfter int `koanf:"evict_after"`
	} `koanf:"polling"`

	Storage struct {
		Dir string `koanf:"dir"`
	} `koanf:"storage"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`

	Dev struct {
		Listen string `koanf:"listen"`
	} `koanf:"dev"`
}

// PollInterval returns the configured polling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMS) * time.Millisecond
}

// LoadConfig loads the configuration from a file, falling back to default
// locations when configPath is empty.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"server.base_url":     "http://localhost:8089",
		"polling.interval_ms": 2000,
		"polling.evict_after": 3,
		"storage.dir":         "./acdata/status",
		"log.level":           "info",
		"dev.listen":          ":8089",
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./agentconsole.toml", "$HOME/.agentconsole.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("AGENTCONSOLE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "AGENTCONSOLE_")), "_", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig writes a starter configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sample := `# agentconsole configuration

[server]
base_url = "http://localhost:8089"

[polling]
interval_ms = 2000
evict_after = 3

[storage]
dir = "./acdata/status"

[log]
level = "info"

[dev]
listen = ":8089"
`
	if err := os.WriteFile(configPath, []byte(sample), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
