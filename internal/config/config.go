// Package config loads the service's YAML configuration file, whose path
// is required via the CONFIG_FILE_PATH environment variable.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bookwaves/libreader/internal/regions"
)

// ReaderEntry is one reader's YAML configuration block.
type ReaderEntry struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	Mode     string `yaml:"mode"`
	Antennas []int  `yaml:"antennas"`
	Region   string `yaml:"region"`
}

// Config is the top-level decoded shape of the YAML configuration file.
type Config struct {
	TagPasswords     map[string]string `yaml:"tagPasswords"`
	DefaultTagFormat string            `yaml:"defaultTagFormat"`
	Readers          []ReaderEntry     `yaml:"readers"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
	HTTPAddr  string `yaml:"httpAddr"`
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.DefaultTagFormat == "" {
		c.DefaultTagFormat = "DE290"
	}
}

func (c *Config) validate() error {
	if len(c.Readers) == 0 {
		return fmt.Errorf("config: at least one reader must be configured under readers")
	}
	seen := make(map[string]struct{}, len(c.Readers))
	for i, r := range c.Readers {
		if r.Name == "" {
			return fmt.Errorf("config: readers[%d].name is required", i)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("config: duplicate reader name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Address == "" {
			return fmt.Errorf("config: readers[%d] (%s): address is required", i, r.Name)
		}
		if r.Port <= 0 {
			return fmt.Errorf("config: readers[%d] (%s): port must be positive", i, r.Name)
		}
		switch r.Mode {
		case "", "host":
			c.Readers[i].Mode = "host"
		case "notification":
		default:
			return fmt.Errorf("config: readers[%d] (%s): mode must be %q or %q, got %q", i, r.Name, "host", "notification", r.Mode)
		}
		for _, a := range r.Antennas {
			if a < 1 || a > 8 {
				return fmt.Errorf("config: readers[%d] (%s): antenna %d out of range 1..8", i, r.Name, a)
			}
		}
		if r.Region == "" {
			c.Readers[i].Region = "US"
		} else if !regions.IsValid(r.Region) {
			return fmt.Errorf("config: readers[%d] (%s): unknown region %q", i, r.Name, r.Region)
		}
	}
	return nil
}

// EnvFilePathVar is the environment variable naming the YAML file to load.
const EnvFilePathVar = "CONFIG_FILE_PATH"

// Load reads CONFIG_FILE_PATH, parses it as YAML, fills defaults for the
// optional ambient keys, and validates the reader list.
func Load() (*Config, error) {
	path := strings.TrimSpace(os.Getenv(EnvFilePathVar))
	if path == "" {
		return nil, fmt.Errorf("%s environment variable is not set", EnvFilePathVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
