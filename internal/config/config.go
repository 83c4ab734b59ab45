// Package config loads the agent and CLI configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 32146
	DefaultBaud = 115200

	TransportPCSC = "pcsc"
	TransportUART = "pn532-uart"
)

type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Tag       TagConfig       `yaml:"tag"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ---- TRANSPORT ----

type TransportConfig struct {
	Kind   string `yaml:"kind"`   // pcsc | pn532-uart
	Reader string `yaml:"reader"` // PC/SC reader name; empty picks the first one
	Port   string `yaml:"port"`   // serial device for pn532-uart
	Baud   int    `yaml:"baud"`

	// PollIntervalMs is the delay between activation attempts while waiting
	// for a tag.
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// ---- TAG ----

type TagConfig struct {
	Type string `yaml:"type"` // x4k | 512; empty defers to settings
}

// ---- SERVER ----

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ---- LOGGING ----

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Buffer int    `yaml:"buffer"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:           TransportPCSC,
			Baud:           DefaultBaud,
			PollIntervalMs: 250,
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Buffer: 1000,
		},
	}
}

// Load reads a YAML file over Default and applies environment overrides.
// An empty path skips the file. A path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("SRIX_AGENT_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SRIX_AGENT_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SRIX_AGENT_PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	return nil
}

// Address returns host:port for the HTTP listener.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

var errNilConfig = errors.New("config is nil")
