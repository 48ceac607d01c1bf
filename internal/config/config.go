package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models feedloop.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		APIToken  string `yaml:"api_token"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Agent struct {
		// APIURL and APIToken are what rendered prompts tell agents to
		// call back on; usually the public address of this server.
		APIURL   string `yaml:"api_url"`
		APIToken string `yaml:"api_token"`
	} `yaml:"agent"`
	Dispatch struct {
		ClaimBatch int `yaml:"claim_batch"`
	} `yaml:"dispatch"`
}

// Default returns the config used when feedloop.yml is absent.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:7171"
	cfg.Server.BasePath = "/api"
	cfg.Agent.APIURL = "http://127.0.0.1:7171/api"
	cfg.Dispatch.ClaimBatch = 5
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath == "" || !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Agent.APIURL == "" {
		return fmt.Errorf("config.agent.api_url is required")
	}
	if c.Dispatch.ClaimBatch <= 0 {
		return fmt.Errorf("config.dispatch.claim_batch must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "feedloop.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}
