// Package config handles configuration loading for multica.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Agent represents a single configured ACP agent.
type Agent struct {
	// Name is the identifier for this agent (e.g. "claude", "gemini").
	Name string `yaml:"name"`
	// Command is the shell command that starts the agent's ACP process.
	Command string `yaml:"command"`
}

// WebConfig holds settings for the web bridge.
type WebConfig struct {
	// Host is the listen address (default: 127.0.0.1).
	Host string `yaml:"host"`
	// Port is the listen port (default: 8484).
	Port int `yaml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// Config is the complete multica configuration.
type Config struct {
	// Agents is the list of configured agents; the first one is the default.
	Agents []Agent `yaml:"agents"`
	// DataDir is where session data is stored. Defaults to the platform
	// data directory.
	DataDir string `yaml:"data_dir"`
	// Web holds web bridge settings.
	Web WebConfig `yaml:"web"`
	// Log holds logging settings.
	Log LogConfig `yaml:"log"`
}

const defaultPort = 8484

// DefaultConfigPath returns the default configuration file path.
// The MULTICARC environment variable overrides it.
func DefaultConfigPath() string {
	if envPath := os.Getenv("MULTICARC"); envPath != "" {
		return envPath
	}
	return filepath.Join(configDir(), "multica", "config.yaml")
}

// DefaultDataDir returns the default session data directory.
func DefaultDataDir() string {
	return filepath.Join(configDir(), "multica", "sessions")
}

// configDir returns the platform configuration directory.
func configDir() string {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("APPDATA"); dir != "" {
			return dir
		}
		return filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support")
	default:
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			return dir
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config")
	}
}

// Load reads the configuration from the given path. A missing file is not
// an error: defaults are returned so multica can run with flags only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// validate rejects configurations that cannot work.
func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if a.Command == "" {
			return fmt.Errorf("agent %q: command is required", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("agent %q: duplicate name", a.Name)
		}
		seen[a.Name] = true
	}
	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		return fmt.Errorf("web.port %d out of range", cfg.Web.Port)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Web.Host == "" {
		cfg.Web.Host = "127.0.0.1"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// DefaultAgent returns the first configured agent, or nil when none are
// configured.
func (c *Config) DefaultAgent() *Agent {
	if len(c.Agents) == 0 {
		return nil
	}
	return &c.Agents[0]
}

// FindAgent returns the agent with the given name, or nil.
func (c *Config) FindAgent(name string) *Agent {
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i]
		}
	}
	return nil
}
