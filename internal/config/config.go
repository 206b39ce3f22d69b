package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Engine backend names.
const (
	EngineStream = "stream"
	EngineAPI    = "api"
	EngineFake   = "fake"
)

// Default agent command. The stream engine appends --cwd/--resume flags and
// speaks newline-delimited JSON over stdin/stdout.
var defaultAgentCommand = []string{"claude-agent", "--output-format", "stream-json"}

type Config struct {
	// ListenAddr is the address the window channel server binds to.
	ListenAddr string
	// BanterHome is the directory where banter stores local state
	// (secret key, message log, config file).
	BanterHome string

	// Engine selects the agent engine backend (stream|api|fake).
	Engine string
	// AgentCommand is the SDK CLI invocation used by the stream engine.
	AgentCommand []string
	// Model is the default model identifier passed to the engine.
	Model string
	// PermissionMode is the default permission preset passed to the engine.
	PermissionMode string

	// LogLevel is the logger threshold (trace|debug|info|warn|error).
	LogLevel string
	// Debug enables verbose logging regardless of LogLevel.
	Debug bool
}

// fileConfig is the subset of Config that can be set from the optional
// ~/.banter/config.yaml overlay. Environment variables win over the file.
type fileConfig struct {
	Listen         string   `yaml:"listen"`
	Engine         string   `yaml:"engine"`
	AgentCommand   []string `yaml:"agent_command"`
	Model          string   `yaml:"model"`
	PermissionMode string   `yaml:"permission_mode"`
	LogLevel       string   `yaml:"log_level"`
}

// Load loads configuration from the config file and environment, with
// environment variables taking precedence. Load only reads; commands that
// persist state create BanterHome themselves.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	banterHome := os.Getenv("BANTER_HOME_DIR")
	if banterHome == "" {
		banterHome = filepath.Join(homeDir, ".banter")
	}

	cfg := &Config{
		ListenAddr:     "127.0.0.1:48760",
		BanterHome:     banterHome,
		Engine:         "stream",
		AgentCommand:   defaultAgentCommand,
		PermissionMode: "default",
		LogLevel:       "info",
	}

	if err := applyFile(cfg, filepath.Join(banterHome, "config.yaml")); err != nil {
		return nil, err
	}
	applyEnv(cfg)

	switch cfg.Engine {
	case EngineStream, EngineAPI, EngineFake:
	default:
		return nil, fmt.Errorf("invalid engine %q (expected stream, api, or fake)", cfg.Engine)
	}
	if len(cfg.AgentCommand) == 0 {
		return nil, fmt.Errorf("agent command must not be empty")
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if fc.Listen != "" {
		cfg.ListenAddr = fc.Listen
	}
	if fc.Engine != "" {
		cfg.Engine = fc.Engine
	}
	if len(fc.AgentCommand) > 0 {
		cfg.AgentCommand = fc.AgentCommand
	}
	if fc.Model != "" {
		cfg.Model = fc.Model
	}
	if fc.PermissionMode != "" {
		cfg.PermissionMode = fc.PermissionMode
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BANTER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BANTER_ENGINE"); v != "" {
		cfg.Engine = v
	}
	if v := os.Getenv("BANTER_AGENT_CMD"); v != "" {
		cfg.AgentCommand = strings.Fields(v)
	}
	if v := os.Getenv("BANTER_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("BANTER_PERMISSION_MODE"); v != "" {
		cfg.PermissionMode = v
	}
	if v := os.Getenv("BANTER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.Debug = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1" ||
		os.Getenv("BANTER_DEBUG") == "true" || os.Getenv("BANTER_DEBUG") == "1"
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
}

// SecretKeyPath returns the path of the local secret key file.
func (c *Config) SecretKeyPath() string {
	return filepath.Join(c.BanterHome, "secret.key")
}

// HistoryDBPath returns the path of the local message log database.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.BanterHome, "history.db")
}
