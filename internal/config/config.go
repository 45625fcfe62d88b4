// Package config handles loading and managing tldw-assist configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for tldw-assist.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Execution ExecutionConfig `yaml:"execution"`
	Agent     AgentConfig     `yaml:"agent"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds LLM service connection settings.
type ServerConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	Proxy     string `yaml:"proxy"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// WorkspaceConfig holds sandbox settings.
type WorkspaceConfig struct {
	Root             string   `yaml:"root"`
	BlockedPaths     []string `yaml:"blocked_paths"`
	MaxReadChars     int      `yaml:"max_read_chars"`
	MaxFileSizeBytes int64    `yaml:"max_file_size_bytes"`
}

// ExecutionConfig holds script execution settings.
type ExecutionConfig struct {
	Interpreter     string `yaml:"interpreter"`
	ScriptExtension string `yaml:"script_extension"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	MaxOutputBytes  int    `yaml:"max_output_bytes"`
}

// AgentConfig holds orchestration loop settings.
type AgentConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	SystemPrompt  string `yaml:"system_prompt"`
}

// LoggingConfig holds diagnostic logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Journal bool   `yaml:"journal"`
}

const defaultSystemPrompt = `You are a helpful AI coding agent.

When a user asks a question or makes a request, make a function call plan. You can perform the following operations:

- List files and directories
- Read file contents
- Execute Python files with optional arguments
- Write or overwrite files

All paths you provide should be relative to the working directory. You do not need to specify the working directory in your function calls as it is automatically injected for security reasons.`

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:   "https://generativelanguage.googleapis.com",
			Model:     "gemini-2.0-flash-001",
			APIKey:    "",
			Proxy:     "",
			TimeoutMs: 120000,
		},
		Workspace: WorkspaceConfig{
			Root: "./sandbox",
			BlockedPaths: []string{
				".env",
				"*.pem",
				"*.key",
			},
			MaxReadChars:     10000,
			MaxFileSizeBytes: 10 * 1024 * 1024, // 10MB
		},
		Execution: ExecutionConfig{
			Interpreter:     "python3",
			ScriptExtension: ".py",
			TimeoutMs:       30000,
			MaxOutputBytes:  1024 * 1024, // 1MB
		},
		Agent: AgentConfig{
			MaxIterations: 20,
			SystemPrompt:  defaultSystemPrompt,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tldw-assist", "config.yaml")
}

// Load reads configuration from the default config file.
func Load() (*Config, error) {
	path := ConfigPath()
	return LoadFrom(path)
}

// LoadFrom reads configuration from a specific file path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if file doesn't exist
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv fills settings that may come from the environment.
// Values already present in the config file win.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if c.Server.APIKey == "" {
		c.Server.APIKey = strings.TrimSpace(getenv("GEMINI_API_KEY"))
	}
	if level := strings.TrimSpace(getenv("TLDW_ASSIST_LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
}

// Validate rejects limits that would make the loop or the handlers unbounded.
func (c *Config) Validate() error {
	var errs []error
	if c.Workspace.Root == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}
	if c.Workspace.MaxReadChars <= 0 {
		errs = append(errs, errors.New("workspace.max_read_chars must be positive"))
	}
	if c.Execution.Interpreter == "" {
		errs = append(errs, errors.New("execution.interpreter is required"))
	}
	if !strings.HasPrefix(c.Execution.ScriptExtension, ".") {
		errs = append(errs, fmt.Errorf("execution.script_extension %q must start with a dot", c.Execution.ScriptExtension))
	}
	if c.Execution.TimeoutMs <= 0 {
		errs = append(errs, errors.New("execution.timeout_ms must be positive"))
	}
	if c.Execution.MaxOutputBytes <= 0 {
		errs = append(errs, errors.New("execution.max_output_bytes must be positive"))
	}
	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, errors.New("agent.max_iterations must be positive"))
	}
	return errors.Join(errs...)
}

// IsPathBlocked checks if a path matches any of the blocked patterns.
func (c *Config) IsPathBlocked(path string) bool {
	for _, pattern := range c.Workspace.BlockedPaths {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		if err == nil && matched {
			return true
		}
		// Also check the full path for glob patterns
		matched, err = filepath.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
