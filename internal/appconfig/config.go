package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/agenthub/core"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	DataDir       string         `mapstructure:"data_dir" yaml:"data_dir"`
	Features      FeaturesConfig `mapstructure:"features" yaml:"features"`
	Identity      IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Agent         AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Rooms         RoomsConfig    `mapstructure:"rooms" yaml:"rooms"`
	MCP           MCPConfig      `mapstructure:"mcp" yaml:"mcp"`
	Terminal      TerminalConfig `mapstructure:"terminal" yaml:"terminal"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// FeaturesConfig toggles the optional server surfaces.
type FeaturesConfig struct {
	Agent    bool `mapstructure:"agent" yaml:"agent"`
	Rooms    bool `mapstructure:"rooms" yaml:"rooms"`
	Terminal bool `mapstructure:"terminal" yaml:"terminal"`
	MCP      bool `mapstructure:"mcp" yaml:"mcp"`
}

// IdentityConfig points at the external identity provider.
type IdentityConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// AgentConfig configures the agent CLI subprocess.
type AgentConfig struct {
	Binary                 string            `mapstructure:"binary" yaml:"binary"`
	Args                   []string          `mapstructure:"args" yaml:"args"`
	Env                    map[string]string `mapstructure:"env" yaml:"env"`
	BufferMaxLines         int               `mapstructure:"buffer_max_lines" yaml:"buffer_max_lines"`
	RetainCompletedMinutes int               `mapstructure:"retain_completed_minutes" yaml:"retain_completed_minutes"`
	MaxRunAgeMinutes       int               `mapstructure:"max_run_age_minutes" yaml:"max_run_age_minutes"`
	SweepIntervalSeconds   int               `mapstructure:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
	TermGraceSeconds       int               `mapstructure:"term_grace_seconds" yaml:"term_grace_seconds"`
	LoginVerifyHost        string            `mapstructure:"login_verify_host" yaml:"login_verify_host"`
}

// RoomsConfig bounds room chat behavior.
type RoomsConfig struct {
	MessageMaxChars int `mapstructure:"message_max_chars" yaml:"message_max_chars"`
	HistoryLimit    int `mapstructure:"history_limit" yaml:"history_limit"`
}

// MCPConfig configures the tool server subprocess.
type MCPConfig struct {
	Command            []string          `mapstructure:"command" yaml:"command"`
	Env                map[string]string `mapstructure:"env" yaml:"env"`
	CallTimeoutSeconds int               `mapstructure:"call_timeout_seconds" yaml:"call_timeout_seconds"`
}

// TerminalConfig configures the interactive shell surface.
type TerminalConfig struct {
	Shell string `mapstructure:"shell" yaml:"shell"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		DataDir:       filepath.Join(home, ".agenthub", "state"),
		Features: FeaturesConfig{
			Agent:    true,
			Rooms:    true,
			Terminal: false,
			MCP:      false,
		},
		Identity: IdentityConfig{
			BaseURL: "",
			APIKey:  "",
		},
		Agent: AgentConfig{
			Binary:                 "codex",
			Args:                   []string{"exec", "--json"},
			Env:                    map[string]string{},
			BufferMaxLines:         core.DefaultBufferMaxLines,
			RetainCompletedMinutes: 10,
			MaxRunAgeMinutes:       60,
			SweepIntervalSeconds:   60,
			TermGraceSeconds:       3,
			LoginVerifyHost:        "auth.openai.com/codex/device",
		},
		Rooms: RoomsConfig{
			MessageMaxChars: 4000,
			HistoryLimit:    core.MaxMessageTail,
		},
		MCP: MCPConfig{
			Command:            []string{},
			Env:                map[string]string{},
			CallTimeoutSeconds: 600,
		},
		Terminal: TerminalConfig{
			Shell: "/bin/bash",
		},
		HTTP: HTTPConfig{
			Addr: ":27490",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agenthub", "config.yaml"), nil
}
