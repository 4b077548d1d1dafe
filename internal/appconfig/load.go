package appconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("features.agent", cfg.Features.Agent)
	v.SetDefault("features.rooms", cfg.Features.Rooms)
	v.SetDefault("features.terminal", cfg.Features.Terminal)
	v.SetDefault("features.mcp", cfg.Features.MCP)
	v.SetDefault("identity.base_url", cfg.Identity.BaseURL)
	v.SetDefault("identity.api_key", cfg.Identity.APIKey)
	v.SetDefault("agent.binary", cfg.Agent.Binary)
	v.SetDefault("agent.args", cfg.Agent.Args)
	v.SetDefault("agent.env", cfg.Agent.Env)
	v.SetDefault("agent.buffer_max_lines", cfg.Agent.BufferMaxLines)
	v.SetDefault("agent.retain_completed_minutes", cfg.Agent.RetainCompletedMinutes)
	v.SetDefault("agent.max_run_age_minutes", cfg.Agent.MaxRunAgeMinutes)
	v.SetDefault("agent.sweep_interval_seconds", cfg.Agent.SweepIntervalSeconds)
	v.SetDefault("agent.term_grace_seconds", cfg.Agent.TermGraceSeconds)
	v.SetDefault("agent.login_verify_host", cfg.Agent.LoginVerifyHost)
	v.SetDefault("rooms.message_max_chars", cfg.Rooms.MessageMaxChars)
	v.SetDefault("rooms.history_limit", cfg.Rooms.HistoryLimit)
	v.SetDefault("mcp.command", cfg.MCP.Command)
	v.SetDefault("mcp.env", cfg.MCP.Env)
	v.SetDefault("mcp.call_timeout_seconds", cfg.MCP.CallTimeoutSeconds)
	v.SetDefault("terminal.shell", cfg.Terminal.Shell)
	v.SetDefault("http.addr", cfg.HTTP.Addr)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if v.GetBool("features.mcp") && len(v.GetStringSlice("mcp.command")) == 0 {
			return Config{}, fmt.Errorf("mcp.command is required when features.mcp is enabled")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("http.addr %q: %w", addr, err)
	}
	if cfg.Features.Agent && strings.TrimSpace(cfg.Agent.Binary) == "" {
		return fmt.Errorf("agent.binary is required when features.agent is enabled")
	}
	if cfg.Rooms.MessageMaxChars <= 0 {
		return fmt.Errorf("rooms.message_max_chars must be positive")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.DataDir = expandEnv(cfg.DataDir)
	cfg.Identity.BaseURL = expandEnv(cfg.Identity.BaseURL)
	cfg.Identity.APIKey = expandEnv(cfg.Identity.APIKey)
	cfg.Agent.Binary = expandEnv(cfg.Agent.Binary)
	cfg.Terminal.Shell = expandEnv(cfg.Terminal.Shell)
	for i, arg := range cfg.MCP.Command {
		cfg.MCP.Command[i] = expandEnv(arg)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
