package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.synchub/config.toml.
type Config struct {
	Server ConfigServer `toml:"server"`
	Hub    ConfigHub    `toml:"hub"`
	Log    ConfigLog    `toml:"log"`
	Index  ConfigIndex  `toml:"index"`
}

// ConfigServer holds the chat server connection settings.
type ConfigServer struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
}

// ConfigHub holds connection lifecycle settings.
type ConfigHub struct {
	HeartbeatInterval    string `toml:"heartbeat_interval"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	StatusAddr           string `toml:"status_addr"`
}

// ConfigLog holds logging settings. Level is reloaded while listening.
type ConfigLog struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ConfigIndex selects the message context index backend.
type ConfigIndex struct {
	Backend   string `toml:"backend"`
	Retention string `toml:"retention"`
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

func defaultConfig() *Config {
	return &Config{
		Hub:   ConfigHub{HeartbeatInterval: "30s", MaxReconnectAttempts: 10},
		Log:   ConfigLog{Level: "info", Format: "text"},
		Index: ConfigIndex{Backend: "memory", Retention: "24h"},
	}
}

// heartbeat parses the heartbeat interval, falling back to the default.
func (c ConfigHub) heartbeat() (time.Duration, error) {
	if c.HeartbeatInterval == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.HeartbeatInterval)
	if err != nil {
		return 0, fmt.Errorf("hub.heartbeat_interval: %w", err)
	}
	return d, nil
}

func (c ConfigIndex) retention() (time.Duration, error) {
	if c.Retention == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Retention)
	if err != nil {
		return 0, fmt.Errorf("index.retention: %w", err)
	}
	return d, nil
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.synchub, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".synchub")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns the config file in use: --config if given, else the default.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file at path.
// If the file does not exist, it returns the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "server.url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "server":
		switch field {
		case "url":
			cfg.Server.URL = value
		case "token":
			cfg.Server.Token = value
		case "user_id":
			cfg.Server.UserID = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "hub":
		switch field {
		case "heartbeat_interval":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			cfg.Hub.HeartbeatInterval = value
		case "max_reconnect_attempts":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", value, err)
			}
			cfg.Hub.MaxReconnectAttempts = n
		case "status_addr":
			cfg.Hub.StatusAddr = value
		default:
			return fmt.Errorf("unknown field %q in section [hub]", field)
		}
	case "log":
		switch field {
		case "level":
			cfg.Log.Level = value
		case "format":
			if value != "text" && value != "json" {
				return fmt.Errorf("log.format must be text or json")
			}
			cfg.Log.Format = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	case "index":
		switch field {
		case "backend":
			if value != "memory" && value != "redis" {
				return fmt.Errorf("index.backend must be memory or redis")
			}
			cfg.Index.Backend = value
		case "retention":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid duration %q: %w", value, err)
			}
			cfg.Index.Retention = value
		case "redis_addr":
			cfg.Index.RedisAddr = value
		case "redis_db":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", value, err)
			}
			cfg.Index.RedisDB = n
		default:
			return fmt.Errorf("unknown field %q in section [index]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, hub, log, index)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var configFile string

var rootCmd = &cobra.Command{
	Use:   "synchub",
	Short: "Real-time chat cache hub",
	Long:  "Keeps a local cache of chat data in sync with a server's websocket event stream.\nManage configuration, run the hub, and inspect a running hub.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.synchub/config.toml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
