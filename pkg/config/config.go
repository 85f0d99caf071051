// Package config loads bot configuration from YAML or TOML files. Environment
// variables written as ${VAR_NAME} are expanded before parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	gatewayframe "github.com/sessamekesh/shardwire/pkg/message/gateway_frame"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway" toml:"gateway"`
	Presence PresenceConfig `yaml:"presence" toml:"presence"`
	Rest     RestConfig     `yaml:"rest" toml:"rest"`
	Commands CommandsConfig `yaml:"commands" toml:"commands"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

type GatewayConfig struct {
	Token                string   `yaml:"token" toml:"token"`
	URL                  string   `yaml:"url" toml:"url"`
	IntentNames          []string `yaml:"intents" toml:"intents"`
	ShardCount           int      `yaml:"shard_count" toml:"shard_count"`
	Compress             bool     `yaml:"compress" toml:"compress"`
	LargeThreshold       int      `yaml:"large_threshold" toml:"large_threshold"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	DispatchBuffer       int      `yaml:"dispatch_buffer" toml:"dispatch_buffer"`

	Intents          gatewayframe.Intents `yaml:"-" toml:"-"`
	IdentifyInterval time.Duration        `yaml:"-" toml:"-"`
	BackoffBase      time.Duration        `yaml:"-" toml:"-"`
	BackoffMax       time.Duration        `yaml:"-" toml:"-"`
	ShutdownGrace    time.Duration        `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	IdentifyIntervalRaw string `yaml:"identify_interval" toml:"identify_interval"`
	BackoffBaseRaw      string `yaml:"backoff_base" toml:"backoff_base"`
	BackoffMaxRaw       string `yaml:"backoff_max" toml:"backoff_max"`
	ShutdownGraceRaw    string `yaml:"shutdown_grace" toml:"shutdown_grace"`
}

type PresenceConfig struct {
	Status       string `yaml:"status" toml:"status"`
	ActivityName string `yaml:"activity_name" toml:"activity_name"`
	ActivityType int    `yaml:"activity_type" toml:"activity_type"`
}

type RestConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

type CommandsConfig struct {
	Prefix        string `yaml:"prefix" toml:"prefix"`
	CaseSensitive bool   `yaml:"case_sensitive" toml:"case_sensitive"`
	Echo          bool   `yaml:"echo" toml:"echo"`
	PingPong      bool   `yaml:"ping_pong" toml:"ping_pong"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:                  gatewayframe.DefaultURL,
			IntentNames:          []string{"guilds", "guild_messages", "direct_messages", "message_content"},
			ShardCount:           1,
			Compress:             true,
			LargeThreshold:       50,
			MaxReconnectAttempts: 10,
			DispatchBuffer:       256,
			IdentifyIntervalRaw:  "5s",
			BackoffBaseRaw:       "1s",
			BackoffMaxRaw:        "60s",
			ShutdownGraceRaw:     "10s",
		},
		Presence: PresenceConfig{
			Status: "online",
		},
		Commands: CommandsConfig{
			Prefix:   "!",
			PingPong: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path, choosing TOML for .toml files and YAML otherwise.
// DISCORD_TOKEN fills in an empty gateway token.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults plus DISCORD_TOKEN, for running
// without a file.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if c.Gateway.Token == "" {
		c.Gateway.Token = os.Getenv("DISCORD_TOKEN")
	}

	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}

	intents, err := gatewayframe.ParseIntents(c.Gateway.IntentNames)
	if err != nil {
		return fmt.Errorf("parsing gateway.intents: %w", err)
	}
	c.Gateway.Intents = intents

	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or "" if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	if c.Gateway.Token == "" {
		return fmt.Errorf("gateway.token is required (or set DISCORD_TOKEN)")
	}
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	if c.Gateway.ShardCount <= 0 {
		return fmt.Errorf("gateway.shard_count must be positive, got %d", c.Gateway.ShardCount)
	}
	if c.Gateway.MaxReconnectAttempts < 0 {
		return fmt.Errorf("gateway.max_reconnect_attempts cannot be negative")
	}
	if c.Gateway.BackoffBase <= 0 {
		return fmt.Errorf("gateway.backoff_base must be positive")
	}
	if c.Gateway.BackoffMax < c.Gateway.BackoffBase {
		return fmt.Errorf("gateway.backoff_max (%s) is below gateway.backoff_base (%s)", c.Gateway.BackoffMax, c.Gateway.BackoffBase)
	}
	if c.Gateway.IdentifyInterval < 0 {
		return fmt.Errorf("gateway.identify_interval cannot be negative")
	}

	switch c.Presence.Status {
	case "", "online", "idle", "dnd", "invisible", "offline":
	default:
		return fmt.Errorf("presence.status %q is not one of online, idle, dnd, invisible, offline", c.Presence.Status)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// PresenceUpdate converts the presence section, or returns nil if it sets nothing.
func (c *Config) PresenceUpdate() *gatewayframe.PresenceUpdate {
	if c.Presence.Status == "" && c.Presence.ActivityName == "" {
		return nil
	}

	p := &gatewayframe.PresenceUpdate{
		Status:     c.Presence.Status,
		Activities: []gatewayframe.Activity{},
	}
	if p.Status == "" {
		p.Status = "online"
	}
	if c.Presence.ActivityName != "" {
		p.Activities = append(p.Activities, gatewayframe.Activity{
			Name: c.Presence.ActivityName,
			Type: gatewayframe.ActivityType(c.Presence.ActivityType),
		})
	}
	return p
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"identify_interval", cfg.Gateway.IdentifyIntervalRaw, &cfg.Gateway.IdentifyInterval},
		{"backoff_base", cfg.Gateway.BackoffBaseRaw, &cfg.Gateway.BackoffBase},
		{"backoff_max", cfg.Gateway.BackoffMaxRaw, &cfg.Gateway.BackoffMax},
		{"shutdown_grace", cfg.Gateway.ShutdownGraceRaw, &cfg.Gateway.ShutdownGrace},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
