package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "configs/swarm.json"

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig   `json:"server"`
	Swarm       SwarmConfig    `json:"swarm"`
	WorkflowDir string         `json:"workflow_dir"`
	Database    DatabaseConfig `json:"database"`
	Notify      NotifyConfig   `json:"notify"`
}

type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type SwarmConfig struct {
	InitialAgents              int      `json:"initial_agents"`
	Vocabulary                 []string `json:"vocabulary"`
	MaxSpecializationsPerAgent int      `json:"max_specializations_per_agent"`
	IdleIntervalMS             int      `json:"idle_interval_ms"`
	ExecMinMS                  int      `json:"exec_min_ms"`
	ExecMaxMS                  int      `json:"exec_max_ms"`
	DefaultTimeout             int      `json:"default_timeout"`
	AutoscaleIntervalSec       int      `json:"autoscale_interval_sec"`
	AutoscaleFactor            int      `json:"autoscale_factor"`
	MaxAgents                  int      `json:"max_agents"`
	ReaperIntervalMS           int      `json:"reaper_interval_ms"`
}

func (s SwarmConfig) IdleInterval() time.Duration {
	return time.Duration(s.IdleIntervalMS) * time.Millisecond
}

func (s SwarmConfig) ExecMin() time.Duration {
	return time.Duration(s.ExecMinMS) * time.Millisecond
}

func (s SwarmConfig) ExecMax() time.Duration {
	return time.Duration(s.ExecMaxMS) * time.Millisecond
}

func (s SwarmConfig) AutoscaleInterval() time.Duration {
	return time.Duration(s.AutoscaleIntervalSec) * time.Second
}

func (s SwarmConfig) ReaperInterval() time.Duration {
	return time.Duration(s.ReaperIntervalMS) * time.Millisecond
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	WebhookURL string `json:"webhook_url"`
}

type DiscordNotifyConfig struct {
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, LogLevel: "info"},
		Swarm: SwarmConfig{
			InitialAgents:              5,
			Vocabulary:                 []string{"math", "language", "code", "research", "analysis"},
			MaxSpecializationsPerAgent: 3,
			IdleIntervalMS:             100,
			ExecMinMS:                  500,
			ExecMaxMS:                  2000,
			DefaultTimeout:             30,
			AutoscaleIntervalSec:       10,
			AutoscaleFactor:            2,
			ReaperIntervalMS:           1000,
		},
		WorkflowDir: "workflows",
		Database: DatabaseConfig{
			Redis: RedisConfig{Stream: "nuka:swarm:events"},
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable
// references. A missing file yields the defaults. CONTEXT_WORKFLOW_DIR,
// CONTEXT_AGENT_HOST and CONTEXT_AGENT_PORT override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		// Substitute ${VAR} and ${VAR:default} with environment values.
		resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
			parts := envVarRe.FindStringSubmatch(match)
			name := parts[1]
			defaultVal := parts[2]
			if v := os.Getenv(name); v != "" {
				return v
			}
			return defaultVal
		})
		if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CONTEXT_WORKFLOW_DIR"); v != "" {
		c.WorkflowDir = v
	}
	if v := os.Getenv("CONTEXT_AGENT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CONTEXT_AGENT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid CONTEXT_AGENT_PORT %q", v)
		}
		c.Server.Port = port
	}
	return nil
}

// fillDefaults replaces zero values a file may have left behind.
// initial_agents and max_agents keep an explicit zero.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = def.Server.LogLevel
	}
	s := &c.Swarm
	if len(s.Vocabulary) == 0 {
		s.Vocabulary = def.Swarm.Vocabulary
	}
	if s.MaxSpecializationsPerAgent <= 0 {
		s.MaxSpecializationsPerAgent = def.Swarm.MaxSpecializationsPerAgent
	}
	if s.IdleIntervalMS <= 0 {
		s.IdleIntervalMS = def.Swarm.IdleIntervalMS
	}
	if s.ExecMinMS <= 0 {
		s.ExecMinMS = def.Swarm.ExecMinMS
	}
	if s.ExecMaxMS < s.ExecMinMS {
		s.ExecMaxMS = s.ExecMinMS
	}
	if s.DefaultTimeout == 0 {
		s.DefaultTimeout = def.Swarm.DefaultTimeout
	}
	if s.AutoscaleIntervalSec <= 0 {
		s.AutoscaleIntervalSec = def.Swarm.AutoscaleIntervalSec
	}
	if s.AutoscaleFactor <= 0 {
		s.AutoscaleFactor = def.Swarm.AutoscaleFactor
	}
	if s.ReaperIntervalMS <= 0 {
		s.ReaperIntervalMS = def.Swarm.ReaperIntervalMS
	}
	if c.Database.Redis.Stream == "" {
		c.Database.Redis.Stream = def.Database.Redis.Stream
	}
}
