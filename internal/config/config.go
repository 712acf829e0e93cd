package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kdwycz/certimate-webhook/internal/domain"
)

// Config is the process-wide configuration, loaded once at startup and
// immutable afterwards.
type Config struct {
	Server       ServerConfig           `yaml:"server"`
	Sync         SyncConfig             `yaml:"sync"`
	RateLimit    RateLimitConfig        `yaml:"rate_limit"`
	ServerGroups []domain.ServerGroup   `yaml:"server_groups"`
	Mappings     []domain.DomainMapping `yaml:"domain_mappings"`
}

// ServerConfig holds HTTP listener and playbook settings.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	LogLevel      string `yaml:"log_level"`
	WebhookPath   string `yaml:"webhook_path"`
	WebhookSecret string `yaml:"webhook_secret"`
	PlaybookDir   string `yaml:"playbook_dir"`
	PlaybookFile  string `yaml:"playbook_file"`
}

// SyncConfig tunes sync job execution.
type SyncConfig struct {
	GroupTimeoutSeconds int `yaml:"group_timeout_seconds"`
	JobHistory          int `yaml:"job_history"`
}

// RateLimitConfig tunes the webhook rate limiter. Redis is optional;
// the in-memory limiter is used when no address is configured.
type RateLimitConfig struct {
	WebhookPerMinute int    `yaml:"webhook_per_minute"`
	RedisAddr        string `yaml:"redis_addr"`
	RedisPassword    string `yaml:"redis_password"`
	RedisDB          int    `yaml:"redis_db"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GroupTimeout returns the per-group execution timeout.
func (s SyncConfig) GroupTimeout() time.Duration {
	return time.Duration(s.GroupTimeoutSeconds) * time.Second
}

// DefaultConfig returns the defaults applied before the file is parsed.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			LogLevel:     "info",
			PlaybookDir:  "playbooks",
			PlaybookFile: "ssl_sync.yml",
		},
		Sync: SyncConfig{
			GroupTimeoutSeconds: 600,
			JobHistory:          100,
		},
		RateLimit: RateLimitConfig{
			WebhookPerMinute: 30,
		},
	}
}

// Load reads and validates the YAML configuration file.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, errors.New("config file path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	c.Server.WebhookPath = strings.Trim(strings.TrimSpace(c.Server.WebhookPath), "/")
	if c.Server.WebhookPath == "" {
		return errors.New("server.webhook_path is required")
	}
	switch c.Server.WebhookPath {
	case "health", "metrics", "api", "ws":
		return fmt.Errorf("server.webhook_path %q collides with a reserved route", c.Server.WebhookPath)
	}
	if c.Server.PlaybookFile == "" {
		return errors.New("server.playbook_file is required")
	}
	if c.Sync.GroupTimeoutSeconds <= 0 {
		c.Sync.GroupTimeoutSeconds = DefaultConfig().Sync.GroupTimeoutSeconds
	}
	if c.Sync.JobHistory <= 0 {
		c.Sync.JobHistory = DefaultConfig().Sync.JobHistory
	}
	if len(c.ServerGroups) == 0 {
		return errors.New("configuration must define at least one server group")
	}
	for i := range c.ServerGroups {
		g := &c.ServerGroups[i]
		if g.Name == "" {
			return fmt.Errorf("server group %d is missing name", i)
		}
		if len(g.Hosts) == 0 {
			return fmt.Errorf("server group %s has no hosts", g.Name)
		}
		for _, host := range g.Hosts {
			if strings.TrimSpace(host) == "" {
				return fmt.Errorf("server group %s contains an empty host", g.Name)
			}
		}
		if g.SSHPort == 0 {
			g.SSHPort = 22
		}
		if g.SSHPort < 0 || g.SSHPort > 65535 {
			return fmt.Errorf("server group %s ssh_port %d is out of range", g.Name, g.SSHPort)
		}
	}
	if len(c.Mappings) == 0 {
		return errors.New("configuration must define at least one domain mapping")
	}
	for i := range c.Mappings {
		m := &c.Mappings[i]
		m.Domain = domain.NormalizeDomain(m.Domain)
		if m.Domain == "" {
			return fmt.Errorf("domain mapping %d is missing domain", i)
		}
		if len(m.ServerGroups) == 0 {
			return fmt.Errorf("domain %s maps to no server groups", m.Domain)
		}
		if m.SSLSourcePath == "" {
			return fmt.Errorf("domain %s is missing ssl_source_path", m.Domain)
		}
		if m.SSLTargetPath == "" {
			return fmt.Errorf("domain %s is missing ssl_target_path", m.Domain)
		}
		if m.ReloadCmd == "" {
			return fmt.Errorf("domain %s is missing reload_cmd", m.Domain)
		}
	}
	return nil
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
