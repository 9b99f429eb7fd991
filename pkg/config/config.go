package config

import (
	"fmt"
	"os"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/db"

	"gopkg.in/yaml.v3"
)

// Duration parses yaml values like "30s" or "5m" (or integer seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	DB      DBConfig      `yaml:"db"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Auth    AuthConfig    `yaml:"auth"`
	Tamper  TamperConfig  `yaml:"tamper"`
	Webhook WebhookConfig `yaml:"webhook"`
	Users   []User        `yaml:"users"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DBConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxConns        int32    `yaml:"max_conns"`
	MinConns        int32    `yaml:"min_conns"`
	MaxConnLifetime Duration `yaml:"max_conn_lifetime"`
}

func (c DBConfig) Pool() db.Config {
	return db.Config{
		DSN:             c.DSN,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime.Std(),
	}
}

type LedgerConfig struct {
	SubmitBaseURL string   `yaml:"submit_base_url"`
	QueryBaseURL  string   `yaml:"query_base_url"`
	Timeout       Duration `yaml:"timeout"`
	MaxAttempts   int      `yaml:"max_attempts"`
	BaseDelay     Duration `yaml:"base_delay"`
	MaxDelay      Duration `yaml:"max_delay"`
	DegradedMode  bool     `yaml:"degraded_mode"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type TamperConfig struct {
	Interval      Duration `yaml:"interval"`
	WindowMinutes int      `yaml:"window_minutes"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = Duration(10 * time.Second)
	}
	if c.Ledger.MaxAttempts == 0 {
		c.Ledger.MaxAttempts = 3
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.Tamper.Interval == 0 {
		c.Tamper.Interval = Duration(5 * time.Minute)
	}
	if c.Tamper.WindowMinutes == 0 {
		c.Tamper.WindowMinutes = 30
	}
}

func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
