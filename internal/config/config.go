package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Primary   Primary         `koanf:"primary"`
	Server    ServerConfig    `koanf:"server" validate:"required"`
	Database  DatabaseConfig  `koanf:"database" validate:"required"`
	Share     ShareConfig     `koanf:"share" validate:"required"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Archive   *ArchiveConfig  `koanf:"archive"`
}

type Primary struct {
	Env string `koanf:"env"`
}

type ServerConfig struct {
	Port         string `koanf:"port" validate:"required"`
	ReadTimeout  int    `koanf:"read_timeout"`
	WriteTimeout int    `koanf:"write_timeout"`
}

type DatabaseConfig struct {
	Host         string `koanf:"host" validate:"required"`
	Port         int    `koanf:"port" validate:"required"`
	User         string `koanf:"user" validate:"required"`
	Password     string `koanf:"password"`
	Name         string `koanf:"name" validate:"required"`
	SSLMode      string `koanf:"ssl_mode"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// ShareConfig describes the remote log share and how to reach it.
// Mode "local" points the connector at a directory instead of SMB, which is
// how fixtures and development environments run.
type ShareConfig struct {
	Mode        string        `koanf:"mode" validate:"oneof=smb local"`
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	ShareName   string        `koanf:"share_name"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	Domain      string        `koanf:"domain"`
	LocalRoot   string        `koanf:"local_root"`
	FixtureFile string        `koanf:"fixture_file"`
	BaseLogName string        `koanf:"base_log_name" validate:"required"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	OpTimeout   time.Duration `koanf:"op_timeout"`
}

type SchedulerConfig struct {
	Disabled     bool   `koanf:"disabled"`
	Timezone     string `koanf:"timezone"`
	RealtimeSpec string `koanf:"realtime_spec"`
	HourlySpec   string `koanf:"hourly_spec"`
	DailySpec    string `koanf:"daily_spec"`
}

// ArchiveConfig enables gzip-JSON batch archiving of ingested records to an
// S3-compatible object store. Nil means archiving is off.
type ArchiveConfig struct {
	Endpoint  string `koanf:"endpoint" validate:"required"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket" validate:"required"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

// Load reads configuration from SAMLOG_-prefixed environment variables,
// applies defaults, and validates it once at startup. Configuration is
// never re-read mid-run.
func Load() (*Config, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider("SAMLOG_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "SAMLOG_")), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Primary.Env == "" {
		c.Primary.Env = "development"
	}
	if c.Server.Port == "" {
		c.Server.Port = "3001"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Share.Mode == "" {
		c.Share.Mode = "smb"
	}
	if c.Share.Port == 0 {
		c.Share.Port = 445
	}
	if c.Share.ShareName == "" {
		c.Share.ShareName = "Logs"
	}
	if c.Share.BaseLogName == "" {
		c.Share.BaseLogName = "JieLink_Center_Comm"
	}
	if c.Share.DialTimeout == 0 {
		c.Share.DialTimeout = 30 * time.Second
	}
	if c.Share.OpTimeout == 0 {
		c.Share.OpTimeout = 10 * time.Second
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Asia/Shanghai"
	}
	if c.Scheduler.RealtimeSpec == "" {
		c.Scheduler.RealtimeSpec = "*/15 * * * *"
	}
	if c.Scheduler.HourlySpec == "" {
		c.Scheduler.HourlySpec = "0 * * * *"
	}
	if c.Scheduler.DailySpec == "" {
		c.Scheduler.DailySpec = "0 2 * * *"
	}
}

// DSN builds the Postgres connection string for pgx.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}
