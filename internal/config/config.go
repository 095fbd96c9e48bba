package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"notifyengine/internal/retry"
	"notifyengine/pkg/config"
)

type AppConfig struct {
	Name     string `yaml:"name"`
	TimeZone string `yaml:"timezone"`
}

// StorageConfig selects the persistence driver: "postgres" or "memory".
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// RulesConfig selects the rule catalog. Source "static" serves File (or the
// built-in defaults); "store" serves the rules table, seeded from File or
// the defaults when Seed is set.
type RulesConfig struct {
	Source string `yaml:"source"`
	File   string `yaml:"file"`
	Seed   bool   `yaml:"seed"`
}

type DedupConfig struct {
	Driver     string        `yaml:"driver"`
	TTLFloor   time.Duration `yaml:"ttl_floor"`
	MaxEntries int           `yaml:"max_entries"`
}

type DispatcherConfig struct {
	Interval     time.Duration `yaml:"interval"`
	BatchSize    int           `yaml:"batch_size"`
	Workers      int           `yaml:"workers"`
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// PushConfig selects the transport: "http" posts to Endpoint, "log" only
// logs.
type PushConfig struct {
	Driver     string        `yaml:"driver"`
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	RatePerSec int           `yaml:"rate_per_sec"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

type InactivityConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Threshold time.Duration `yaml:"threshold"`
	Schedule  string        `yaml:"schedule"`
	BatchSize int           `yaml:"batch_size"`
}

type MirrorConfig struct {
	Enabled bool `yaml:"enabled"`
	Buffer  int  `yaml:"buffer"`
}

type ConsumerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	QueuePrefix string `yaml:"queue_prefix"`
	Prefetch    int    `yaml:"prefetch"`
}

// HousekeepingConfig holds cron specs for the worker's periodic jobs.
type HousekeepingConfig struct {
	SweepSchedule        string `yaml:"sweep_schedule"`
	DedupCleanupSchedule string `yaml:"dedup_cleanup_schedule"`
}

type Config struct {
	Server       config.ServerConfig `yaml:"server"`
	DB           config.DBConfig     `yaml:"db"`
	Redis        config.RedisConfig  `yaml:"redis"`
	MQ           config.MQConfig     `yaml:"mq"`
	JWT          config.JWTConfig    `yaml:"jwt"`
	Log          config.LogConfig    `yaml:"log"`
	App          AppConfig           `yaml:"app"`
	Storage      StorageConfig       `yaml:"storage"`
	Rules        RulesConfig         `yaml:"rules"`
	Dedup        DedupConfig         `yaml:"dedup"`
	Dispatcher   DispatcherConfig    `yaml:"dispatcher"`
	Retry        retry.Policy        `yaml:"retry"`
	Push         PushConfig          `yaml:"push"`
	Inactivity   InactivityConfig    `yaml:"inactivity"`
	Mirror       MirrorConfig        `yaml:"mirror"`
	Consumers    ConsumerConfig      `yaml:"consumers"`
	Housekeeping HousekeepingConfig  `yaml:"housekeeping"`
}

// Load reads CONFIG_DIR (default "config") for CONFIG_ENV, applies
// environment overrides and fills defaults.
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideLogFromEnv(&cfg.Log)
	overrideFromEnv(&cfg)

	cfg.ApplyDefaults()
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if driver := os.Getenv("STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if driver := os.Getenv("PUSH_DRIVER"); driver != "" {
		cfg.Push.Driver = driver
	}
	if endpoint := os.Getenv("PUSH_ENDPOINT"); endpoint != "" {
		cfg.Push.Endpoint = endpoint
	}
	if key := os.Getenv("PUSH_API_KEY"); key != "" {
		cfg.Push.APIKey = key
	}
	if rps := os.Getenv("PUSH_RATE_PER_SEC"); rps != "" {
		if n, err := strconv.Atoi(rps); err == nil {
			cfg.Push.RatePerSec = n
		}
	}
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.Port, ":8080")
	setString(&c.App.Name, "Mindful")
	setString(&c.App.TimeZone, "UTC")
	setString(&c.Log.Level, "info")
	setString(&c.Storage.Driver, "postgres")
	setString(&c.Rules.Source, "static")
	setString(&c.Dedup.Driver, "redis")
	setDuration(&c.Dedup.TTLFloor, time.Hour)
	setInt(&c.Dedup.MaxEntries, 100_000)

	setDuration(&c.Dispatcher.Interval, 15*time.Second)
	setInt(&c.Dispatcher.BatchSize, 100)
	setInt(&c.Dispatcher.Workers, 8)
	setDuration(&c.Dispatcher.ClaimTimeout, 5*time.Minute)

	def := retry.DefaultPolicy()
	setInt(&c.Retry.MaxAttempts, def.MaxAttempts)
	setDuration(&c.Retry.BaseDelay, def.BaseDelay)
	setDuration(&c.Retry.MaxDelay, def.MaxDelay)
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = def.Jitter
	}

	setString(&c.Push.Driver, "log")
	setDuration(&c.Push.Timeout, 10*time.Second)
	setInt(&c.Push.RatePerSec, 20)
	setInt(&c.Push.Breaker.FailureThreshold, 5)
	setInt(&c.Push.Breaker.SuccessThreshold, 2)
	setDuration(&c.Push.Breaker.Timeout, 30*time.Second)

	setDuration(&c.Inactivity.Threshold, 7*24*time.Hour)
	setString(&c.Inactivity.Schedule, "0 10 * * *")
	setInt(&c.Inactivity.BatchSize, 500)

	setInt(&c.Mirror.Buffer, 1024)
	setString(&c.Consumers.QueuePrefix, "notify")
	setInt(&c.Consumers.Prefetch, 10)

	setString(&c.Housekeeping.SweepSchedule, "@every 1m")
	setString(&c.Housekeeping.DedupCleanupSchedule, "@every 10m")
}

// Location resolves App.TimeZone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}
