package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"timelineboard/internal/timeline"
	"timelineboard/pkg/config"

	"gopkg.in/yaml.v3"
)

// OutboxConfig 同步 outbox 的调度参数
type OutboxConfig struct {
	MaxRetries      int `yaml:"max_retries"`
	IntervalSeconds int `yaml:"interval_seconds"`
	BatchSize       int `yaml:"batch_size"`
}

// Interval 扫描间隔，默认 2 秒
func (c OutboxConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

type Config struct {
	Debug           bool                  `yaml:"debug"`
	DB              config.DBConfig       `yaml:"db"`
	MQ              config.MQConfig       `yaml:"mq"`
	Redis           config.RedisConfig    `yaml:"redis"`
	JWT             config.JWTConfig      `yaml:"jwt"`
	Server          config.ServerConfig   `yaml:"server"`
	Backend         config.BackendConfig  `yaml:"backend"`
	OTel            config.OTelConfig     `yaml:"otel"`
	Layout          timeline.LayoutConfig `yaml:"layout"`
	Outbox          OutboxConfig          `yaml:"outbox"`
	DedupTTLSeconds int                   `yaml:"dedup_ttl_seconds"`
	ViewIdleSeconds int                   `yaml:"view_idle_seconds"`
}

// DedupTTL 去重 key 的最长持有时间，默认 3 秒
func (c *Config) DedupTTL() time.Duration {
	if c.DedupTTLSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

// ViewIdleTTL 内存列表空闲多久后回收，默认 10 分钟
func (c *Config) ViewIdleTTL() time.Duration {
	if c.ViewIdleSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.ViewIdleSeconds) * time.Second
}

// Load 读取配置：path 是目录时按 base.yaml/<CONFIG_ENV>.yaml 分层加载，否则读取单个文件
func Load(path string) (*Config, error) {
	var cfg Config

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if info.IsDir() {
		if err := config.LoadLayered(config.GetConfigEnv(), path, &cfg); err != nil {
			return nil, err
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	// 环境变量覆盖（生产环境使用）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideBackendFromEnv(&cfg.Backend)
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.OTel.Endpoint = endpoint
		cfg.OTel.Enabled = true
	}
	if debug := os.Getenv("DEBUG"); debug != "" {
		if v, err := strconv.ParseBool(debug); err == nil {
			cfg.Debug = v
		}
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Backend.URL == "" {
		return nil, fmt.Errorf("backend.url is required")
	}
	return &cfg, nil
}
