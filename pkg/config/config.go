package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置（同步 outbox 使用），Host 为空表示不启用
type DBConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"sslmode"`
	MaxConns    int32  `yaml:"max_conns"`
	SlowQueryMS int    `yaml:"slow_query_ms"`
}

// Enabled 是否配置了数据库
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// DSN 连接串，用户名和密码会被转义
func (c DBConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}

// SlowQueryThreshold 慢查询阈值，默认 100ms
func (c DBConfig) SlowQueryThreshold() time.Duration {
	if c.SlowQueryMS <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(c.SlowQueryMS) * time.Millisecond
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// CacheTTLSeconds 时间线缓存过期时间
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// CacheTTL 返回缓存 TTL，默认 30 秒
func (c RedisConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// JWTConfig JWT配置
// Secret 为空时只解析 token 的 claims，不校验签名（签名由后端校验）
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// BackendConfig 项目后端 REST API 配置
type BackendConfig struct {
	URL            string `yaml:"url"`
	ServiceToken   string `yaml:"service_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回请求超时，默认 10 秒
func (c BackendConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideBackendFromEnv 从环境变量覆盖后端配置
func OverrideBackendFromEnv(cfg *BackendConfig) {
	if url := os.Getenv("BACKEND_URL"); url != "" {
		cfg.URL = url
	}
	if token := os.Getenv("BACKEND_SERVICE_TOKEN"); token != "" {
		cfg.ServiceToken = token
	}
}
