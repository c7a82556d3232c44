package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig
	DB      DBConfig
	Redis   RedisConfig
	NATS    NATSConfig
	JWT     JWTConfig
	LLM     LLMConfig
	Limits  LimitsConfig
	Session SessionConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// LLMConfig configures the upstream chat-completions service.
type LLMConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	MaxResponseTokens int
	Temperature       float64
	Timeout           time.Duration
}

// LimitsConfig holds the quota tiers. The 24h windows are fixed policy;
// only the tier sizes are tunable.
type LimitsConfig struct {
	StandardRequests int
	StandardTokens   int
	AdminRequests    int
	AdminTokens      int
	AuthMaxAttempts  int
	AuthWindowSec    int
}

type SessionConfig struct {
	TTL          time.Duration
	HistoryTurns int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		JWT: JWTConfig{
			AccessSecret:  k.String("jwt.access.secret"),
			RefreshSecret: k.String("jwt.refresh.secret"),
		},
		LLM: LLMConfig{
			BaseURL: k.String("llm.base.url"),
			APIKey:  k.String("llm.api.key"),
			Model:   k.String("llm.model"),
		},
		Limits: LimitsConfig{
			StandardRequests: k.Int("limits.standard.requests"),
			StandardTokens:   k.Int("limits.standard.tokens"),
			AdminRequests:    k.Int("limits.admin.requests"),
			AdminTokens:      k.Int("limits.admin.tokens"),
			AuthMaxAttempts:  k.Int("limits.auth.attempts"),
			AuthWindowSec:    k.Int("limits.auth.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if origins := k.String("server.cors.origins"); origins != "" {
		cfg.Server.CORSOrigins = strings.Split(origins, ",")
	} else {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "senpai"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "senpai"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	cfg.LLM.MaxResponseTokens = k.Int("llm.max.response.tokens")
	if cfg.LLM.MaxResponseTokens == 0 {
		cfg.LLM.MaxResponseTokens = 300
	}
	cfg.LLM.Temperature = k.Float64("llm.temperature")
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.8
	}
	if cfg.Limits.StandardRequests == 0 {
		cfg.Limits.StandardRequests = 20
	}
	if cfg.Limits.StandardTokens == 0 {
		cfg.Limits.StandardTokens = 2000
	}
	if cfg.Limits.AdminRequests == 0 {
		cfg.Limits.AdminRequests = 1000
	}
	if cfg.Limits.AdminTokens == 0 {
		cfg.Limits.AdminTokens = 10000
	}
	if cfg.Limits.AuthMaxAttempts == 0 {
		cfg.Limits.AuthMaxAttempts = 10
	}
	if cfg.Limits.AuthWindowSec == 0 {
		cfg.Limits.AuthWindowSec = 900
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	accessExpStr := k.String("jwt.access.expiry")
	if accessExpStr == "" {
		accessExpStr = "15m"
	}
	cfg.JWT.AccessExpiry, err = time.ParseDuration(accessExpStr)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt access expiry: %w", err)
	}

	refreshExpStr := k.String("jwt.refresh.expiry")
	if refreshExpStr == "" {
		refreshExpStr = "168h"
	}
	cfg.JWT.RefreshExpiry, err = time.ParseDuration(refreshExpStr)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt refresh expiry: %w", err)
	}

	llmTimeoutStr := k.String("llm.timeout")
	if llmTimeoutStr == "" {
		llmTimeoutStr = "30s"
	}
	cfg.LLM.Timeout, err = time.ParseDuration(llmTimeoutStr)
	if err != nil {
		return nil, fmt.Errorf("parsing llm timeout: %w", err)
	}

	sessionTTLStr := k.String("session.ttl")
	if sessionTTLStr == "" {
		sessionTTLStr = "24h"
	}
	cfg.Session.TTL, err = time.ParseDuration(sessionTTLStr)
	if err != nil {
		return nil, fmt.Errorf("parsing session ttl: %w", err)
	}
	cfg.Session.HistoryTurns = k.Int("session.history.turns")
	if cfg.Session.HistoryTurns == 0 {
		cfg.Session.HistoryTurns = 5
	}

	return cfg, nil
}
