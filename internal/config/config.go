package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Accounts  AccountsConfig  `yaml:"accounts"`
	Vault     VaultConfig     `yaml:"vault"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// AuthConfig controls gateway API-key authentication. Keys are looked up by
// SHA-256 hash, first in StaticKeyHashes, then in Postgres.
type AuthConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Environment     string   `yaml:"environment"`
	StaticKeyHashes []string `yaml:"static_key_hashes"`
}

type RateLimitConfig struct {
	Enabled    bool `yaml:"enabled"`
	DefaultRPM int  `yaml:"default_rpm"`
}

type UpstreamConfig struct {
	Endpoints      []EndpointConfig     `yaml:"endpoints"`
	ClientVersion  string               `yaml:"client_version"`
	Timeout        time.Duration        `yaml:"timeout"`
	StreamTimeout  time.Duration        `yaml:"stream_timeout"`
	MaxAttempts    int                  `yaml:"max_attempts"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type EndpointConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type AccountsConfig struct {
	// Store is "postgres" or "memory".
	Store         string        `yaml:"store"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
	Cooldown      time.Duration `yaml:"cooldown"`
	OAuth         OAuthConfig   `yaml:"oauth"`
}

type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
}

type VaultConfig struct {
	Service string `yaml:"service"`
	Dir     string `yaml:"dir"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8045,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "antigravity",
			User:            "antigravity",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Auth: AuthConfig{
			Enabled:     true,
			Environment: "dev",
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			DefaultRPM: 60,
		},
		Upstream: UpstreamConfig{
			Endpoints: []EndpointConfig{
				{Name: "prod", BaseURL: "https://cloudcode-pa.googleapis.com"},
				{Name: "daily", BaseURL: "https://daily-cloudcode-pa.googleapis.com"},
			},
			ClientVersion: "1.11.5",
			Timeout:       2 * time.Minute,
			StreamTimeout: 10 * time.Minute,
			MaxAttempts:   3,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Accounts: AccountsConfig{
			Store:         "postgres",
			RefreshWindow: 5 * time.Minute,
			Cooldown:      5 * time.Minute,
			OAuth: OAuthConfig{
				TokenURL: "https://oauth2.googleapis.com/token",
			},
		},
		Vault: VaultConfig{
			Service: "Antigravity Gateway",
			Dir:     ".antigravity",
		},
	}
}
