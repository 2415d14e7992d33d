// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

// Package config loads and validates CommGuard configuration.
package config

import (
	"time"

	"github.com/samber/oops"

	"github.com/commguard/commguard/internal/audit"
	"github.com/commguard/commguard/internal/auth"
	"github.com/commguard/commguard/internal/notify"
	"github.com/commguard/commguard/internal/store"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the complete CommGuard configuration. It is not modified after Load.
type Config struct {
	Log      LogConfig      `koanf:"log" json:"log" yaml:"log"`
	Database DatabaseConfig `koanf:"database" json:"database" yaml:"database"`
	Password PasswordConfig `koanf:"password" json:"password" yaml:"password"`
	Hashing  HashingConfig  `koanf:"hashing" json:"hashing" yaml:"hashing"`
	Lockout  LockoutConfig  `koanf:"lockout" json:"lockout" yaml:"lockout"`
	Session  SessionConfig  `koanf:"session" json:"session" yaml:"session"`
	Reset    ResetConfig    `koanf:"reset" json:"reset" yaml:"reset"`
	SMTP     SMTPConfig     `koanf:"smtp" json:"smtp" yaml:"smtp"`
	Audit    AuditConfig    `koanf:"audit" json:"audit" yaml:"audit"`
	Metrics  MetricsConfig  `koanf:"metrics" json:"metrics" yaml:"metrics"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Format string `koanf:"format" json:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig selects the credential store.
type DatabaseConfig struct {
	Store           string        `koanf:"store" json:"store" yaml:"store" jsonschema:"enum=memory,enum=postgres"`
	URL             string        `koanf:"url" json:"url,omitempty" yaml:"url,omitempty"`
	MaxConns        int32         `koanf:"max_conns" json:"max_conns" yaml:"max_conns" jsonschema:"minimum=0"`
	MaxRetries      int           `koanf:"max_retries" json:"max_retries" yaml:"max_retries" jsonschema:"minimum=0"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime" json:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// PasswordConfig is the password policy.
type PasswordConfig struct {
	MinLength      int      `koanf:"min_length" json:"min_length" yaml:"min_length" jsonschema:"minimum=1"`
	RequireUpper   bool     `koanf:"require_upper" json:"require_upper" yaml:"require_upper"`
	RequireLower   bool     `koanf:"require_lower" json:"require_lower" yaml:"require_lower"`
	RequireDigit   bool     `koanf:"require_digit" json:"require_digit" yaml:"require_digit"`
	RequireSpecial bool     `koanf:"require_special" json:"require_special" yaml:"require_special"`
	BlockedWords   []string `koanf:"blocked_words" json:"blocked_words" yaml:"blocked_words"`
	HistorySize    int      `koanf:"history_size" json:"history_size" yaml:"history_size" jsonschema:"minimum=0"`
}

// HashingConfig selects the key-derivation function for new credentials.
type HashingConfig struct {
	Algorithm  string `koanf:"algorithm" json:"algorithm" yaml:"algorithm" jsonschema:"enum=pbkdf2-sha256,enum=pbkdf2-sha512,enum=pbkdf2-sha1,enum=argon2id"`
	Iterations int    `koanf:"iterations" json:"iterations" yaml:"iterations" jsonschema:"minimum=1"`
	SaltLength int    `koanf:"salt_length" json:"salt_length" yaml:"salt_length" jsonschema:"minimum=8"`
}

// LockoutConfig sets the consecutive-failure threshold.
type LockoutConfig struct {
	Threshold int `koanf:"threshold" json:"threshold" yaml:"threshold" jsonschema:"minimum=1"`
}

// SessionConfig sets the concurrent-session policy.
type SessionConfig struct {
	Policy string `koanf:"policy" json:"policy" yaml:"policy" jsonschema:"enum=replace,enum=reject"`
}

// ResetConfig tunes password reset requests.
type ResetConfig struct {
	ConcealUnknownEmail bool `koanf:"conceal_unknown_email" json:"conceal_unknown_email" yaml:"conceal_unknown_email"`
}

// SMTPConfig configures reset email delivery. An empty host logs messages instead.
type SMTPConfig struct {
	Host     string        `koanf:"host" json:"host,omitempty" yaml:"host,omitempty"`
	Port     int           `koanf:"port" json:"port" yaml:"port" jsonschema:"minimum=0,maximum=65535"`
	Username string        `koanf:"username" json:"username,omitempty" yaml:"username,omitempty"`
	Password string        `koanf:"password" json:"password,omitempty" yaml:"password,omitempty"` //nolint:gosec // redacted by Redacted
	From     string        `koanf:"from" json:"from,omitempty" yaml:"from,omitempty"`
	Timeout  time.Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
}

// AuditConfig tunes the asynchronous audit dispatcher.
type AuditConfig struct {
	BufferSize    int           `koanf:"buffer_size" json:"buffer_size" yaml:"buffer_size" jsonschema:"minimum=1"`
	BatchSize     int           `koanf:"batch_size" json:"batch_size" yaml:"batch_size" jsonschema:"minimum=1"`
	FlushInterval time.Duration `koanf:"flush_interval" json:"flush_interval" yaml:"flush_interval"`
	WALPath       string        `koanf:"wal_path" json:"wal_path,omitempty" yaml:"wal_path,omitempty"`
}

// MetricsConfig sets the metrics and health listener. Empty disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	policy := auth.DefaultPolicyConfig()
	hash := auth.DefaultHashParams()
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			Store:           StorePostgres,
			MaxConns:        10,
			MaxRetries:      3,
			ConnectTimeout:  5 * time.Second,
			MaxConnLifetime: time.Hour,
		},
		Password: PasswordConfig{
			MinLength:      policy.MinLength,
			RequireUpper:   policy.RequireUpper,
			RequireLower:   policy.RequireLower,
			RequireDigit:   policy.RequireDigit,
			RequireSpecial: policy.RequireSpecial,
			BlockedWords:   policy.BlockedWords,
			HistorySize:    auth.DefaultHistorySize,
		},
		Hashing: HashingConfig{
			Algorithm:  hash.Algorithm,
			Iterations: hash.Iterations,
			SaltLength: hash.SaltLength,
		},
		Lockout: LockoutConfig{Threshold: auth.DefaultLockoutThreshold},
		Session: SessionConfig{Policy: string(auth.SessionReplace)},
		SMTP:    SMTPConfig{Port: notify.DefaultSMTPPort, Timeout: notify.DefaultTimeout},
		Audit: AuditConfig{
			BufferSize:    audit.DefaultBufferSize,
			BatchSize:     audit.DefaultBatchSize,
			FlushInterval: audit.DefaultFlushInterval,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
	}
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "unknown log level %q", c.Log.Level)
	}

	switch c.Database.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "database.url is required for the postgres store")
		}
	default:
		return invalid("database.store", "database.store must be 'memory' or 'postgres', got %q", c.Database.Store)
	}
	if c.Database.MaxConns < 0 || c.Database.MaxRetries < 0 {
		return invalid("database", "database pool sizes and retries cannot be negative")
	}

	if c.Password.MinLength < 1 {
		return invalid("password.min_length", "password.min_length must be at least 1")
	}
	if c.Password.HistorySize < 0 {
		return invalid("password.history_size", "password.history_size cannot be negative")
	}
	if err := c.HashParams().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "hashing").Wrap(err)
	}
	if c.Lockout.Threshold < 1 {
		return invalid("lockout.threshold", "lockout.threshold must be at least 1")
	}
	if _, err := auth.ParseSessionPolicy(c.Session.Policy); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "session.policy").Wrap(err)
	}

	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		return invalid("smtp.port", "smtp.port out of range: %d", c.SMTP.Port)
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return invalid("smtp.from", "smtp.from is required when smtp.host is set")
	}

	if c.Audit.BufferSize < 1 || c.Audit.BatchSize < 1 {
		return invalid("audit", "audit buffer_size and batch_size must be at least 1")
	}
	if c.Audit.FlushInterval <= 0 {
		return invalid("audit.flush_interval", "audit.flush_interval must be positive")
	}
	return nil
}

// AuthOptions maps the configuration onto service options.
func (c *Config) AuthOptions() (auth.Options, error) {
	policy, err := auth.ParseSessionPolicy(c.Session.Policy)
	if err != nil {
		return auth.Options{}, err
	}
	return auth.Options{
		Policy: auth.PolicyConfig{
			MinLength:      c.Password.MinLength,
			RequireUpper:   c.Password.RequireUpper,
			RequireLower:   c.Password.RequireLower,
			RequireDigit:   c.Password.RequireDigit,
			RequireSpecial: c.Password.RequireSpecial,
			BlockedWords:   c.Password.BlockedWords,
		},
		LockoutThreshold:    c.Lockout.Threshold,
		HistorySize:         c.Password.HistorySize,
		SessionPolicy:       policy,
		ConcealUnknownEmail: c.Reset.ConcealUnknownEmail,
	}, nil
}

// HashParams returns the hashing parameters.
func (c *Config) HashParams() auth.HashParams {
	return auth.HashParams{
		Algorithm:  c.Hashing.Algorithm,
		Iterations: c.Hashing.Iterations,
		SaltLength: c.Hashing.SaltLength,
	}
}

// PoolOptions returns the connection pool options.
func (c *Config) PoolOptions() store.PoolOptions {
	return store.PoolOptions{
		MaxConns:        c.Database.MaxConns,
		MaxConnLifetime: c.Database.MaxConnLifetime,
		ConnectTimeout:  c.Database.ConnectTimeout,
	}
}

// AuditDispatcherConfig returns the audit dispatcher settings.
func (c *Config) AuditDispatcherConfig() audit.Config {
	return audit.Config{
		BufferSize:    c.Audit.BufferSize,
		BatchSize:     c.Audit.BatchSize,
		FlushInterval: c.Audit.FlushInterval,
		WALPath:       c.Audit.WALPath,
	}
}

// SMTPNotifierConfig returns the SMTP settings.
func (c *Config) SMTPNotifierConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		Timeout:  c.SMTP.Timeout,
	}
}

const redacted = "********"

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.SMTP.Password != "" {
		c.SMTP.Password = redacted
	}
	if c.Database.URL != "" {
		c.Database.URL = redactURL(c.Database.URL)
	}
	c.Password.BlockedWords = append([]string(nil), c.Password.BlockedWords...)
	return c
}
