// Package config handles loading and validating the reportd.yaml
// configuration. reportd runs without a file: defaults apply, and the
// environment overrides both.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MinSessionSecretLength is the shortest accepted token signing secret.
const MinSessionSecretLength = 32

// Config represents the top-level reportd.yaml configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	H2C             bool          `yaml:"h2c"` // serve HTTP/2 without TLS behind a proxy
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the Postgres connection string and pool limits.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// StorageConfig holds the S3-compatible image store settings. An empty
// endpoint disables image uploads.
type StorageConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	AccessKey       string        `yaml:"access_key"`
	SecretKey       string        `yaml:"secret_key"`
	Bucket          string        `yaml:"bucket"`
	UseSSL          bool          `yaml:"use_ssl"`
	PublicURL       string        `yaml:"public_url"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	DataTimeout     time.Duration `yaml:"data_timeout"`
}

// SessionConfig controls session tokens and the session cookie.
type SessionConfig struct {
	Secret        string        `yaml:"secret"`
	TTL           time.Duration `yaml:"ttl"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
	CookieName    string        `yaml:"cookie_name"`
	SecureCookie  bool          `yaml:"secure_cookie"`
}

// RateLimitConfig controls the per-IP request limiter.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	LoginPerMinute    int     `yaml:"login_per_minute"`
}

// ReaperConfig controls the background cleanup of sessions and audit rows.
type ReaperConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Schedule       string        `yaml:"schedule"` // 5-field cron expression
	SessionGrace   time.Duration `yaml:"session_grace"`
	AuditRetention time.Duration `yaml:"audit_retention"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Bucket: "post-images",
		},
		Session: SessionConfig{
			TTL:           7 * 24 * time.Hour,
			RefreshWindow: 24 * time.Hour,
			CookieName:    "reportd_session",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 20,
			Burst:             40,
			LoginPerMinute:    10,
		},
		Reaper: ReaperConfig{
			Enabled:        true,
			Schedule:       "*/15 * * * *",
			SessionGrace:   24 * time.Hour,
			AuditRetention: 90 * 24 * time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the config file at path (skipped when empty), applies the
// process environment and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: REPORTD_CONFIG env var > ./reportd.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("REPORTD_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("reportd.yaml"); err == nil {
		return "reportd.yaml"
	}
	return ""
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: must be true or false", name, v))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s=%q: must be a valid Go duration (e.g. 10s, 2m) (%v)", name, v, err))
				return
			}
			*dst = d
		}
	}

	str("DATABASE_URL", &c.Database.URL)

	str("S3_ENDPOINT", &c.Storage.Endpoint)
	str("S3_ACCESS_KEY", &c.Storage.AccessKey)
	str("S3_SECRET_KEY", &c.Storage.SecretKey)
	str("S3_BUCKET", &c.Storage.Bucket)
	boolean("S3_USE_SSL", &c.Storage.UseSSL)
	str("S3_PUBLIC_URL", &c.Storage.PublicURL)
	duration("S3_METADATA_TIMEOUT", &c.Storage.MetadataTimeout)
	duration("S3_DATA_TIMEOUT", &c.Storage.DataTimeout)

	str("SESSION_SECRET", &c.Session.Secret)
	boolean("SESSION_SECURE_COOKIE", &c.Session.SecureCookie)

	// Listen address: REPORTD_LISTEN_ADDR > PORT (legacy) > file/default.
	if v, ok := lookup("REPORTD_LISTEN_ADDR"); ok && v != "" {
		c.Server.ListenAddr = v
	} else if port, ok := lookup("PORT"); ok && port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Errorf("PORT=%q: must be a valid port number", port))
		} else {
			c.Server.ListenAddr = ":" + port
		}
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	boolean("REPORTD_H2C", &c.Server.H2C)
	str("TLS_CERT_FILE", &c.Server.TLSCertFile)
	str("TLS_KEY_FILE", &c.Server.TLSKeyFile)

	// RATE_LIMIT=0 disables limiting; any other number sets requests/second.
	if v, ok := lookup("RATE_LIMIT"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		switch {
		case err != nil || rps < 0:
			errs = append(errs, fmt.Errorf("RATE_LIMIT=%q: must be a non-negative number", v))
		case rps == 0:
			c.RateLimit.Enabled = false
		default:
			c.RateLimit.Enabled = true
			c.RateLimit.RequestsPerSecond = rps
		}
	}

	boolean("REAPER_ENABLED", &c.Reaper.Enabled)
	str("LOG_LEVEL", &c.Log.Level)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// validate checks value formats. Presence of what a command needs is
// checked by RequireServe.
func (c *Config) validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.listen_addr=%q: must be host:port (%v)", c.Server.ListenAddr, err))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server: tls_cert_file and tls_key_file must be set together"))
	}
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil {
			errs = append(errs, fmt.Errorf("database.url: invalid URL (%v)", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errs = append(errs, fmt.Errorf("database.url: scheme must be postgres or postgresql, got %q", u.Scheme))
		}
	}
	if c.Database.MinConns < 0 || c.Database.MaxConns < 0 {
		errs = append(errs, errors.New("database: connection limits must not be negative"))
	}
	if ep := c.Storage.Endpoint; ep != "" {
		if strings.Contains(ep, "://") {
			errs = append(errs, fmt.Errorf("storage.endpoint=%q: must be host[:port] without a scheme", ep))
		} else if _, err := url.Parse("http://" + ep); err != nil {
			errs = append(errs, fmt.Errorf("storage.endpoint=%q: must be a valid endpoint", ep))
		}
	}
	if c.Storage.PublicURL != "" {
		if _, err := url.ParseRequestURI(c.Storage.PublicURL); err != nil {
			errs = append(errs, fmt.Errorf("storage.public_url=%q: must be a valid URL (%v)", c.Storage.PublicURL, err))
		}
	}
	if c.Session.Secret != "" && len(c.Session.Secret) < MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("session.secret: must be at least %d bytes", MinSessionSecretLength))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl: must be positive"))
	}
	if c.Session.RefreshWindow < 0 || c.Session.RefreshWindow >= c.Session.TTL {
		errs = append(errs, errors.New("session.refresh_window: must be between 0 and session.ttl"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
			errs = append(errs, errors.New("rate_limit: requests_per_second and burst must be positive"))
		}
		if c.RateLimit.LoginPerMinute < 0 {
			errs = append(errs, errors.New("rate_limit.login_per_minute: must not be negative"))
		}
	}
	if c.Reaper.Enabled && strings.TrimSpace(c.Reaper.Schedule) == "" {
		errs = append(errs, errors.New("reaper.schedule: required when the reaper is enabled"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, fmt.Errorf("log.level=%q: must be debug, info, warn or error", c.Log.Level))
	}

	return errors.Join(errs...)
}

// RequireServe reports what the serve command needs but is not set.
func (c *Config) RequireServe() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL (database.url) is required"))
	}
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("SESSION_SECRET (session.secret) is required"))
	}
	return errors.Join(errs...)
}

// Warnings lists insecure settings that are fine for local development but
// dangerous in production deployments.
func (c *Config) Warnings() []string {
	var warns []string

	if c.Storage.AccessKey == "minioadmin" || c.Storage.SecretKey == "minioadmin" {
		warns = append(warns, "S3 credentials are set to default values (minioadmin), change these for production deployments")
	}
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		user := u.User.Username()
		pass, _ := u.User.Password()
		if (user == "reportd" && pass == "reportd") || (user == "postgres" && pass == "postgres") {
			warns = append(warns, fmt.Sprintf("database credentials for %q appear to be defaults, change these for production deployments", user))
		}
	}
	host, _, _ := net.SplitHostPort(c.Server.ListenAddr)
	if (host == "" || host == "0.0.0.0" || host == "::") && c.Server.TLSCertFile == "" && !c.Session.SecureCookie {
		warns = append(warns, "listening on all interfaces without TLS or secure cookies, session cookies can travel in clear text")
	}
	return warns
}
