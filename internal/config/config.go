// Package config loads shopctl settings from a YAML file, an optional .env file
// and SHOPAUTH_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store types
const (
	StoreMemory    = "memory"
	StoreFS        = "fs"
	StoreBBolt     = "bbolt"
	StoreRedis     = "redis"
	StoreSQLite    = "sqlite"
	StoreDatastore = "datastore"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "SHOPAUTH_"

// Config is the full shopctl configuration
type Config struct {
	BaseURL       string        `yaml:"base_url"`
	TokenEndpoint string        `yaml:"token_endpoint"`
	ClientID      string        `yaml:"client_id"`
	ClientSecret  string        `yaml:"client_secret"`
	Timeout       time.Duration `yaml:"timeout"`

	// Session expiry policy
	RefreshWindow    time.Duration `yaml:"refresh_window"`
	FailureThreshold int           `yaml:"failure_threshold"`

	DisablePasswordGrant bool   `yaml:"disable_password_grant"`
	LogLevel             string `yaml:"log_level"`

	Store  StoreConfig  `yaml:"store"`
	Server ServerConfig `yaml:"server"`
}

// StoreConfig selects where credentials are persisted
type StoreConfig struct {
	Type string `yaml:"type"`

	// Path is the file for fs, bbolt and sqlite stores
	Path string `yaml:"path"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username,omitempty"`
		Password string        `yaml:"password,omitempty"`
		DB       int           `yaml:"db,omitempty"`
		Prefix   string        `yaml:"prefix,omitempty"`
		TTL      time.Duration `yaml:"ttl,omitempty"`
	} `yaml:"redis"`

	Datastore struct {
		ProjectID string `yaml:"project_id"`
		Namespace string `yaml:"namespace,omitempty"`
	} `yaml:"datastore"`
}

// ServerConfig configures `shopctl serve`
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	GRPCAddr         string `yaml:"grpc_addr"`
	JWTSecretKey     string `yaml:"jwt_secret_key"`
	PasswordGrant    bool   `yaml:"password_grant"`
	LoginIssuesToken bool   `yaml:"login_issues_token"`
	RequireOTP       bool   `yaml:"require_otp"`
}

// Loader reads configuration. The zero value is not usable; use NewLoader.
type Loader struct {
	useDotEnv bool
	dotEnv    string
	path      string
	getenv    func(string) string
}

// NewLoader creates a loader reading path, or DefaultPath when path is empty
func NewLoader(path string) *Loader {
	return &Loader{
		useDotEnv: true,
		dotEnv:    ".env",
		path:      path,
		getenv:    os.Getenv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithEnv overrides the environment lookup (useful for tests)
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	if getenv != nil {
		l.getenv = getenv
	}
	return l
}

// DefaultPath is ~/.config/shopauth/config.yaml
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "shopauth.yaml"
	}
	return filepath.Join(dir, "shopauth", "config.yaml")
}

// Load reads the YAML file if it exists, applies environment overrides and
// fills defaults. An explicitly named file that does not exist is an error.
func (l *Loader) Load() (*Config, error) {
	if l.useDotEnv {
		if err := godotenv.Load(l.dotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", l.dotEnv, err)
		}
	}

	cfg := &Config{}
	path := l.path
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && l.path == "":
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnv(l.getenv); err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is NewLoader(path).Load()
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + name)); v != "" {
			*dst = v
		}
	}
	str("BASE_URL", &c.BaseURL)
	str("TOKEN_ENDPOINT", &c.TokenEndpoint)
	str("CLIENT_ID", &c.ClientID)
	str("CLIENT_SECRET", &c.ClientSecret)
	str("LOG_LEVEL", &c.LogLevel)
	str("STORE", &c.Store.Type)
	str("STORE_PATH", &c.Store.Path)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	str("DATASTORE_PROJECT", &c.Store.Datastore.ProjectID)
	str("SERVER_ADDR", &c.Server.Addr)
	str("GRPC_ADDR", &c.Server.GRPCAddr)
	str("JWT_SECRET_KEY", &c.Server.JWTSecretKey)

	if v := getenv(EnvPrefix + "TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sTIMEOUT: %w", EnvPrefix, err)
		}
		c.Timeout = d
	}
	if v := getenv(EnvPrefix + "DISABLE_PASSWORD_GRANT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDISABLE_PASSWORD_GRANT: %w", EnvPrefix, err)
		}
		c.DisablePasswordGrant = b
	}
	return nil
}

// EnsureDefaults fills unset fields
func (c *Config) EnsureDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = "/oauth/token"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RefreshWindow <= 0 {
		c.RefreshWindow = 5 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 2
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreFS
	}
	if c.Store.Path == "" {
		switch c.Store.Type {
		case StoreBBolt:
			c.Store.Path = filepath.Join(filepath.Dir(DefaultPath()), "credentials.db")
		case StoreSQLite:
			c.Store.Path = filepath.Join(filepath.Dir(DefaultPath()), "credentials.sqlite")
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// Validate reports settings that cannot work
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory, StoreFS, StoreBBolt, StoreSQLite:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis store")
		}
	case StoreDatastore:
		if c.Store.Datastore.ProjectID == "" {
			return fmt.Errorf("store.datastore.project_id is required for the datastore store")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to warn
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn
	}
	return level
}
