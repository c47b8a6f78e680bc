// Package config loads querygate configuration from an optional YAML file
// and environment variables. The default database URL is kept unexported
// and only ever leaves this package as a parsed, masked db.DataSource.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SedlarDavid/querygate/internal/db"
	"github.com/SedlarDavid/querygate/internal/logging"
)

// Env var names. QUERYGATE_DATABASE_URL wins over DATABASE_URL.
const (
	EnvConfigFile      = "QUERYGATE_CONFIG"
	EnvDatabaseURL     = "QUERYGATE_DATABASE_URL"
	EnvFallbackURL     = "DATABASE_URL"
	EnvDefaultRowLimit = "QUERYGATE_DEFAULT_ROW_LIMIT"
	EnvMaxRowLimit     = "QUERYGATE_MAX_ROW_LIMIT"
	EnvQueryTimeout    = "QUERYGATE_QUERY_TIMEOUT"
	EnvLogLevel        = "QUERYGATE_LOG_LEVEL"
	EnvLogFile         = "QUERYGATE_LOG_FILE"
	EnvUploadDir       = "QUERYGATE_UPLOAD_DIR"
)

// Config file path: ~/.querygate/config.yaml
const (
	DefaultConfigDir = ".querygate"
	ConfigFileName   = "config.yaml"
)

// Defaults.
const (
	DefaultRowLimit     = 50
	DefaultMaxRowLimit  = 500
	DefaultQueryTimeout = 30 * time.Second
	DefaultUploadDir    = "uploaded_db_files"
)

// Pool sizes the connection pool of each attached database.
type Pool struct {
	MaxOpen     int           `yaml:"max_open"`
	MaxIdle     int           `yaml:"max_idle"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// Log configures the zap logger.
type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config holds everything but the database URL in exported fields.
type Config struct {
	DefaultRowLimit int           `yaml:"default_row_limit"`
	MaxRowLimit     int           `yaml:"max_row_limit"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Pool            Pool          `yaml:"pool"`
	UploadDir       string        `yaml:"upload_dir"`
	Log             Log           `yaml:"log"`

	databaseURL string
}

type fileFormat struct {
	Config      `yaml:",inline"`
	DatabaseURL string `yaml:"database_url"`
}

// Default returns a Config with every default applied and no database.
func Default() *Config {
	return &Config{
		DefaultRowLimit: DefaultRowLimit,
		MaxRowLimit:     DefaultMaxRowLimit,
		QueryTimeout:    DefaultQueryTimeout,
		Pool: Pool{
			MaxOpen:     10,
			MaxIdle:     2,
			MaxLifetime: 30 * time.Minute,
		},
		UploadDir: DefaultUploadDir,
	}
}

// Load reads QUERYGATE_CONFIG or, if present, ~/.querygate/config.yaml and
// then applies environment overrides.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		p, err := configFilePath()
		if err != nil {
			return nil, fmt.Errorf("config path: %w", err)
		}
		path = p
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	c := Default()
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func configFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	p := filepath.Join(home, DefaultConfigDir, ConfigFileName)
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f := fileFormat{Config: *c}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	*c = f.Config
	c.databaseURL = f.DatabaseURL
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.databaseURL = v
	} else if v := os.Getenv(EnvFallbackURL); v != "" {
		c.databaseURL = v
	}
	if err := envInt(EnvDefaultRowLimit, &c.DefaultRowLimit); err != nil {
		return err
	}
	if err := envInt(EnvMaxRowLimit, &c.MaxRowLimit); err != nil {
		return err
	}
	if v := os.Getenv(EnvQueryTimeout); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvQueryTimeout, err)
		}
		c.QueryTimeout = d
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv(EnvUploadDir); v != "" {
		c.UploadDir = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

// parseTimeout accepts a Go duration ("45s") or a bare number of seconds.
func parseTimeout(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks limits and the timeout. The database URL is parsed too so
// a malformed value fails at startup rather than at first attach.
func (c *Config) Validate() error {
	switch {
	case c.DefaultRowLimit <= 0:
		return errors.New("default_row_limit must be positive")
	case c.MaxRowLimit <= 0:
		return errors.New("max_row_limit must be positive")
	case c.DefaultRowLimit > c.MaxRowLimit:
		return fmt.Errorf("default_row_limit %d exceeds max_row_limit %d", c.DefaultRowLimit, c.MaxRowLimit)
	case c.QueryTimeout <= 0:
		return errors.New("query_timeout must be positive")
	}
	if _, err := c.DefaultSource(); err != nil {
		return err
	}
	return nil
}

// HasDatabase reports whether a default database URL is configured.
func (c *Config) HasDatabase() bool { return c.databaseURL != "" }

// DefaultSource parses the configured database URL. It returns a zero
// DataSource when none is configured.
func (c *Config) DefaultSource() (db.DataSource, error) {
	if c.databaseURL == "" {
		return db.DataSource{}, nil
	}
	src, err := db.ParseURL(c.databaseURL)
	if err != nil {
		return db.DataSource{}, fmt.Errorf("database_url: %w", err)
	}
	return src, nil
}

// PoolOptions converts Pool for the db layer.
func (c *Config) PoolOptions() db.PoolOptions {
	return db.PoolOptions{
		MaxOpen:     c.Pool.MaxOpen,
		MaxIdle:     c.Pool.MaxIdle,
		MaxLifetime: c.Pool.MaxLifetime,
	}
}

// LogOptions converts Log for the logging package.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
