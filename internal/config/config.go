// Package config handles loading and managing imsgtext configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wesm/imsgtext/internal/attrbody"
	"github.com/wesm/imsgtext/internal/fileutil"
)

// Config represents the imsgtext configuration.
type Config struct {
	Data     DataConfig     `toml:"data"`
	Resolver ResolverConfig `toml:"resolver"`
	Import   ImportConfig   `toml:"import"`
	Cache    CacheConfig    `toml:"cache"`
	Server   ServerConfig   `toml:"server"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
	ChatDB  string `toml:"chat_db"` // Messages database to import from
}

// ResolverConfig holds the garbage-rejection policy applied to text
// recovered from attributedBody payloads.
type ResolverConfig struct {
	ExpectedScripts []string `toml:"expected_scripts"` // Unicode script names, e.g. "Latin", "Han"
	MaxForeignRatio float64  `toml:"max_foreign_ratio"`
	MaxInvalidRatio float64  `toml:"max_invalid_ratio"`
	MinLetters      int      `toml:"min_letters"`
}

// ImportConfig holds import pipeline tuning.
type ImportConfig struct {
	Workers   int    `toml:"workers"`    // concurrent resolvers per batch
	BatchSize int    `toml:"batch_size"` // messages read and written per transaction
	Schedule  string `toml:"schedule"`   // cron expression for serve; empty disables
}

// CacheConfig holds the optional Redis resolve cache.
type CacheConfig struct {
	RedisURL string `toml:"redis_url"` // empty disables the cache
	TTL      string `toml:"ttl"`       // Go duration, e.g. "720h"
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort      int    `toml:"api_port"`       // HTTP server port (default: 8080)
	BindAddr     string `toml:"bind_addr"`      // Interface to listen on (default: 127.0.0.1)
	APIKey       string `toml:"api_key"`        // API authentication key
	MaxBodyBytes int64  `toml:"max_body_bytes"` // Request body limit

	CORSOrigins []string `toml:"cors_origins"` // Allowed browser origins (empty = CORS disabled)
}

const (
	defaultBatchSize    = 1000
	defaultCacheTTL     = "720h"
	defaultAPIPort      = 8080
	defaultBindAddr     = "127.0.0.1"
	defaultMaxBodyBytes = 1 << 20
)

// DefaultHome returns the default imsgtext home directory.
// Respects IMSGTEXT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("IMSGTEXT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".imsgtext"
	}
	return filepath.Join(home, ".imsgtext")
}

// defaultChatDB is where Messages keeps its database on macOS.
func defaultChatDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Messages", "chat.db")
}

// NewDefaultConfig returns a configuration with default values rooted at
// DefaultHome.
func NewDefaultConfig() *Config {
	return newDefaultConfig(DefaultHome())
}

func newDefaultConfig(homeDir string) *Config {
	policy := attrbody.DefaultPolicy()
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
			ChatDB:  defaultChatDB(),
		},
		Resolver: ResolverConfig{
			ExpectedScripts: policy.ExpectedScripts,
			MaxForeignRatio: policy.MaxForeignRatio,
			MaxInvalidRatio: policy.MaxInvalidRatio,
			MinLetters:      policy.MinLetters,
		},
		Import: ImportConfig{
			Workers:   runtime.NumCPU(),
			BatchSize: defaultBatchSize,
		},
		Cache: CacheConfig{
			TTL: defaultCacheTTL,
		},
		Server: ServerConfig{
			APIPort:      defaultAPIPort,
			BindAddr:     defaultBindAddr,
			MaxBodyBytes: defaultMaxBodyBytes,
		},
	}
}

// Load reads the configuration.
//
// With an explicit path the file must exist, and the home directory and
// relative paths in it are taken from the file's directory. Otherwise
// config.toml is read from homeDir (or DefaultHome when homeDir is empty)
// and defaults are used when it is absent.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	if homeDir != "" {
		homeDir = expandPath(homeDir)
	}

	if explicit {
		path = expandPath(path)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("stat config: %w", err)
		}
		if homeDir == "" {
			homeDir = filepath.Dir(path)
		}
	} else {
		if homeDir == "" {
			homeDir = DefaultHome()
		}
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := newDefaultConfig(homeDir)
	cfg.configPath = path

	// Config file is optional when not given explicitly
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w%s", err, backslashHint(err))
	}

	base := filepath.Dir(path)
	cfg.Data.DataDir = resolvePath(expandPath(cfg.Data.DataDir), base)
	cfg.Data.ChatDB = resolvePath(expandPath(cfg.Data.ChatDB), base)

	if cfg.Import.Workers <= 0 {
		cfg.Import.Workers = runtime.NumCPU()
	}
	if cfg.Import.BatchSize <= 0 {
		cfg.Import.BatchSize = defaultBatchSize
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = defaultMaxBodyBytes
	}
	return cfg, nil
}

// backslashHint explains the usual cause of TOML escape errors: Windows
// paths written in double-quoted strings.
func backslashHint(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return "\nhint: use forward slashes (C:/Users/me) or single quotes ('C:\\Users\\me') for paths in config.toml"
	}
	return ""
}

// ConfigFilePath returns the path of the config file that was (or would
// have been) loaded.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// DatabasePath returns the path to the output SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "imsgtext.db")
}

// EnsureHomeDir creates the data directory if it does not exist.
func (c *Config) EnsureHomeDir() error {
	if err := fileutil.SecureMkdirAll(c.Data.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// ResolverPolicy returns the validated cleaning policy.
func (c *Config) ResolverPolicy() (attrbody.Policy, error) {
	p := attrbody.Policy{
		ExpectedScripts: c.Resolver.ExpectedScripts,
		MaxForeignRatio: c.Resolver.MaxForeignRatio,
		MaxInvalidRatio: c.Resolver.MaxInvalidRatio,
		MinLetters:      c.Resolver.MinLetters,
	}
	if err := p.Validate(); err != nil {
		return attrbody.Policy{}, fmt.Errorf("[resolver]: %w", err)
	}
	return p, nil
}

// CacheTTL parses the cache TTL.
func (c *Config) CacheTTL() (time.Duration, error) {
	if c.Cache.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 0, fmt.Errorf("[cache] ttl: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("[cache] ttl: negative duration %s", d)
	}
	return d, nil
}

// Addr returns the listen address of the API server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.BindAddr, fmt.Sprint(s.APIPort))
}

// IsLoopback reports whether the server only listens on a loopback
// interface.
func (s ServerConfig) IsLoopback() bool {
	if s.BindAddr == "localhost" {
		return true
	}
	ip := net.ParseIP(s.BindAddr)
	return ip != nil && ip.IsLoopback()
}

// ValidateSecure refuses to expose an unauthenticated API beyond loopback.
func (s ServerConfig) ValidateSecure() error {
	if s.APIKey == "" && !s.IsLoopback() {
		return fmt.Errorf("[server] api_key is required when bind_addr is %q", s.BindAddr)
	}
	return nil
}

// resolvePath makes a relative path absolute against base.
func resolvePath(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// expandPath expands a leading ~ or ~/ to the user's home directory.
// ~user forms are left alone.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	if len(path) > 1 && path[1] != '/' && path[1] != filepath.Separator {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
