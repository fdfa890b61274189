package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for csync.
type Config struct {
	BaseDir    string               `toml:"base_dir"`
	LogDir     string               `toml:"log_dir"`
	Content    ContentStoreConfig   `toml:"content_store"`
	Containers ContainerStoreConfig `toml:"container_store"`
	Upload     UploadConfig         `toml:"upload"`
	Retry      RetryConfig          `toml:"retry"`
}

// ContentStoreConfig configures the blob store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ContentStoreConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// ContainerStoreConfig configures the versioned container store backend.
type ContainerStoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// UploadConfig bounds content uploads.
type UploadConfig struct {
	MaxSize     int64 `toml:"max_size"`    // bytes; 0 disables the ceiling
	Concurrency int   `toml:"concurrency"` // in-flight uploads; defaults to 4
}

// RetryConfig bounds retries of transient store failures.
type RetryConfig struct {
	MaxAttempts  uint64 `toml:"max_attempts"`
	BaseDelayMS  int64  `toml:"base_delay_ms"`
	QueryTimeout int64  `toml:"query_timeout_s"` // per-operation timeout, seconds
}

// DefaultMaxUploadSize caps single-file uploads unless configured otherwise.
const DefaultMaxUploadSize = 1 << 30 // 1 GiB

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Content: ContentStoreConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "content"),
		},
		Containers: ContainerStoreConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Upload: UploadConfig{
			MaxSize:     DefaultMaxUploadSize,
			Concurrency: 4,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			BaseDelayMS:  250,
			QueryTimeout: 120,
		},
	}
}

// QueryTimeout returns the per-operation timeout, honoring the
// CSYNC_QUERY_TIMEOUT environment variable (seconds) over the config file.
func (c *Config) QueryTimeout() time.Duration {
	if v := os.Getenv("CSYNC_QUERY_TIMEOUT"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if c.Retry.QueryTimeout > 0 {
		return time.Duration(c.Retry.QueryTimeout) * time.Second
	}
	return 120 * time.Second
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
