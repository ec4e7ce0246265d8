package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes one mounted image: its geometry, where the dirty chunks
// live, where clean data comes from and where dirty data is pushed to.
type Config struct {
	ImageName   string `json:"image_name" yaml:"image_name"`
	ChunkSize   int64  `json:"chunk_size" yaml:"chunk_size"`
	InitialSize int64  `json:"initial_size" yaml:"initial_size"`
	CacheRoot   string `json:"cache_root" yaml:"cache_root"`

	BasePath string `json:"base_path" yaml:"base_path"`
	BaseURL  string `json:"base_url" yaml:"base_url"`

	PoolPath   string `json:"pool_path" yaml:"pool_path"`
	PoolURL    string `json:"pool_url" yaml:"pool_url"`
	PoolSecret string `json:"pool_secret" yaml:"pool_secret"`

	UploadRate        int64  `json:"upload_rate" yaml:"upload_rate"` // bytes per second, 0 means unlimited
	Checkin           bool   `json:"checkin" yaml:"checkin"`
	RescanIntervalSec int    `json:"rescan_interval_sec" yaml:"rescan_interval_sec"`
	UploadWindow      string `json:"upload_window" yaml:"upload_window"` // cron expression, empty means always
	FlagStore         string `json:"flag_store" yaml:"flag_store"`
	RequeueFailed     bool   `json:"requeue_failed" yaml:"requeue_failed"`

	Debug bool `json:"debug" yaml:"debug"`
}

// LoadConfig reads the file at path (if any), applies VDISK_* environment
// overrides and fills defaults. Files ending in .yaml or .yml are parsed as
// YAML, anything else as JSON. The result is not validated.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		unmarshal := json.Unmarshal
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			unmarshal = yaml.Unmarshal
		}
		if err := unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ERR_INVALID_CONFIG, path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt64 := func(key string, dst *int64) error {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ERR_INVALID_CONFIG, key, v)
			}
			*dst = n
		}
		return nil
	}
	setBool := func(key string, dst *bool) error {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ERR_INVALID_CONFIG, key, v)
			}
			*dst = b
		}
		return nil
	}

	setString(ENV_IMAGE_NAME, &c.ImageName)
	setString(ENV_CACHE_ROOT, &c.CacheRoot)
	setString(ENV_BASE_PATH, &c.BasePath)
	setString(ENV_BASE_URL, &c.BaseURL)
	setString(ENV_POOL_PATH, &c.PoolPath)
	setString(ENV_POOL_URL, &c.PoolURL)
	setString(ENV_POOL_SECRET, &c.PoolSecret)
	setString(ENV_UPLOAD_WINDOW, &c.UploadWindow)
	setString(ENV_FLAG_STORE, &c.FlagStore)

	if err := setInt64(ENV_CHUNK_SIZE, &c.ChunkSize); err != nil {
		return err
	}
	if err := setInt64(ENV_INITIAL_SIZE, &c.InitialSize); err != nil {
		return err
	}
	if err := setInt64(ENV_UPLOAD_RATE, &c.UploadRate); err != nil {
		return err
	}
	var interval int64 = int64(c.RescanIntervalSec)
	if err := setInt64(ENV_RESCAN_INTERVAL, &interval); err != nil {
		return err
	}
	c.RescanIntervalSec = int(interval)

	if err := setBool(ENV_CHECKIN, &c.Checkin); err != nil {
		return err
	}
	if err := setBool(ENV_REQUEUE_FAILED, &c.RequeueFailed); err != nil {
		return err
	}
	return setBool(ENV_DEBUG, &c.Debug)
}

// SetDefaults fills zero values that have a sensible default.
func (c *Config) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.RescanIntervalSec == 0 {
		c.RescanIntervalSec = DefaultRescanInterval
	}
	if c.FlagStore == "" {
		c.FlagStore = FLAG_STORE_MODE
	}
	if c.ImageName == "" {
		c.ImageName = "disk"
	}
}

// Validate checks the fields needed to open the image cache.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize&(c.ChunkSize-1) != 0 {
		return fmt.Errorf("%w: chunk_size %d is not a positive power of two", ERR_INVALID_CONFIG, c.ChunkSize)
	}
	if c.ChunkSize > 1<<31 {
		return fmt.Errorf("%w: chunk_size %d too large", ERR_INVALID_CONFIG, c.ChunkSize)
	}
	if c.InitialSize < 0 {
		return fmt.Errorf("%w: initial_size %d is negative", ERR_INVALID_CONFIG, c.InitialSize)
	}
	if !ValidImageName(c.ImageName) {
		return fmt.Errorf("%w: image_name %q", ERR_INVALID_CONFIG, c.ImageName)
	}
	if c.CacheRoot == "" {
		return fmt.Errorf("%w: cache_root is required", ERR_INVALID_CONFIG)
	}
	if c.UploadRate < 0 {
		return fmt.Errorf("%w: upload_rate %d is negative", ERR_INVALID_CONFIG, c.UploadRate)
	}
	if c.BasePath != "" && c.BaseURL != "" {
		return fmt.Errorf("%w: base_path and base_url are exclusive", ERR_INVALID_CONFIG)
	}
	if c.PoolPath != "" && c.PoolURL != "" {
		return fmt.Errorf("%w: pool_path and pool_url are exclusive", ERR_INVALID_CONFIG)
	}
	switch c.FlagStore {
	case FLAG_STORE_MODE, FLAG_STORE_XATTR:
	default:
		return fmt.Errorf("%w: unknown flag_store %q", ERR_INVALID_CONFIG, c.FlagStore)
	}
	if c.UploadWindow != "" {
		if _, err := ParseCronSchedule(c.UploadWindow); err != nil {
			return fmt.Errorf("%w: upload_window: %v", ERR_INVALID_CONFIG, err)
		}
	}
	return nil
}

// UploadEnabled reports whether a chunk pool is configured. Without one the
// image runs without upload tracking.
func (c *Config) UploadEnabled() bool {
	return c.PoolPath != "" || c.PoolURL != ""
}

func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.RescanIntervalSec) * time.Second
}
