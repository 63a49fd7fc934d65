package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Polling    PollingConfig    `yaml:"polling"`
	YouTube    YouTubeConfig    `yaml:"youtube"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr           string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxRequestBody ByteSize      `yaml:"maxRequestBody"` // JSON body cap
	WorkerCount    int           `yaml:"workerCount"`
	QueueCapacity  int           `yaml:"queueCapacity"`
	StorageDir     string        `yaml:"storageDir"`
	APIKey         string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	DatabasePath   string        `yaml:"databasePath"`  // optional, overrides default storage_dir/vault.db
	ShutdownGrace  time.Duration `yaml:"shutdownGrace"` // time to wait for workers before forced stop
	LogLevel       string        `yaml:"logLevel"`      // debug|info|warn|error
}

// ExtractionConfig bounds the asynchronous extraction steps.
type ExtractionConfig struct {
	Timeout         time.Duration `yaml:"timeout"`         // per-job extractor budget
	SettleDelay     time.Duration `yaml:"settleDelay"`     // cosmetic pause before detecting
	EstimatedTimeMs int64         `yaml:"estimatedTimeMs"` // reported to submitters
}

// PollingConfig drives the server-recommended poll interval backoff.
type PollingConfig struct {
	BaseIntervalMs int64 `yaml:"baseIntervalMs"` // first recommended interval
	MaxIntervalMs  int64 `yaml:"maxIntervalMs"`  // cap; also the terminal clamp
	DoubleEvery    int   `yaml:"doubleEvery"`    // polls between doublings
	MaxPollCount   int   `yaml:"maxPollCount"`   // advisory budget reported to clients
}

// YouTubeConfig configures the YouTube Data API extractor.
type YouTubeConfig struct {
	APIKey       string        `yaml:"apiKey"`       // supports env expansion, e.g. ${YOUTUBE_API_KEY}
	BaseURL      string        `yaml:"baseUrl"`      // optional, default https://www.googleapis.com/youtube/v3
	TimedTextURL string        `yaml:"timedTextUrl"` // optional caption endpoint override
	Timeout      time.Duration `yaml:"timeout"`      // per-request HTTP timeout
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	// Numeric only
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	// Normalize to upper for suffix matching but keep numeric part as-is
	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		// Kubernetes binary-style without 'B'
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		// Binary with B
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		// Decimal
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var VAULT_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("VAULT_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	// Ensure storage dir exists
	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage_dir: %w", err)
		}
	}
	// Default DB path under storage dir if not set.
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "vault.db")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxRequestBody == 0 {
		cfg.Server.MaxRequestBody = ByteSize(64 * 1024) // 64 KiB is plenty for a URL submission
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = common.DefaultWorkerCount
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = common.DefaultQueueCapacity
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Extraction defaults
	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = 30 * time.Second
	}
	if cfg.Extraction.SettleDelay < 0 {
		cfg.Extraction.SettleDelay = 0
	}
	if cfg.Extraction.EstimatedTimeMs <= 0 {
		cfg.Extraction.EstimatedTimeMs = common.DefaultEstimatedTimeMS
	}

	// Polling defaults
	if cfg.Polling.BaseIntervalMs <= 0 {
		cfg.Polling.BaseIntervalMs = common.DefaultPollBaseIntervalMS
	}
	if cfg.Polling.MaxIntervalMs <= 0 {
		cfg.Polling.MaxIntervalMs = common.DefaultPollMaxIntervalMS
	}
	if cfg.Polling.MaxIntervalMs < cfg.Polling.BaseIntervalMs {
		cfg.Polling.MaxIntervalMs = cfg.Polling.BaseIntervalMs
	}
	if cfg.Polling.DoubleEvery <= 0 {
		cfg.Polling.DoubleEvery = common.DefaultPollDoubleEvery
	}
	if cfg.Polling.MaxPollCount <= 0 {
		cfg.Polling.MaxPollCount = common.DefaultMaxPollCount
	}

	// YouTube defaults
	if strings.TrimSpace(cfg.YouTube.BaseURL) == "" {
		cfg.YouTube.BaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if strings.TrimSpace(cfg.YouTube.TimedTextURL) == "" {
		cfg.YouTube.TimedTextURL = "https://video.google.com/timedtext"
	}
	if cfg.YouTube.Timeout == 0 {
		cfg.YouTube.Timeout = 15 * time.Second
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.YouTube.APIKey) == "" {
		return fmt.Errorf("youtube.apiKey is required")
	}
	if cfg.Extraction.Timeout < time.Second {
		return fmt.Errorf("extraction.timeout must be at least 1s")
	}
	return nil
}
