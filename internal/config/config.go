// Package config loads and validates the siftd configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the configuration file name inside the data directory.
const DefaultFileName = "siftd.yaml"

// Folder is a user-selected directory to index.
type Folder struct {
	// Path is the absolute path to the folder.
	Path string `yaml:"path" json:"path"`
	// Recursive indexes subdirectories when true.
	Recursive bool `yaml:"recursive" json:"recursive"`
	// Watch subscribes the folder to filesystem notifications.
	Watch bool `yaml:"watch" json:"watch"`
}

// IndexingConfig controls the indexing pipeline.
type IndexingConfig struct {
	// Folders are the directories to index.
	Folders []Folder `yaml:"folders" json:"folders"`

	// ExcludeRegex skips any path matching this pattern. Empty disables it.
	ExcludeRegex string `yaml:"exclude_regex" json:"exclude_regex"`

	// MaxFileSize is the largest file in bytes that will be indexed.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`

	// MaxConcurrentFiles bounds how many files are processed at once.
	MaxConcurrentFiles int `yaml:"max_concurrent_files" json:"max_concurrent_files"`

	// BatchSize is the number of operations per bulk upload to the index.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// WatcherEnabled starts the filesystem watcher on serve.
	WatcherEnabled bool `yaml:"watcher_enabled" json:"watcher_enabled"`

	// WatchDebounce is the quiet period before a watcher trigger fires (e.g. "2s").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// ModelParams are per-model parameters forwarded to the embedding server.
type ModelParams struct {
	// Device selects where inference runs: "cpu" or "cuda".
	Device string `yaml:"device" json:"device"`
	// BatchSize is the server-side batching limit for this model.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxDelayMS is how long the server may wait to fill a batch.
	MaxDelayMS int `yaml:"max_delay_ms" json:"max_delay_ms"`
}

// SemanticConfig enables neural search features per modality.
type SemanticConfig struct {
	// TextEnabled computes text embeddings during indexing.
	TextEnabled bool `yaml:"text_enabled" json:"text_enabled"`
	// ImageEnabled computes image embeddings during indexing.
	ImageEnabled bool `yaml:"image_enabled" json:"image_enabled"`

	CLIPImage    ModelParams `yaml:"clip_image" json:"clip_image"`
	CLIPText     ModelParams `yaml:"clip_text" json:"clip_text"`
	MiniLMText   ModelParams `yaml:"minilm_text" json:"minilm_text"`
	MiniLMRerank ModelParams `yaml:"minilm_rerank" json:"minilm_rerank"`
}

// ServicesConfig points at the external helper services.
type ServicesConfig struct {
	// ExtractionURL is the base URL of the content extraction server.
	ExtractionURL string `yaml:"extraction_url" json:"extraction_url"`
	// EmbeddingURL is the base URL of the neural embedding server.
	EmbeddingURL string `yaml:"embedding_url" json:"embedding_url"`
	// Timeout applies to every call to either service (e.g. "10s").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	// Address is the listen address, loopback by default.
	Address string `yaml:"address" json:"address"`
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Config is the complete siftd configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	DataDir  string         `yaml:"data_dir" json:"data_dir"`
	Indexing IndexingConfig `yaml:"indexing" json:"indexing"`
	Semantic SemanticConfig `yaml:"semantic" json:"semantic"`
	Services ServicesConfig `yaml:"services" json:"services"`
	Server   ServerConfig   `yaml:"server" json:"server"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Indexing: IndexingConfig{
			Folders:            []Folder{},
			MaxFileSize:        50 * 1024 * 1024,
			MaxConcurrentFiles: 32,
			BatchSize:          100,
			WatcherEnabled:     true,
			WatchDebounce:      "2s",
		},
		Semantic: SemanticConfig{
			TextEnabled:  true,
			ImageEnabled: true,
			CLIPImage:    ModelParams{Device: "cpu", BatchSize: 32, MaxDelayMS: 100},
			CLIPText:     ModelParams{Device: "cpu", BatchSize: 32, MaxDelayMS: 100},
			MiniLMText:   ModelParams{Device: "cpu", BatchSize: 32, MaxDelayMS: 100},
			MiniLMRerank: ModelParams{Device: "cpu", BatchSize: 32, MaxDelayMS: 100},
		},
		Services: ServicesConfig{
			ExtractionURL: "http://127.0.0.1:9998",
			EmbeddingURL:  "http://127.0.0.1:10000",
			Timeout:       "10s",
		},
		Server: ServerConfig{
			Address:  "127.0.0.1:11000",
			LogLevel: "info",
		},
	}
}

// defaultDataDir returns the platform data directory for siftd.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".siftd"
	}
	return filepath.Join(home, ".siftd")
}

// Load reads configuration from path, applying defaults for missing fields.
// A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to path atomically (temp file + rename).
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config: %w", err)
	}

	return nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Indexing.MaxFileSize <= 0 {
		return fmt.Errorf("indexing.max_file_size must be positive, got %d", c.Indexing.MaxFileSize)
	}
	if c.Indexing.MaxConcurrentFiles <= 0 {
		return fmt.Errorf("indexing.max_concurrent_files must be positive, got %d", c.Indexing.MaxConcurrentFiles)
	}
	if c.Indexing.BatchSize <= 0 {
		return fmt.Errorf("indexing.batch_size must be positive, got %d", c.Indexing.BatchSize)
	}
	if c.Indexing.ExcludeRegex != "" {
		if _, err := regexp.Compile(c.Indexing.ExcludeRegex); err != nil {
			return fmt.Errorf("indexing.exclude_regex is invalid: %w", err)
		}
	}
	if _, err := time.ParseDuration(c.Indexing.WatchDebounce); err != nil {
		return fmt.Errorf("indexing.watch_debounce is invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Services.Timeout); err != nil {
		return fmt.Errorf("services.timeout is invalid: %w", err)
	}
	for _, folder := range c.Indexing.Folders {
		if !filepath.IsAbs(folder.Path) {
			return fmt.Errorf("folder path must be absolute: %s", folder.Path)
		}
	}
	for _, device := range []string{
		c.Semantic.CLIPImage.Device, c.Semantic.CLIPText.Device,
		c.Semantic.MiniLMText.Device, c.Semantic.MiniLMRerank.Device,
	} {
		if device != "cpu" && device != "cuda" {
			return fmt.Errorf("model device must be cpu or cuda, got %q", device)
		}
	}
	return nil
}

// ExcludePattern returns the compiled exclusion regexp, or nil when disabled.
// Validate must have been called first; an invalid pattern returns nil.
func (c *Config) ExcludePattern() *regexp.Regexp {
	if c.Indexing.ExcludeRegex == "" {
		return nil
	}
	re, err := regexp.Compile(c.Indexing.ExcludeRegex)
	if err != nil {
		return nil
	}
	return re
}

// DebounceWindow returns the parsed watcher debounce duration.
func (c *Config) DebounceWindow() time.Duration {
	d, err := time.ParseDuration(c.Indexing.WatchDebounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ServiceTimeout returns the parsed per-call timeout for external services.
func (c *Config) ServiceTimeout() time.Duration {
	d, err := time.ParseDuration(c.Services.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Workers returns the effective concurrency bound for file processing.
func (c *Config) Workers() int {
	if c.Indexing.MaxConcurrentFiles > 0 {
		return c.Indexing.MaxConcurrentFiles
	}
	return runtime.NumCPU()
}
