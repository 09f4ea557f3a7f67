package models

import "runtime"

type ExclusionConfig struct {
	Directories []string `mapstructure:"directories" json:"directories"`
	Extensions  []string `mapstructure:"extensions" json:"extensions"`
}

type PerformanceConfig struct {
	NumWorkers        int `mapstructure:"num_workers"`         // 0 = auto (CPU * 2)
	BatchSize         int `mapstructure:"batch_size"`          // records per commit
	FlushIntervalSec  int `mapstructure:"flush_interval"`      // max seconds between commits
	CheckpointRecords int `mapstructure:"checkpoint_records"`  // records between checkpoints
	CheckpointSec     int `mapstructure:"checkpoint_interval"` // max seconds between checkpoints
	DirQueueSize      int `mapstructure:"dir_queue_size"`
	ResultBufferSize  int `mapstructure:"result_buffer_size"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type DuplicatesConfig struct {
	MinSizeBytes int64  `mapstructure:"min_size_bytes"`
	Algorithm    string `mapstructure:"algorithm"` // md5, sha1 or sha256
	NumWorkers   int    `mapstructure:"num_workers"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type AppConfig struct {
	RootPaths   []string          `mapstructure:"root_paths"`
	Exclusions  ExclusionConfig   `mapstructure:"exclusions"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Duplicates  DuplicatesConfig  `mapstructure:"duplicates"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// Workers resolves the configured worker count, defaulting to CPU * 2 for
// I/O bound directory listing.
func (p PerformanceConfig) Workers() int {
	if p.NumWorkers > 0 {
		return p.NumWorkers
	}
	return runtime.NumCPU() * 2
}
