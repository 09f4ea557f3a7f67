package app

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/gallonr/server-analyzer/models"
	"github.com/gallonr/server-analyzer/scan"
)

// LoadConfig reads and validates the yaml configuration.
func LoadConfig(path string) (*models.AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("database.path", "data/analyzer.db")
	v.SetDefault("performance.batch_size", 10000)
	v.SetDefault("performance.flush_interval", 5)
	v.SetDefault("performance.checkpoint_records", 100000)
	v.SetDefault("performance.checkpoint_interval", 300)
	v.SetDefault("duplicates.min_size_bytes", 1024)
	v.SetDefault("duplicates.algorithm", "sha256")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg models.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *models.AppConfig) error {
	if len(cfg.RootPaths) == 0 {
		return fmt.Errorf("config: at least one root path is required")
	}
	if cfg.Performance.NumWorkers < 0 {
		return fmt.Errorf("config: num_workers must not be negative, got %d", cfg.Performance.NumWorkers)
	}
	if cfg.Performance.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", cfg.Performance.BatchSize)
	}
	switch cfg.Duplicates.Algorithm {
	case "", "md5", "sha1", "sha256":
	default:
		return fmt.Errorf("config: unsupported duplicates.algorithm %q", cfg.Duplicates.Algorithm)
	}

	// Missing roots are a warning, not an error: a mount may appear later
	// and the scanner skips inaccessible roots on its own.
	for _, root := range cfg.RootPaths {
		if _, err := os.Stat(root); err != nil {
			fmt.Fprintf(os.Stderr, "warning: root path %s is not accessible: %v\n", root, err)
		}
	}
	return nil
}

// ScanConfig translates the application configuration into the immutable
// per-run configuration the coordinator accepts. The snapshot is stored
// with the scan so Resume can rebuild the same configuration later.
func ScanConfig(cfg *models.AppConfig, snapshot string) scan.Config {
	c := scan.ConfigFromApp(cfg)
	c.ConfigSnapshot = snapshot
	return c
}
