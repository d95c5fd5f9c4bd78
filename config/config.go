package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Archive  ArchiveConfig  `yaml:"archive"`
	Database DatabaseConfig `yaml:"database"`
	Import   ImportConfig   `yaml:"import"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Log      LogConfig      `yaml:"log"`
}

// ArchiveConfig describes where the historical archive blobs live. When
// LocalDir is set the importer reads a directory tree instead of object
// storage, which is how tests and offline replays run.
type ArchiveConfig struct {
	Bucket         string  `yaml:"bucket"`
	Region         string  `yaml:"region"`
	Endpoint       string  `yaml:"endpoint"` // optional S3-compatible endpoint
	LocalDir       string  `yaml:"local_dir"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// ImportConfig holds defaults for import jobs; the CLI can override them.
type ImportConfig struct {
	BatchSize          int  `yaml:"batch_size"`
	AutoCreate         bool `yaml:"auto_create"`
	DedupWindowMinutes int  `yaml:"dedup_window_minutes"`
}

// MonitorConfig configures the optional monitoring HTTP listener.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableTimescale        bool   `yaml:"enable_timescale"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with working values.
func (cfg *Config) ApplyDefaults() {
	if cfg.Import.BatchSize <= 0 {
		cfg.Import.BatchSize = 10000
	}

	if cfg.Import.DedupWindowMinutes <= 0 {
		cfg.Import.DedupWindowMinutes = 60
	}

	if cfg.Archive.RequestsPerSec <= 0 {
		cfg.Archive.RequestsPerSec = 5
	}

	if cfg.Monitor.Enabled && cfg.Monitor.Port <= 0 {
		log.Printf("monitor.port is not set; defaulting to 9180")
		cfg.Monitor.Port = 9180
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
