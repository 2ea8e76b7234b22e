package cfg

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/notzippy/ucanaccess-code/accessfile"
)

// FileConfiguration controls how the persistent file is opened
type FileConfiguration struct {
	NewDatabaseVersion string `toml:"new_database_version"` // Format of files created by Open
	Create             bool   `toml:"create"`               // Create the file when missing
	ReadOnly           bool   `toml:"read_only"`
	LockTimeoutMS      int    `toml:"lock_timeout_ms"` // Wait for the exclusive write-back lock
}

// MirrorConfiguration controls the embedded engine copy of the file
type MirrorConfiguration struct {
	Memory        bool   `toml:"memory"`       // Keep the engine database in memory instead of a temp file
	SkipIndexes   bool   `toml:"skip_indexes"` // Do not mirror non-unique indexes
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	TempDir       string `toml:"temp_dir"`
}

// TranslatorConfiguration controls dialect translation
type TranslatorConfiguration struct {
	CacheSize int `toml:"cache_size"` // Translated statements kept per connection
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

type Configuration struct {
	File       FileConfiguration       `toml:"file"`
	Mirror     MirrorConfiguration     `toml:"mirror"`
	Translator TranslatorConfiguration `toml:"translator"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Default returns a fresh configuration with default values. Every
// connection gets its own value; nothing here is shared between them.
func Default() *Configuration {
	return &Configuration{
		File: FileConfiguration{
			NewDatabaseVersion: accessfile.V2010.String(),
			Create:             false,
			ReadOnly:           false,
			LockTimeoutMS:      int(accessfile.DefaultLockTimeout / time.Millisecond),
		},

		Mirror: MirrorConfiguration{
			Memory:        true,
			SkipIndexes:   false,
			BusyTimeoutMS: 5000,
		},

		Translator: TranslatorConfiguration{
			CacheSize: 256,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: false,
			Address: "127.0.0.1:9090",
		},
	}
}

// Load decodes a TOML file over the defaults. A missing file yields the
// defaults.
func Load(configPath string) (*Configuration, error) {
	c := Default()
	if configPath == "" {
		return c, nil
	}
	if _, err := os.Stat(configPath); err != nil {
		log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		return c, nil
	}
	log.Info().Str("path", configPath).Msg("Loading configuration")
	if _, err := toml.DecodeFile(configPath, c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// Validate checks ranges and enumerations.
func (c *Configuration) Validate() error {
	if _, err := accessfile.ParseFormat(c.File.NewDatabaseVersion); err != nil {
		return fmt.Errorf("invalid new_database_version: %w", err)
	}

	if c.File.LockTimeoutMS < 0 {
		return fmt.Errorf("lock_timeout_ms must be >= 0")
	}

	if c.Mirror.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy_timeout_ms must be >= 0")
	}

	if c.Translator.CacheSize < 1 {
		return fmt.Errorf("translator cache_size must be >= 1")
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Prometheus.Enabled && c.Prometheus.Address == "" {
		return fmt.Errorf("prometheus address required when enabled")
	}

	return nil
}

// Format is the parsed new_database_version.
func (c *Configuration) Format() accessfile.Format {
	f, err := accessfile.ParseFormat(c.File.NewDatabaseVersion)
	if err != nil {
		return accessfile.V2010
	}
	return f
}

// LockTimeout is lock_timeout_ms as a duration.
func (c *Configuration) LockTimeout() time.Duration {
	return time.Duration(c.File.LockTimeoutMS) * time.Millisecond
}

// BusyTimeout is busy_timeout_ms as a duration.
func (c *Configuration) BusyTimeout() time.Duration {
	return time.Duration(c.Mirror.BusyTimeoutMS) * time.Millisecond
}
