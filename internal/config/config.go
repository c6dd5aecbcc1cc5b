// Package config loads the threadkit TOML configuration and applies
// command-line overrides. Run with -generate-config to write an example file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"threadkit/internal/maps"
)

// AppConfig is the root of the configuration file.
type AppConfig struct {
	Server  ServerConfig  `toml:"server"`
	Threads ThreadsConfig `toml:"threads"`
	Workers WorkersConfig `toml:"workers"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Listen address (default: "localhost:9190")
	ListenAddress string `toml:"listen_address"`

	// Metrics endpoint path (default: "/metrics")
	MetricsPath string `toml:"metrics_path"`

	// Thread table endpoint path (default: "/debug/threads")
	ThreadsPath string `toml:"threads_path"`

	// Serve net/http/pprof on localhost:6060 (default: true)
	PprofEnabled bool `toml:"pprof_enabled"`
}

// ThreadsConfig configures the thread registry and its platform.
type ThreadsConfig struct {
	// Concurrent map backing the id tables: xsync, sharded, cornelk or sync
	MapImplementation string `toml:"map_implementation"`

	// How often adopted external threads are checked for exit
	HousekeepingInterval string `toml:"housekeeping_interval"`

	// Cap on live managed threads, 0 for none
	MaxThreads int `toml:"max_threads"`
}

// Interval returns the parsed housekeeping interval.
func (c ThreadsConfig) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.HousekeepingInterval)
	if err != nil {
		return 0, fmt.Errorf("threads.housekeeping_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("threads.housekeeping_interval must be positive, got %s", d)
	}
	return d, nil
}

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	Enabled     bool `toml:"enabled"`
	Count       int  `toml:"count"`
	QueueSize   int  `toml:"queue_size"`   // pending jobs before Do blocks
	ScratchSize int  `toml:"scratch_size"` // initial bytes per worker scratch buffer
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			ListenAddress: "localhost:9190",
			MetricsPath:   "/metrics",
			ThreadsPath:   "/debug/threads",
			PprofEnabled:  true,
		},
		Threads: ThreadsConfig{
			MapImplementation:    maps.DefaultImplementation,
			HousekeepingInterval: "5s",
		},
		Workers: WorkersConfig{
			Enabled:     true,
			Count:       4,
			QueueSize:   64,
			ScratchSize: 4096,
		},
		Logging: defaultLogging(),
	}
}

// LoadConfig loads configuration from a TOML file, falling back to defaults
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()
	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("config file not found: %s", configPath)
	}

	md, err := toml.DecodeFile(configPath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in %s: %v", configPath, undecoded)
	}

	return config, nil
}

// SaveConfig saves the configuration to a TOML file
func SaveConfig(configPath string, config *AppConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", configPath, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}
	return nil
}

const exampleHeader = `# threadkit Example Configuration
# Generated with -generate-config. Every key is shown with its default.
#
# [threads].map_implementation: xsync | sharded | cornelk | sync
# [logging.components]: per-component level, e.g. workers = "debug"

`

// GenerateExampleConfig writes DefaultConfig to outputPath as commented TOML.
func GenerateExampleConfig(outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(exampleHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(DefaultConfig()); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors
func (c *AppConfig) Validate() error {
	switch {
	case c.Server.ListenAddress == "":
		return fmt.Errorf("server.listen_address cannot be empty")
	case c.Server.MetricsPath == "":
		return fmt.Errorf("server.metrics_path cannot be empty")
	case c.Server.ThreadsPath == "":
		return fmt.Errorf("server.threads_path cannot be empty")
	case c.Server.ThreadsPath == c.Server.MetricsPath:
		return fmt.Errorf("server.threads_path must differ from server.metrics_path")
	}

	if !maps.Valid(c.Threads.MapImplementation) {
		return fmt.Errorf("threads.map_implementation %q is not one of %v",
			c.Threads.MapImplementation, maps.Implementations())
	}
	if _, err := c.Threads.Interval(); err != nil {
		return err
	}
	if c.Threads.MaxThreads < 0 {
		return fmt.Errorf("threads.max_threads cannot be negative")
	}

	if w := c.Workers; w.Enabled {
		if w.Count <= 0 {
			return fmt.Errorf("workers.count must be positive when workers are enabled")
		}
		if c.Threads.MaxThreads > 0 && w.Count > c.Threads.MaxThreads {
			return fmt.Errorf("workers.count (%d) exceeds threads.max_threads (%d)",
				w.Count, c.Threads.MaxThreads)
		}
		if w.QueueSize < 0 || w.ScratchSize < 0 {
			return fmt.Errorf("workers.queue_size and workers.scratch_size cannot be negative")
		}
	}

	return c.Logging.validate()
}

// Flags holds the command-line flags
type Flags struct {
	ListenAddress     string
	MetricsPath       string
	MapImplementation string
	MaxThreads        int
	Workers           int
	LogLevel          string
	ConfigPath        string
	GenerateConfig    string
}

// NewConfig parses os.Args and loads the config file. It returns nil, nil
// after -generate-config so the program can exit cleanly.
func NewConfig() (*AppConfig, error) {
	return configFromArgs(flag.CommandLine, os.Args[1:])
}

func configFromArgs(fset *flag.FlagSet, args []string) (*AppConfig, error) {
	flags := &Flags{}
	fset.StringVar(&flags.ListenAddress, "web.listen-address", "localhost:9190",
		"Address to listen on for web interface and telemetry.")
	fset.StringVar(&flags.MetricsPath, "web.telemetry-path", "/metrics",
		"Path under which to expose metrics.")
	fset.StringVar(&flags.MapImplementation, "threads.map-implementation", maps.DefaultImplementation,
		"Concurrent map backing the thread registry.")
	fset.IntVar(&flags.MaxThreads, "threads.max", 0,
		"Cap on live managed threads, 0 for none.")
	fset.IntVar(&flags.Workers, "workers.count", 4,
		"Number of worker threads, 0 disables the pool.")
	fset.StringVar(&flags.LogLevel, "log.level", "info",
		"Default log level.")
	fset.StringVar(&flags.ConfigPath, "config", "",
		"Path to configuration file (optional).")
	fset.StringVar(&flags.GenerateConfig, "generate-config", "",
		"Generate example config file to specified path and exit.")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if flags.GenerateConfig != "" {
		if err := GenerateExampleConfig(flags.GenerateConfig); err != nil {
			return nil, fmt.Errorf("error generating example config: %w", err)
		}
		fmt.Printf("Generated %s successfully\n", flags.GenerateConfig)
		return nil, nil
	}

	config, err := LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Flags set on the command line win over the file.
	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "web.listen-address":
			config.Server.ListenAddress = flags.ListenAddress
		case "web.telemetry-path":
			config.Server.MetricsPath = flags.MetricsPath
		case "threads.map-implementation":
			config.Threads.MapImplementation = flags.MapImplementation
		case "threads.max":
			config.Threads.MaxThreads = flags.MaxThreads
		case "workers.count":
			config.Workers.Count = flags.Workers
			config.Workers.Enabled = flags.Workers > 0
		case "log.level":
			config.Logging.Defaults.Level = flags.LogLevel
		}
	})

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
