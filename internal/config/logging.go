package config

import "fmt"

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	Defaults LogDefaults `toml:"defaults"`

	// Every enabled output receives every entry.
	Outputs []LogOutput `toml:"outputs"`

	// Level overrides per component logger, e.g. thread = "trace".
	Components map[string]string `toml:"components"`
}

// LogDefaults apply to the default logger and the component loggers derived
// from it.
type LogDefaults struct {
	Level        string `toml:"level"`         // trace, debug, info, warn, error, fatal
	Caller       int    `toml:"caller"`        // caller frames to report, 0 disables
	TimeField    string `toml:"time_field"`    // JSON key of the timestamp
	TimeFormat   string `toml:"time_format"`   // Go layout, "Unix" or "UnixMs"; empty is RFC3339 ms
	TimeLocation string `toml:"time_location"` // "Local", "UTC" or an IANA zone
}

// LogOutput selects one writer. Only the section matching Type is read.
type LogOutput struct {
	Type    string `toml:"type"` // console, file or syslog
	Enabled bool   `toml:"enabled"`

	Console *ConsoleConfig `toml:"console,omitempty"`
	File    *FileConfig    `toml:"file,omitempty"`
	Syslog  *SyslogConfig  `toml:"syslog,omitempty"`
}

type ConsoleConfig struct {
	FastIO      bool   `toml:"fast_io"` // raw JSON lines, ignores format and colors
	Format      string `toml:"format"`  // auto, logfmt or glog
	ColorOutput bool   `toml:"color_output"`
	QuoteString bool   `toml:"quote_string"`
	Writer      string `toml:"writer"` // stdout or stderr
	Async       bool   `toml:"async"`
}

// FileConfig describes a rotating log file.
type FileConfig struct {
	Filename     string `toml:"filename"`
	MaxSize      int64  `toml:"max_size"` // megabytes before rotation
	MaxBackups   int    `toml:"max_backups"`
	TimeFormat   string `toml:"time_format"` // suffix layout of rotated files
	LocalTime    bool   `toml:"local_time"`
	HostName     bool   `toml:"host_name"`
	ProcessID    bool   `toml:"process_id"`
	EnsureFolder bool   `toml:"ensure_folder"`
	Async        bool   `toml:"async"`
}

type SyslogConfig struct {
	Network  string `toml:"network"` // udp, tcp or unixgram
	Address  string `toml:"address"`
	Hostname string `toml:"hostname"` // empty uses the system hostname
	Tag      string `toml:"tag"`
	Marker   string `toml:"marker"`
	Async    bool   `toml:"async"`
}

var logLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "fatal"}

func validLevel(level string) bool {
	for _, l := range logLevels {
		if l == level {
			return true
		}
	}
	return false
}

func defaultLogging() LoggingConfig {
	return LoggingConfig{
		Defaults: LogDefaults{
			Level:        "info",
			TimeField:    "time",
			TimeLocation: "Local",
		},
		Components: map[string]string{
			"thread": "info",
		},
		Outputs: []LogOutput{
			{
				Type:    "console",
				Enabled: true,
				Console: &ConsoleConfig{
					Format:      "auto",
					ColorOutput: true,
					QuoteString: true,
					Writer:      "stderr",
				},
			},
			{
				Type: "file",
				File: &FileConfig{
					Filename:     "logs/threadkit.log",
					MaxSize:      10,
					MaxBackups:   7,
					TimeFormat:   "2006-01-02T15-04-05",
					LocalTime:    true,
					HostName:     true,
					ProcessID:    true,
					EnsureFolder: true,
					Async:        true,
				},
			},
			{
				Type: "syslog",
				Syslog: &SyslogConfig{
					Network: "udp",
					Address: "localhost:514",
					Tag:     "threadkit",
					Marker:  "@cee:",
					Async:   true,
				},
			},
		},
	}
}

func (c *LoggingConfig) validate() error {
	enabled := 0
	for i, out := range c.Outputs {
		switch out.Type {
		case "console", "file", "syslog":
		default:
			return fmt.Errorf("logging.outputs[%d]: unknown type %q", i, out.Type)
		}
		if out.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one logging output must be enabled")
	}
	if c.Defaults.Level != "" && !validLevel(c.Defaults.Level) {
		return fmt.Errorf("logging.defaults.level: unknown level %q", c.Defaults.Level)
	}
	for component, level := range c.Components {
		if !validLevel(level) {
			return fmt.Errorf("logging.components.%s: unknown level %q", component, level)
		}
	}
	return nil
}
