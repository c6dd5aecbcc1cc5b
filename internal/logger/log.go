// Package logger configures phuslu/log from the logging section of the
// configuration and hands out per-component loggers.
//
//	log := logger.NewLoggerWithContext("workers")
//
// Component loggers copy the default logger at creation time, so they must be
// created after ConfigureLogging.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/phuslu/log"

	"threadkit/internal/config"
)

const asyncChannelSize = 4096

var levelNames = map[string]log.Level{
	"trace":   log.TraceLevel,
	"debug":   log.DebugLevel,
	"info":    log.InfoLevel,
	"warn":    log.WarnLevel,
	"warning": log.WarnLevel,
	"error":   log.ErrorLevel,
	"fatal":   log.FatalLevel,
}

var (
	levelsMu        sync.RWMutex
	componentLevels map[string]log.Level
)

// parseLogLevel maps a configured level name; unknown names mean info.
func parseLogLevel(name string) log.Level {
	if l, ok := levelNames[name]; ok {
		return l
	}
	return log.InfoLevel
}

func parseTimeLocation(name string) *time.Location {
	switch name {
	case "", "Local":
		return time.Local
	case "UTC":
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

func mapTimeFormat(format string) string {
	switch format {
	case "Unix":
		return log.TimeFormatUnix
	case "UnixMs":
		return log.TimeFormatUnixMs
	}
	return format
}

// GlogFormatter writes entries as
//
//	Lmmdd hh:mm:ss.uuuuuu goid caller] message
//
// The goroutine id is the same id the thread registry keys threads by, so
// lines can be matched against /debug/threads.
type GlogFormatter struct{}

func (GlogFormatter) Formatter(w io.Writer, a *log.FormatterArgs) (int, error) {
	b := make([]byte, 0, 64+len(a.Message))
	if a.Level != "" {
		b = append(b, a.Level[0]-('a'-'A'))
	} else {
		b = append(b, '?')
	}
	b = append(b, a.Time...)
	b = append(b, ' ')
	b = append(b, a.Goid...)
	b = append(b, ' ')
	b = append(b, a.Caller...)
	b = append(b, "] "...)
	b = append(b, a.Message...)
	b = append(b, '\n')
	return w.Write(b)
}

// withAsync wraps w in an AsyncWriter when async is set.
func withAsync(w log.Writer, async bool) log.Writer {
	if !async {
		return w
	}
	return &log.AsyncWriter{ChannelSize: asyncChannelSize, Writer: w}
}

// writerBuilders builds the writer for each supported output type.
var writerBuilders = map[string]func(config.LogOutput) (log.Writer, error){
	"console": consoleWriter,
	"file":    fileWriter,
	"syslog":  syslogWriter,
}

func consoleWriter(out config.LogOutput) (log.Writer, error) {
	c := out.Console
	if c == nil {
		return nil, fmt.Errorf("console output missing console configuration")
	}
	var dst io.Writer = os.Stderr
	if c.Writer == "stdout" {
		dst = os.Stdout
	}
	if c.FastIO {
		return withAsync(&log.IOWriter{Writer: dst}, c.Async), nil
	}

	cw := &log.ConsoleWriter{
		ColorOutput:    c.ColorOutput,
		QuoteString:    c.QuoteString,
		EndWithMessage: true,
		Writer:         dst,
	}
	switch c.Format {
	case "logfmt":
		cw.Formatter = log.LogfmtFormatter{TimeField: "time"}.Formatter
	case "glog":
		cw.Formatter = GlogFormatter{}.Formatter
	}
	return withAsync(cw, c.Async), nil
}

func fileWriter(out config.LogOutput) (log.Writer, error) {
	f := out.File
	if f == nil {
		return nil, fmt.Errorf("file output missing file configuration")
	}
	if f.EnsureFolder {
		if err := os.MkdirAll(filepath.Dir(f.Filename), 0755); err != nil {
			return nil, fmt.Errorf("file output: %w", err)
		}
	}
	return withAsync(&log.FileWriter{
		Filename:     f.Filename,
		FileMode:     0644,
		MaxSize:      f.MaxSize << 20,
		MaxBackups:   f.MaxBackups,
		TimeFormat:   mapTimeFormat(f.TimeFormat),
		LocalTime:    f.LocalTime,
		HostName:     f.HostName,
		ProcessID:    f.ProcessID,
		EnsureFolder: f.EnsureFolder,
	}, f.Async), nil
}

func syslogWriter(out config.LogOutput) (log.Writer, error) {
	s := out.Syslog
	if s == nil {
		return nil, fmt.Errorf("syslog output missing syslog configuration")
	}
	return withAsync(&log.SyslogWriter{
		Network:  s.Network,
		Address:  s.Address,
		Hostname: s.Hostname,
		Tag:      s.Tag,
		Marker:   s.Marker,
	}, s.Async), nil
}

// createWriter returns nil for a disabled output.
func createWriter(out config.LogOutput) (log.Writer, error) {
	if !out.Enabled {
		return nil, nil
	}
	build, ok := writerBuilders[out.Type]
	if !ok {
		return nil, fmt.Errorf("unknown output type: %s", out.Type)
	}
	return build(out)
}

// createMultiWriter fans out to every enabled output, falling back to stderr
// when none is enabled.
func createMultiWriter(outputs []config.LogOutput) (log.Writer, error) {
	var writers log.MultiEntryWriter
	for _, out := range outputs {
		w, err := createWriter(out)
		if err != nil {
			return nil, err
		}
		if w != nil {
			writers = append(writers, w)
		}
	}

	switch len(writers) {
	case 0:
		return &log.IOWriter{Writer: os.Stderr}, nil
	case 1:
		return writers[0], nil
	}
	return &writers, nil
}

// ConfigureLogging replaces log.DefaultLogger and the component level table.
func ConfigureLogging(cfg config.LoggingConfig) error {
	w, err := createMultiWriter(cfg.Outputs)
	if err != nil {
		return err
	}

	log.DefaultLogger = log.Logger{
		Level:        parseLogLevel(cfg.Defaults.Level),
		Caller:       cfg.Defaults.Caller,
		TimeField:    cfg.Defaults.TimeField,
		TimeFormat:   mapTimeFormat(cfg.Defaults.TimeFormat),
		TimeLocation: parseTimeLocation(cfg.Defaults.TimeLocation),
		Writer:       w,
	}

	levels := make(map[string]log.Level, len(cfg.Components))
	for component, level := range cfg.Components {
		levels[component] = parseLogLevel(level)
	}
	levelsMu.Lock()
	componentLevels = levels
	levelsMu.Unlock()

	log.Info().
		Str("level", cfg.Defaults.Level).
		Int("outputs", len(cfg.Outputs)).
		Int("component_overrides", len(levels)).
		Msg("Loggers configured")
	return nil
}

// NewLoggerWithContext returns a copy of log.DefaultLogger tagged with
// component. A level set for the component under [logging.components]
// replaces the default level. Caller reporting is off for component loggers.
func NewLoggerWithContext(component string) log.Logger {
	base := &log.DefaultLogger
	level := base.Level
	levelsMu.RLock()
	if l, ok := componentLevels[component]; ok {
		level = l
	}
	levelsMu.RUnlock()

	return log.Logger{
		Level:        level,
		TimeField:    base.TimeField,
		TimeFormat:   base.TimeFormat,
		TimeLocation: base.TimeLocation,
		Writer:       base.Writer,
		Context:      log.NewContext(base.Context).Str("component", component).Value(),
	}
}
