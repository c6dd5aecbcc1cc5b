package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phuslu/log"

	"threadkit/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want log.Level
	}{
		{"trace", log.TraceLevel},
		{"debug", log.DebugLevel},
		{"warning", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"bogus", log.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentLevelOverride(t *testing.T) {
	saved := log.DefaultLogger
	defer func() { log.DefaultLogger = saved }()

	cfg := config.DefaultConfig().Logging
	cfg.Defaults.Level = "warn"
	cfg.Components = map[string]string{"thread": "trace"}
	if err := ConfigureLogging(cfg); err != nil {
		t.Fatalf("ConfigureLogging: %v", err)
	}

	if got := NewLoggerWithContext("thread").Level; got != log.TraceLevel {
		t.Errorf("Expected trace level for thread component, got %v", got)
	}
	if got := NewLoggerWithContext("workers").Level; got != log.WarnLevel {
		t.Errorf("Expected default warn level for workers, got %v", got)
	}
}

func TestComponentContext(t *testing.T) {
	saved := log.DefaultLogger
	defer func() { log.DefaultLogger = saved }()

	var buf bytes.Buffer
	log.DefaultLogger = log.Logger{Level: log.InfoLevel, Writer: &log.IOWriter{Writer: &buf}}

	l := NewLoggerWithContext("thread")
	l.Info().Msg("hello")
	if out := buf.String(); !strings.Contains(out, `"component":"thread"`) {
		t.Errorf("Expected component field in %q", out)
	}
}

func TestCreateWriterErrors(t *testing.T) {
	if _, err := createWriter(config.LogOutput{Type: "eventlog", Enabled: true}); err == nil {
		t.Error("Expected error for unknown output type")
	}
	if _, err := createWriter(config.LogOutput{Type: "file", Enabled: true}); err == nil {
		t.Error("Expected error for file output without file section")
	}
	if w, err := createWriter(config.LogOutput{Type: "console", Enabled: false}); w != nil || err != nil {
		t.Errorf("Expected nil writer for disabled output, got %v %v", w, err)
	}
}

func TestGlogFormatter(t *testing.T) {
	var buf bytes.Buffer
	_, err := GlogFormatter{}.Formatter(&buf, &log.FormatterArgs{
		Time:    "1019 10:00:00.000",
		Level:   "info",
		Goid:    "42",
		Caller:  "thread.go:10",
		Message: "Thread created",
	})
	if err != nil {
		t.Fatalf("Formatter: %v", err)
	}
	want := "I1019 10:00:00.000 42 thread.go:10] Thread created\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestCreateMultiWriter(t *testing.T) {
	dir := t.TempDir()
	file := config.LogOutput{Type: "file", Enabled: true, File: &config.FileConfig{
		Filename: filepath.Join(dir, "nested", "threadkit.log"), MaxSize: 1, EnsureFolder: true,
	}}
	console := config.LogOutput{Type: "console", Enabled: true, Console: &config.ConsoleConfig{Format: "glog", Writer: "stdout"}}
	off := config.LogOutput{Type: "syslog", Enabled: false}

	tests := []struct {
		name    string
		outputs []config.LogOutput
		check   func(log.Writer) bool
	}{
		{"none enabled falls back to stderr", []config.LogOutput{off}, func(w log.Writer) bool {
			iw, ok := w.(*log.IOWriter)
			return ok && iw.Writer == os.Stderr
		}},
		{"single output is not wrapped", []config.LogOutput{off, console}, func(w log.Writer) bool {
			_, ok := w.(*log.ConsoleWriter)
			return ok
		}},
		{"several outputs fan out", []config.LogOutput{console, file}, func(w log.Writer) bool {
			mw, ok := w.(*log.MultiEntryWriter)
			return ok && len(*mw) == 2
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := createMultiWriter(tt.outputs)
			if err != nil {
				t.Fatalf("createMultiWriter: %v", err)
			}
			if !tt.check(w) {
				t.Errorf("Unexpected writer %T", w)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(dir, "nested")); err != nil {
		t.Errorf("Expected log folder to be created: %v", err)
	}
}
