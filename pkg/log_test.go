package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// captureLogs installs a debug-level text logger writing to the returned
// buffer and restores the previous logger and level when the test ends.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := Logger()
	level := GetLogLevel()
	t.Cleanup(func() {
		SetLogger(original)
		SetLogLevel(level)
	})
	SetLogLevel(slog.LevelDebug)
	SetLogger(NewLogger(&buf, LogFormatText, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &buf
}

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogLevel(tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Errorf("GetLogLevel() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	SetLogLevel(slog.LevelWarn)
	if Enabled(slog.LevelDebug) {
		t.Error("Enabled(debug) = true at warn level")
	}
	if !Enabled(slog.LevelError) {
		t.Error("Enabled(error) = false at warn level")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format LogFormat
		want   string
	}{
		{LogFormatText, `msg="test message"`},
		{LogFormatJSON, `"msg":"test message"`},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		NewLogger(&buf, tt.format, &slog.HandlerOptions{Level: slog.LevelInfo}).Info("test message")
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("NewLogger(%d) output = %q, want %q", tt.format, buf.String(), tt.want)
		}
	}
}

func TestNewLogger_FollowsLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	var buf bytes.Buffer
	l := NewLogger(&buf, LogFormatText, nil)
	SetLogLevel(slog.LevelError)
	l.Warn("dropped")
	SetLogLevel(slog.LevelDebug)
	l.Debug("kept")
	if out := buf.String(); strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Errorf("output = %q", out)
	}
}

func TestLogHelpers(t *testing.T) {
	tests := []struct {
		name      string
		log       func(Component, string, ...any)
		component Component
		level     string
	}{
		{"debug", LogDebug, ComponentDevice, "DEBUG"},
		{"info", LogInfo, ComponentEcho, "INFO"},
		{"warn", LogWarn, ComponentIndicator, "WARN"},
		{"error", LogError, ComponentBoard, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			tt.log(tt.component, tt.name+" message", "key", "value")

			output := buf.String()
			if !strings.Contains(output, tt.name+" message") {
				t.Errorf("log missing message: %s", output)
			}
			if !strings.Contains(output, "component="+string(tt.component)) {
				t.Errorf("log missing component: %s", output)
			}
			if !strings.Contains(output, "level="+tt.level) {
				t.Errorf("log missing level %s: %s", tt.level, output)
			}
			if !strings.Contains(output, "key=value") {
				t.Errorf("log missing attribute: %s", output)
			}
		})
	}
}

func TestSetLogger(t *testing.T) {
	buf := captureLogs(t)

	LogInfo(ComponentDevice, "custom logger test")
	if !strings.Contains(buf.String(), "custom logger test") {
		t.Error("custom logger not used")
	}
}

func TestSetLogger_Nil(t *testing.T) {
	original := Logger()
	SetLogger(nil)
	if Logger() != original {
		t.Error("SetLogger(nil) replaced the logger")
	}
}

func TestSetLogFormat(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	SetLogFormat(LogFormatJSON)
	if _, ok := Logger().Handler().(*slog.JSONHandler); !ok {
		t.Errorf("SetLogFormat(JSON) handler = %T, want *slog.JSONHandler", Logger().Handler())
	}

	SetLogFormat(LogFormatText)
	if _, ok := Logger().Handler().(*slog.TextHandler); !ok {
		t.Errorf("SetLogFormat(Text) handler = %T, want *slog.TextHandler", Logger().Handler())
	}
}
