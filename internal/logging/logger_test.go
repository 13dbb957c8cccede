package logging

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerLevels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level  string
		format string
		want   zapcore.Level
	}{
		{"debug", "console", zapcore.DebugLevel},
		{"info", "json", zapcore.InfoLevel},
		{"warn", "console", zapcore.WarnLevel},
		{"error", "json", zapcore.ErrorLevel},
		{"bogus", "console", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		logger, err := InitLogger(tt.level, tt.format)
		if err != nil {
			t.Fatalf("InitLogger(%q, %q): %v", tt.level, tt.format, err)
		}
		if !logger.Core().Enabled(tt.want) {
			t.Errorf("%s: level %v not enabled", tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
			t.Errorf("%s: level %v unexpectedly enabled", tt.level, tt.want-1)
		}
	}
}

func TestRunIDs(t *testing.T) {
	t.Parallel()
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Fatalf("run IDs collide: %s", a)
	}
	if _, err := ulid.ParseStrict(a); err != nil {
		t.Fatalf("run ID %q is not a ULID: %v", a, err)
	}
}
