package telemetry

import (
	"context"
	"log/slog"
	"testing"
)

// ---------------------------------------------------------------------------
// SetupLogger / level handling
// ---------------------------------------------------------------------------

func TestSetupLogger_DoesNotPanicForAllCombinations(t *testing.T) {
	formats := []string{"json", "text", "JSON", "", "unknown"}
	levels := []string{"debug", "info", "warn", "warning", "error", "ERROR", "", "unknown"}

	for _, format := range formats {
		for _, level := range levels {
			t.Run(format+"/"+level, func(t *testing.T) {
				defer func() {
					if r := recover(); r != nil {
						t.Errorf("SetupLogger(%q, %q) panicked: %v", format, level, r)
					}
				}()
				SetupLogger(format, level)
			})
		}
	}
	SetupLogger("text", "error")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetLogLevel_ChangesInstalledHandler(t *testing.T) {
	SetupLogger("text", "error")
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at error level")
	}

	SetLogLevel("debug")
	if CurrentLogLevel() != slog.LevelDebug {
		t.Errorf("CurrentLogLevel = %v, want debug", CurrentLogLevel())
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be enabled after SetLogLevel(debug)")
	}

	SetLogLevel("error")
}
