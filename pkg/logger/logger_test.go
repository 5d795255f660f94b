package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
	if Named("cache") == nil {
		t.Fatal("named logger is nil")
	}
}

func TestLoggerWritesFields(t *testing.T) {
	defer SetLevel(slog.LevelInfo)
	SetLevel(slog.LevelInfo)

	var buf bytes.Buffer
	l := New(&buf).Named("clustering")
	l.Info(context.Background(), "clusters computed",
		Int("clusters", 3),
		Float64("threshold", 88),
		Bool("stale", false),
		Duration("took", 2*time.Millisecond),
		Error(errors.New("boom")),
	)

	out := buf.String()
	for _, want := range []string{"clusters computed", "component=clustering", "clusters=3", "threshold=88", "stale=false", "error=boom", "source=logger_test.go"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	defer SetLevel(slog.LevelInfo)

	var buf bytes.Buffer
	l := New(&buf)
	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info record should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn record should be written")
	}
	if err := SetLevelString("verbose"); err == nil {
		t.Errorf("expected error for unknown level")
	}
}

func TestOrDefault(t *testing.T) {
	explicit := New(io.Discard)
	if OrDefault(explicit, "x") != explicit {
		t.Errorf("explicit logger should be returned unchanged")
	}
	if OrDefault(nil, "x") == nil {
		t.Errorf("fallback logger must not be nil")
	}
	// nil context must not panic
	OrDefault(nil, "x").Debug(nil, "nil ctx") //nolint:staticcheck // exercising nil ctx
}
