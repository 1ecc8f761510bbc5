package logging

import (
	"bytes"
	"strings"
	"testing"
)

type captureLogger struct {
	lines []string
}

func (c *captureLogger) Debug(format string, args ...any) { c.lines = append(c.lines, "debug") }
func (c *captureLogger) Info(format string, args ...any)  { c.lines = append(c.lines, "info") }
func (c *captureLogger) Warn(format string, args ...any)  { c.lines = append(c.lines, "warn") }
func (c *captureLogger) Error(format string, args ...any) { c.lines = append(c.lines, "error") }

func TestOrNopHandlesNilInterface(t *testing.T) {
	logger := OrNop(nil)
	logger.Info("should not panic")
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var capture *captureLogger
	logger := OrNop(capture)
	logger.Error("should not panic")
}

func TestMultiFansOut(t *testing.T) {
	first := &captureLogger{}
	second := &captureLogger{}
	logger := Multi(first, nil, second)

	logger.Info("hello")
	logger.Warn("world")

	if len(first.lines) != 2 || len(second.lines) != 2 {
		t.Fatalf("expected both loggers to receive 2 lines, got %d and %d", len(first.lines), len(second.lines))
	}
}

func TestMultiFlattensNested(t *testing.T) {
	inner := Multi(&captureLogger{}, &captureLogger{})
	outer := Multi(inner, &captureLogger{})

	ml, ok := outer.(*multiLogger)
	if !ok {
		t.Fatalf("expected multiLogger, got %T", outer)
	}
	if len(ml.loggers) != 3 {
		t.Fatalf("expected 3 flattened loggers, got %d", len(ml.loggers))
	}
}

func TestComponentLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "warn", Output: &buf})
	defer Configure(Config{Level: "info"})

	logger := NewComponentLogger("gate")
	logger.Info("hidden message")
	logger.Warn("visible message")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Fatalf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "visible message") {
		t.Fatalf("warn line missing: %q", out)
	}
	if !strings.Contains(out, "component=gate") {
		t.Fatalf("component attribute missing: %q", out)
	}
}
