package core

import "testing"

type record struct {
	level Level
	msg   string
	attrs map[string]any
}

func capturingLogger(minLevel Level) (*Logger, *[]record) {
	var records []record
	logger := NewLogger(func(level Level, msg string, attrs map[string]any) {
		records = append(records, record{level: level, msg: msg, attrs: attrs})
	}, minLevel)
	return logger, &records
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, records := capturingLogger(LevelWarn)

	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")

	if len(*records) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(*records))
	}
	if (*records)[0].level != LevelWarn || (*records)[1].level != LevelError {
		t.Errorf("levels = %v, %v", (*records)[0].level, (*records)[1].level)
	}
}

func TestLoggerKeyValueArgs(t *testing.T) {
	logger, records := capturingLogger(LevelDebug)

	logger.Info("segment sent", "segment_id", 3, "conversation_id", "abc")

	if len(*records) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(*records))
	}
	attrs := (*records)[0].attrs
	if attrs["segment_id"] != 3 {
		t.Errorf("segment_id = %v", attrs["segment_id"])
	}
	if attrs["conversation_id"] != "abc" {
		t.Errorf("conversation_id = %v", attrs["conversation_id"])
	}
}

func TestLoggerWithMergesAttrs(t *testing.T) {
	logger, records := capturingLogger(LevelDebug)

	child := logger.With(map[string]any{"component": "driver"})
	grandchild := child.With(map[string]any{"conversation_id": "abc"})
	grandchild.Info("hello", "extra", true)

	attrs := (*records)[0].attrs
	for key, want := range map[string]any{
		"component":       "driver",
		"conversation_id": "abc",
		"extra":           true,
	} {
		if attrs[key] != want {
			t.Errorf("attrs[%q] = %v, want %v", key, attrs[key], want)
		}
	}
}

func TestLoggerWithDoesNotMutateParent(t *testing.T) {
	logger, records := capturingLogger(LevelDebug)

	_ = logger.With(map[string]any{"component": "child"})
	logger.Info("from parent")

	attrs := (*records)[0].attrs
	if _, ok := attrs["component"]; ok {
		t.Error("child attrs leaked into parent")
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelFatal, "FATAL"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}
