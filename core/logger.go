package core

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Level is a log severity. Records below the handler's minimum level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

var loggerInstance = NewDevelopmentLogger()

// SetLogger sets the global logger instance.
func SetLogger(logger *Logger) {
	loggerInstance = logger
}

// GetLogger retrieves the global logger instance.
func GetLogger() *Logger {
	return loggerInstance
}

// Logger is a leveled logger that carries a set of attributes. With returns a
// child logger sharing the handler, so components can scope their output with
// e.g. {"component": "driver", "conversation_id": id}.
type Logger struct {
	handlerFunc func(level Level, msg string, attrs map[string]any)
	minLevel    Level
	attrs       map[string]any
}

// NewLogger creates a Logger that forwards records at or above minLevel to handler.
func NewLogger(handler func(level Level, msg string, attrs map[string]any), minLevel Level) *Logger {
	return &Logger{
		handlerFunc: handler,
		minLevel:    minLevel,
		attrs:       make(map[string]any),
	}
}

// NewDevelopmentLogger creates a logger with human-readable console output.
func NewDevelopmentLogger() *Logger {
	handler := func(level Level, msg string, attrs map[string]any) {
		attrStr := ""
		if len(attrs) > 0 {
			keys := make([]string, 0, len(attrs))
			for k := range attrs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%v", k, attrs[k]))
			}
			attrStr = " | " + strings.Join(parts, " ")
		}
		line := fmt.Sprintf("%s [%s] %s%s\n", time.Now().Format(time.RFC3339), level, msg, attrStr)
		if level >= LevelError {
			fmt.Fprint(os.Stderr, line)
		} else {
			fmt.Print(line)
		}
		if level == LevelFatal {
			os.Exit(1)
		}
	}
	return NewLogger(handler, LevelDebug)
}

// NewJSONLogger creates a logger that emits one JSON object per line,
// suitable for production log shipping.
func NewJSONLogger(minLevel Level) *Logger {
	handler := func(level Level, msg string, attrs map[string]any) {
		record := make(map[string]any, len(attrs)+3)
		for k, v := range attrs {
			record[k] = v
		}
		record["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
		record["level"] = level.String()
		record["msg"] = msg
		data, err := sonic.Marshal(record)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: marshal record: %v\n", err)
			return
		}
		if level >= LevelError {
			fmt.Fprintln(os.Stderr, string(data))
		} else {
			fmt.Println(string(data))
		}
		if level == LevelFatal {
			os.Exit(1)
		}
	}
	return NewLogger(handler, minLevel)
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if l.handlerFunc == nil || level < l.minLevel {
		return
	}
	attrs := l.attrs
	// args are slog-style key-value pairs; a trailing odd value is dropped.
	if len(args) >= 2 {
		attrs = make(map[string]any, len(l.attrs)+len(args)/2)
		for k, v := range l.attrs {
			attrs[k] = v
		}
		for i := 0; i+1 < len(args); i += 2 {
			key, ok := args[i].(string)
			if !ok {
				key = fmt.Sprintf("%v", args[i])
			}
			attrs[key] = args[i+1]
		}
	}
	l.handlerFunc(level, msg, attrs)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.log(LevelFatal, msg, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, fmt.Sprintf(format, args...))
}

// With returns a child logger carrying the combined attribute set.
func (l *Logger) With(attrs map[string]any) *Logger {
	combined := make(map[string]any, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combined[k] = v
	}
	for k, v := range attrs {
		combined[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		minLevel:    l.minLevel,
		attrs:       combined,
	}
}
