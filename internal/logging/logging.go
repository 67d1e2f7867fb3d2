package logging

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

func parseLevel(s string) level {
	switch s {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// Logger writes one JSON object per line. Diagnostics share the process with
// the snapshot stream on stdout, so loggers are normally pointed at stderr.
type Logger struct {
	w   io.Writer
	min level
	mu  sync.Mutex
}

func NewJSONLogger(w io.Writer, minLevel string) *Logger {
	return &Logger{w: w, min: parseLevel(minLevel)}
}

func (l *Logger) Debug(fields map[string]any) { l.write(levelDebug, "debug", fields) }
func (l *Logger) Info(fields map[string]any)  { l.write(levelInfo, "info", fields) }
func (l *Logger) Warn(fields map[string]any)  { l.write(levelWarn, "warn", fields) }
func (l *Logger) Error(fields map[string]any) { l.write(levelError, "error", fields) }

func (l *Logger) write(lv level, name string, fields map[string]any) {
	if lv < l.min {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["level"] = name
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(fields)
	if err != nil {
		// Last resort: drop structured fields.
		b = []byte(`{"level":"error","ts":"` + time.Now().UTC().Format(time.RFC3339Nano) + `","msg":"failed to marshal log"}`)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(append(b, '\n'))
}
