// Package klog is the kernel's serial console logger: an io.Writer-based
// sink with no allocation and no format-string reflection on the hot
// path, grounded on mazboot's uartPuts/uartPutHex64 helpers.
package klog

import (
	"io"
	"strconv"
	"sync"
)

// Level orders log severity, least to most urgent.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
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
	default:
		return "?"
	}
}

// TickSource supplies the monotonic tick counter lines are timestamped
// with, mirroring mazboot's nanotime.go. internal/kernel.Boot installs
// none (its lines carry no timestamp); tests back it with a plain counter.
type TickSource func() uint64

// Logger writes leveled lines to an underlying serial console. It never
// allocates on the hot path: every field is appended to a reused buffer
// as raw bytes, not formatted through fmt.
type Logger struct {
	mu    sync.Mutex
	w     io.Writer
	ticks TickSource
	min   Level
	buf   []byte
}

// New wires a Logger to w, filtering below min, timestamping lines with
// ticks (nil disables timestamps).
func New(w io.Writer, min Level, ticks TickSource) *Logger {
	return &Logger{w: w, min: min, ticks: ticks, buf: make([]byte, 0, 256)}
}

// Field is one key/value pair appended to a log line. Value is
// pre-rendered by the caller (via Str/Uint64/Bool) to avoid any
// interface-boxing allocation inside the logger itself.
type Field struct {
	Key string
	Val string
}

// Str builds a string field.
func Str(key, val string) Field { return Field{Key: key, Val: val} }

// Uint64 builds a hex-rendered uint64 field.
func Uint64(key string, val uint64) Field {
	return Field{Key: key, Val: "0x" + strconv.FormatUint(val, 16)}
}

// Bool builds a boolean field.
func Bool(key string, val bool) Field {
	return Field{Key: key, Val: strconv.FormatBool(val)}
}

func (l *Logger) log(level Level, msg string, fields []Field) {
	if level < l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = l.buf[:0]
	if l.ticks != nil {
		l.buf = append(l.buf, '[')
		l.buf = strconv.AppendUint(l.buf, l.ticks(), 10)
		l.buf = append(l.buf, "] "...)
	}
	l.buf = append(l.buf, level.String()...)
	l.buf = append(l.buf, ' ')
	l.buf = append(l.buf, msg...)
	for _, f := range fields {
		l.buf = append(l.buf, ' ')
		l.buf = append(l.buf, f.Key...)
		l.buf = append(l.buf, '=')
		l.buf = append(l.buf, f.Val...)
	}
	l.buf = append(l.buf, '\n')
	l.w.Write(l.buf)
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, fields ...Field) { l.log(LevelInfo, msg, fields) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, fields ...Field) { l.log(LevelWarn, msg, fields) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields) }
