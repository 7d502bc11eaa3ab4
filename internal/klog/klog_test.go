package klog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogLineIncludesLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo, nil)
	l.Info("boot complete")
	assert.Contains(t, buf.String(), "INFO boot complete")
}

func TestLogFiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn, nil)
	l.Info("should not appear")
	assert.Empty(t, buf.String())
}

func TestLogIncludesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug, nil)
	l.Error("page fault", Uint64("cr2", 0x1000), Bool("user", true), Str("module", "kernel"))
	out := buf.String()
	assert.Contains(t, out, "cr2=0x1000")
	assert.Contains(t, out, "user=true")
	assert.Contains(t, out, "module=kernel")
}

func TestLogIncludesTickTimestamp(t *testing.T) {
	var buf bytes.Buffer
	tick := uint64(0)
	l := New(&buf, LevelDebug, func() uint64 { tick++; return tick })
	l.Debug("first")
	l.Debug("second")
	out := buf.String()
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "[2]")
}
