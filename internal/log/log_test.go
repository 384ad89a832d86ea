package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
	})

	SetLevel(LevelWarn)
	Info("hidden", "k", 1)
	Warn("shown", "k", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "k=2")
}

func TestErrorIncludesErr(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)

	Error("fetch failed", errors.New("boom"), "month", "2025-03")

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "err=boom")
	assert.Contains(t, out, "month=2025-03")
}

func TestPairsDropsBadKeys(t *testing.T) {
	got := pairs([]any{"a", 1, 2, 3, "dangling"})
	assert.Equal(t, []any{"a", 1}, got)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("chatty"))
}
