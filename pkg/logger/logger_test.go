package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestFileOutputWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	l.With(String("component", "bus")).Warn("buffer overflow",
		Int("capacity", 1000),
		Float64("cms", 50.5),
		Error(errors.New("boom")),
	)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(b)
	assert.True(t, strings.Contains(line, `"component":"bus"`), line)
	assert.Contains(t, line, `"capacity":1000`)
	assert.Contains(t, line, `"cms":50.5`)
	assert.Contains(t, line, `"error":"boom"`)
}

func TestErrorFieldNil(t *testing.T) {
	k, v := Error(nil).GetKeyValue()
	assert.Equal(t, "error", k)
	assert.Nil(t, v)
}

func TestNopDiscards(t *testing.T) {
	l := NewNop()
	l.Info("ignored", String("k", "v"))
	l.Debug("ignored")
}
