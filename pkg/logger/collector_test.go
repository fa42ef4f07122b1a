package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)
	return l, path
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestCollector_FoldsRepeatedWarnings(t *testing.T) {
	l, path := fileLogger(t)
	c := NewCollector(l, WithFlushInterval(time.Hour))
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Warn("dropping undecodable message",
			String("channel", "sentiment"),
			Error(errors.New("bad score "+strings.Repeat("!", i))),
		)
	}
	c.Warn("dropping undecodable message", String("channel", "regime"), Error(errors.New("bad regime")))
	assert.Equal(t, 2, c.Pending())

	c.Flush()
	assert.Equal(t, 0, c.Pending())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "sentiment", lines[0]["channel"])
	assert.Equal(t, float64(5), lines[0]["count"])
	assert.Equal(t, "bad score !!!!", lines[0]["error"], "latest occurrence wins")
	assert.Equal(t, "warn", lines[0]["level"])
	assert.NotEmpty(t, lines[0]["first_seen"])
	assert.Equal(t, "regime", lines[1]["channel"])
	assert.Equal(t, float64(1), lines[1]["count"])
}

func TestCollector_FlushesAtMaxKeys(t *testing.T) {
	l, path := fileLogger(t)
	c := NewCollector(l, WithFlushInterval(time.Hour), WithMaxKeys(2))
	defer c.Close()

	c.Warn("a", String("channel", "events"))
	assert.Empty(t, readLines(t, path))
	c.Warn("a", String("channel", "prices"))

	assert.Equal(t, 0, c.Pending())
	assert.Len(t, readLines(t, path), 2)
}

func TestCollector_CloseWritesRemainder(t *testing.T) {
	l, path := fileLogger(t)
	c := NewCollector(l, WithFlushInterval(time.Hour))

	c.Warn("publish buffer full, dropping oldest entry", String("channel", "signals"), Int("capacity", 2))
	c.Warn("publish buffer full, dropping oldest entry", String("channel", "signals"), Int("capacity", 2))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(2), lines[0]["count"])
}

func TestCollector_PeriodicFlush(t *testing.T) {
	l, path := fileLogger(t)
	c := NewCollector(l, WithFlushInterval(10*time.Millisecond))
	defer c.Close()

	c.Warn("bus receive failed", String("transport", "memory"))
	require.Eventually(t, func() bool { return len(readLines(t, path)) == 1 }, time.Second, 5*time.Millisecond)
}
