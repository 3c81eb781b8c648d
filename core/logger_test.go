package core_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/devolutions/jetify/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want core.Level
		ok   bool
	}{
		{"0", core.LevelTrace, true},
		{"4", core.LevelError, true},
		{"6", core.LevelOff, true},
		{"TRACE", core.LevelTrace, true},
		{"debug", core.LevelDebug, true},
		{"Warn", core.LevelWarn, true},
		{"WARNING", core.LevelWarn, true},
		{"OFF", core.LevelOff, true},
		{"7", 0, false},
		{"-1", 0, false},
		{"verbose", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := core.ParseLevel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	s := strings.TrimSuffix(string(buf), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestLoggerWritesAtOrAboveLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jetify.log")
	log := core.NewLogger("INFO", true, path)
	require.NoError(t, log.Open())

	assert.False(t, log.IsActive(core.LevelDebug))
	assert.True(t, log.IsActive(core.LevelInfo))
	assert.True(t, log.IsActive(core.LevelFatal))

	log.Debugf("hidden %d", 1)
	log.Infof("shown %d", 2)
	log.Printf(core.LevelFatal, "still running")
	require.NoError(t, log.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], " INFO shown 2"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], " FATAL still running"), lines[1])
	assert.False(t, log.IsActive(core.LevelInfo))
}

func TestLoggerTruncatesOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jetify.log")
	require.NoError(t, os.WriteFile(path, []byte("old contents\n"), 0644))

	log := core.NewLogger("0", true, path)
	require.NoError(t, log.Open())
	log.Tracef("new")
	require.NoError(t, log.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "TRACE new")
}

func TestLoggerDisabled(t *testing.T) {
	dir := t.TempDir()
	for _, tt := range []struct {
		name     string
		level    string
		levelSet bool
	}{
		{"unset", "", false},
		{"off", "OFF", true},
		{"off by number", "6", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".log")
			log := core.NewLogger(tt.level, tt.levelSet, path)
			require.NoError(t, log.Open())
			log.Errorf("nothing")
			assert.False(t, log.IsActive(core.LevelFatal))
			require.NoError(t, log.Close())
			_, err := os.Stat(path)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestLoggerInvalidLevelKeepsDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jetify.log")
	log := core.NewLogger("loud", true, path)
	require.NoError(t, log.Open())
	defer log.Close()

	assert.Equal(t, core.LevelDebug, log.Level())
	assert.True(t, log.IsActive(core.LevelDebug))
	assert.False(t, log.IsActive(core.LevelTrace))
}

func TestLoggerDefaultPath(t *testing.T) {
	log := core.NewLogger("ERROR", true, "")
	require.NoError(t, log.Open())
	defer os.Remove(log.Path())
	defer log.Close()

	assert.Equal(t, filepath.Join(os.TempDir(), core.DefaultLogFileName), log.Path())
}

func TestLoggerCapsLineLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jetify.log")
	log := core.NewLogger("DEBUG", true, path)
	require.NoError(t, log.Open())
	log.Debugf("%s", strings.Repeat("x", 3*core.MaxLineLength))
	log.Debugf("after")
	require.NoError(t, log.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], core.MaxLineLength-1)
	assert.True(t, strings.HasSuffix(lines[1], "after"))
}

func TestLoggerCapKeepsRunesWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jetify.log")
	log := core.NewLogger("DEBUG", true, path)
	require.NoError(t, log.Open())
	log.Debugf("%s", strings.Repeat("é", core.MaxLineLength))
	require.NoError(t, log.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.True(t, utf8.ValidString(lines[0]))
	assert.LessOrEqual(t, len(lines[0]), core.MaxLineLength-1)
	assert.GreaterOrEqual(t, len(lines[0]), core.MaxLineLength-2)
}

func TestNilLoggerIsInactive(t *testing.T) {
	var log *core.Logger
	assert.False(t, log.IsActive(core.LevelFatal))
	log.Errorf("ignored")
}

func TestHexDumpLines(t *testing.T) {
	data := []byte("WinRM\x00\x01\x02 proxy bypass list")
	lines := core.HexDumpLines(data)
	require.Len(t, lines, 2)
	assert.Equal(t, "57696E524D0001022070726F78792062 WinRM... proxy b", lines[0])
	assert.Equal(t, "7970617373206C697374             ypass list", lines[1])
	assert.Nil(t, core.HexDumpLines(nil))
}

func TestLoggerHexDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jetify.log")
	log := core.NewLogger("TRACE", true, path)
	require.NoError(t, log.Open())
	log.HexDump(core.LevelTrace, []byte{0x2A, 0x00, 0x00, 0x00})
	require.NoError(t, log.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.True(t, strings.HasSuffix(lines[0], "2A000000                         *..."), lines[0])
}
