package core

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Level is a log severity. The numeric values are the ones accepted in
// JETIFY_LOG_LEVEL.
type Level uint32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelOff
)

const (
	DefaultLogFileName = "Jetify.log"
	MaxLineLength      = 8192
)

var levelNames = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL", "OFF"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return strconv.Itoa(int(l))
}

// ParseLevel accepts a level number (0-6) or name, ignoring case.
func ParseLevel(s string) (Level, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > int(LevelOff) {
			return 0, false
		}
		return Level(n), true
	}
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), true
		}
	}
	if strings.EqualFold(s, "WARNING") {
		return LevelWarn, true
	}
	return 0, false
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelTrace:
		return logrus.TraceLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	}
	return logrus.FatalLevel
}

// Logger writes one line per message to a file. It is inactive until Open
// succeeds, and stays inactive when no level was configured or the level
// is OFF.
type Logger struct {
	mu      sync.Mutex
	log     *logrus.Logger
	level   Level
	enabled bool
	path    string
	file    *os.File
	active  atomic.Bool
}

// NewLogger creates a logger. levelSet tells whether a level was configured
// at all; an unparsable level keeps the DEBUG default. An empty path means
// Jetify.log in the temp directory.
func NewLogger(level string, levelSet bool, path string) *Logger {
	l := &Logger{level: LevelDebug, path: path}
	if levelSet {
		if lv, ok := ParseLevel(level); ok {
			l.level = lv
		}
		l.enabled = l.level != LevelOff
	}
	l.log = logrus.New()
	l.log.SetOutput(io.Discard)
	l.log.SetFormatter(&lineFormatter{})
	l.log.SetLevel(l.level.logrus())
	return l
}

// Open truncates and opens the log file. It does nothing when logging is
// disabled or the file is already open.
func (l *Logger) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || l.file != nil {
		return nil
	}
	if l.path == "" {
		l.path = filepath.Join(os.TempDir(), DefaultLogFileName)
	}
	f, err := os.Create(l.path)
	if err != nil {
		return errors.Wrapf(err, "opening log file '%s'", l.path)
	}
	l.file = f
	l.log.SetOutput(f)
	l.active.Store(true)
	return nil
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.active.Store(false)
	l.log.SetOutput(io.Discard)
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the log file path, resolved once Open has run.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *Logger) Level() Level {
	return l.level
}

// IsActive reports whether a message at level would be written. Callers
// check it before converting arguments for a log line.
func (l *Logger) IsActive(level Level) bool {
	return l != nil && l.active.Load() && level >= l.level && level < LevelOff
}

// Printf writes one message. It never terminates the process, FATAL
// included.
func (l *Logger) Printf(level Level, format string, args ...interface{}) {
	if !l.IsActive(level) {
		return
	}
	l.log.Logf(level.logrus(), format, args...)
}

func (l *Logger) Tracef(format string, args ...interface{}) { l.Printf(LevelTrace, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.Printf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{}) { l.Printf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.Printf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Printf(LevelError, format, args...) }

// HexDump logs data sixteen bytes per line.
func (l *Logger) HexDump(level Level, data []byte) {
	if !l.IsActive(level) {
		return
	}
	for _, line := range HexDumpLines(data) {
		l.log.Log(level.logrus(), line)
	}
}

// HexDumpLines formats data as rows of uppercase hex, padded to sixteen
// bytes, followed by the printable ASCII rendering.
func HexDumpLines(data []byte) []string {
	const width = 16
	const digits = "0123456789ABCDEF"
	var lines []string
	for off := 0; off < len(data); off += width {
		chunk := data[off:]
		if len(chunk) > width {
			chunk = chunk[:width]
		}
		var b strings.Builder
		for i := 0; i < width; i++ {
			if i < len(chunk) {
				b.WriteByte(digits[chunk[i]>>4])
				b.WriteByte(digits[chunk[i]&0xF])
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteByte(' ')
		for _, c := range chunk {
			if c >= 0x20 && c < 0x7F {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		lines = append(lines, b.String())
	}
	return lines
}

type lineFormatter struct{}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(levelNames[levelFromLogrus(entry.Level)])
	b.WriteByte(' ')
	msg := entry.Message
	if room := MaxLineLength - b.Len() - 1; len(msg) > room {
		for room > 0 && !utf8.RuneStart(msg[room]) {
			room--
		}
		msg = msg[:room]
	}
	b.WriteString(msg)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelFromLogrus(l logrus.Level) Level {
	switch l {
	case logrus.TraceLevel:
		return LevelTrace
	case logrus.DebugLevel:
		return LevelDebug
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.ErrorLevel:
		return LevelError
	}
	return LevelFatal
}
