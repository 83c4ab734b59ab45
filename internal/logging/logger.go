package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
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
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MarshalJSON encodes the level by name so the /v1/logs output stays readable.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ParseLevel converts "debug", "info", "warn" or "error" into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Category groups log entries by subsystem.
type Category string

const (
	CatSystem    Category = "system"
	CatTag       Category = "tag"
	CatTransport Category = "transport"
	CatStorage   Category = "storage"
	CatHTTP      Category = "http"
	CatWebSocket Category = "websocket"
)

// Entry is a single log record kept in the in-memory buffer.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Stats summarizes the buffer contents.
type Stats struct {
	Total      int              `json:"total"`
	Capacity   int              `json:"capacity"`
	ByLevel    map[string]int   `json:"byLevel"`
	ByCategory map[Category]int `json:"byCategory"`
}

// Logger keeps the most recent entries in a ring buffer and optionally
// mirrors them to a console writer.
//
// A nil *Logger is valid and discards everything.
type Logger struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	full     bool
	minLevel Level

	console      io.Writer
	consoleLevel Level
}

// New creates a logger that retains up to maxEntries records at or above minLevel.
func New(maxEntries int, minLevel Level) *Logger {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Logger{
		entries:      make([]Entry, maxEntries),
		minLevel:     minLevel,
		consoleLevel: LevelError + 1,
	}
}

// WithConsole mirrors entries at or above minLevel to w.
func (l *Logger) WithConsole(w io.Writer, minLevel Level) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
	l.consoleLevel = minLevel
	return l
}

// Enabled reports whether an entry at level would be kept or printed.
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.minLevel || (l.console != nil && level >= l.consoleLevel)
}

// Log records an entry.
func (l *Logger) Log(level Level, cat Category, msg string, data map[string]any) {
	if l == nil {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Category:  cat,
		Message:   msg,
		Data:      data,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if level >= l.minLevel {
		l.entries[l.next] = entry
		l.next = (l.next + 1) % len(l.entries)
		if l.next == 0 {
			l.full = true
		}
	}

	if l.console != nil && level >= l.consoleLevel {
		writeConsole(l.console, entry)
	}
}

func (l *Logger) Debug(cat Category, msg string, data map[string]any) {
	l.Log(LevelDebug, cat, msg, data)
}

func (l *Logger) Info(cat Category, msg string, data map[string]any) {
	l.Log(LevelInfo, cat, msg, data)
}

func (l *Logger) Warn(cat Category, msg string, data map[string]any) {
	l.Log(LevelWarn, cat, msg, data)
}

func (l *Logger) Error(cat Category, msg string, data map[string]any) {
	l.Log(LevelError, cat, msg, data)
}

// Frame traces a raw frame exchanged with the tag, e.g. "TX >> 08 07".
func (l *Logger) Frame(direction string, frame []byte) {
	if !l.Enabled(LevelDebug) {
		return
	}
	l.Debug(CatTransport, direction+" "+HexBytes(frame), nil)
}

// GetEntries returns up to limit entries, newest last, optionally filtered.
// A limit of 0 or less returns everything that matches.
func (l *Logger) GetEntries(limit int, minLevel *Level, category *Category) []Entry {
	if l == nil {
		return []Entry{}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	ordered := l.ordered()
	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if minLevel != nil && e.Level < *minLevel {
			continue
		}
		if category != nil && e.Category != *category {
			continue
		}
		out = append(out, e)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats returns counters for the buffered entries.
func (l *Logger) Stats() Stats {
	s := Stats{
		ByLevel:    make(map[string]int),
		ByCategory: make(map[Category]int),
	}
	if l == nil {
		return s
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	s.Capacity = len(l.entries)
	for _, e := range l.ordered() {
		s.Total++
		s.ByLevel[e.Level.String()]++
		s.ByCategory[e.Category]++
	}
	return s
}

// Clear drops all buffered entries.
func (l *Logger) Clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		l.entries[i] = Entry{}
	}
	l.next = 0
	l.full = false
}

// ordered returns the buffered entries oldest first. Caller holds l.mu.
func (l *Logger) ordered() []Entry {
	if !l.full {
		return append([]Entry(nil), l.entries[:l.next]...)
	}
	out := make([]Entry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

func writeConsole(w io.Writer, e Entry) {
	var b strings.Builder
	switch e.Level {
	case LevelError:
		b.WriteString("ERROR: ")
	case LevelWarn:
		b.WriteString("WARNING: ")
	}
	b.WriteString(e.Message)

	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
		}
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(w, b.String())
}

// HexBytes formats b as space separated upper-case hex pairs.
func HexBytes(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(1000, LevelInfo)
)

// Init replaces the process-wide logger used by the agent and CLI.
func Init(maxEntries int, minLevel Level) *Logger {
	l := New(maxEntries, minLevel)
	SetDefault(l)
	return l
}

// SetDefault installs l as the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Get returns the process-wide logger.
func Get() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

func Debug(cat Category, msg string, data map[string]any) { Get().Debug(cat, msg, data) }
func Info(cat Category, msg string, data map[string]any)  { Get().Info(cat, msg, data) }
func Warn(cat Category, msg string, data map[string]any)  { Get().Warn(cat, msg, data) }
func Error(cat Category, msg string, data map[string]any) { Get().Error(cat, msg, data) }
