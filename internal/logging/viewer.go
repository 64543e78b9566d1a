package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed JSON log line.
type Entry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	Raw   string
	Valid bool
}

// Filter selects entries. Zero value matches everything.
type Filter struct {
	// MinLevel drops entries below this level.
	MinLevel string

	// Event keeps only entries whose msg contains this substring.
	Event string
}

// Tail returns the entries among the last n lines of path that match f.
func Tail(path string, n int, f Filter) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()
	return tail(file, n, f)
}

func tail(r io.Reader, n int, f Filter) ([]Entry, error) {
	minLevel, err := ParseLevel(f.MinLevel)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	// Ring of the last n lines.
	ring := make([]string, 0, max(n, 0))
	next := 0
	for scanner.Scan() {
		if n <= 0 {
			continue
		}
		if len(ring) < n {
			ring = append(ring, scanner.Text())
			continue
		}
		ring[next] = scanner.Text()
		next = (next + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	lines := append(ring[next:], ring[:next]...)

	var out []Entry
	for _, line := range lines {
		e := parseLine(line)
		if matches(e, minLevel, f) {
			out = append(out, e)
		}
	}
	return out, nil
}

func parseLine(line string) Entry {
	e := Entry{Raw: line}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return e
	}
	e.Valid = true
	if s, ok := m["time"].(string); ok {
		e.Time, _ = time.Parse(time.RFC3339Nano, s)
	}
	e.Level, _ = m["level"].(string)
	e.Msg, _ = m["msg"].(string)
	delete(m, "time")
	delete(m, "level")
	delete(m, "msg")
	e.Attrs = m
	return e
}

// Lines that are not JSON only pass an empty filter.
func matches(e Entry, minLevel slog.Level, f Filter) bool {
	if !e.Valid {
		return f == Filter{}
	}
	level, err := ParseLevel(e.Level)
	if err == nil && level < minLevel {
		return false
	}
	return f.Event == "" || strings.Contains(e.Msg, f.Event)
}

// Format renders e as "15:04:05.000 LEVEL msg key=value ...".
// Invalid lines are returned raw.
func Format(e Entry) string {
	if !e.Valid {
		return e.Raw
	}
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %-5s %s", e.Time.Format("15:04:05.000"), e.Level, e.Msg)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}
