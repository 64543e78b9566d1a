// Package ingest loads passages into a data directory. The passage
// registry, the BM25 index and the HNSW graph are written with the same
// passage IDs so retrieval hits always resolve through the registry.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
)

// Record is one passage to index.
type Record struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// Format is an input file format.
type Format string

const (
	// FormatAuto picks the format from the file extension.
	FormatAuto Format = ""

	// FormatJSONL reads one JSON Record per line.
	FormatJSONL Format = "jsonl"

	// FormatText reads paragraphs separated by blank lines.
	FormatText Format = "text"
)

// DetectFormat returns FormatJSONL for .jsonl, .ndjson and .json files,
// FormatText otherwise.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	default:
		return FormatText
	}
}

// ReadFile reads the records in path. Records without a source get the
// file's base name.
func ReadFile(path string, format Format) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInputUnreadable, "cannot open input", err).
			WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	if format == FormatAuto {
		format = DetectFormat(path)
	}
	return ReadRecords(f, format, filepath.Base(path))
}

// ReadRecords parses r in the given format.
func ReadRecords(r io.Reader, format Format, source string) ([]Record, error) {
	switch format {
	case FormatJSONL:
		return readJSONL(r, source)
	case FormatText, FormatAuto:
		return readParagraphs(r, source)
	default:
		return nil, amerrors.ValidationError(fmt.Sprintf("unknown input format: %s (valid options: jsonl, text)", format), nil)
	}
}

func readJSONL(r io.Reader, source string) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var out []Record
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeInvalidRecord, fmt.Sprintf("line %d is not a JSON record", line), err).
				WithDetail("line", fmt.Sprint(line))
		}
		if strings.TrimSpace(rec.Text) == "" {
			return nil, amerrors.New(amerrors.ErrCodeInvalidRecord, fmt.Sprintf("line %d has no text", line), nil).
				WithDetail("line", fmt.Sprint(line))
		}
		if rec.Source == "" {
			rec.Source = source
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInputUnreadable, "read input", err)
	}
	return out, nil
}

func readParagraphs(r io.Reader, source string) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var out []Record
	var para []string
	flush := func() {
		if len(para) > 0 {
			out = append(out, Record{Text: strings.Join(para, "\n"), Source: source})
			para = para[:0]
		}
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		para = append(para, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInputUnreadable, "read input", err)
	}
	flush()
	return out, nil
}

// passageNamespace scopes generated passage IDs.
var passageNamespace = uuid.MustParse("5b0c1f3e-8d2a-4c7e-9f61-2a3b4c5d6e7f")

// PassageID returns the ID used for a record that has none: a UUIDv5 of
// the exact text, so re-indexing the same text keeps its ID.
func PassageID(text string) string {
	return uuid.NewSHA1(passageNamespace, []byte(text)).String()
}
