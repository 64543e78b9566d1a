package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrank/internal/retrieve"
	"github.com/Aman-CERP/hybridrank/internal/telemetry"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

var ranked = []ensemble.RankedResult{
	{ID: "tr55", Text: "Sony released the TR-55 in 1955.", Score: 0.9132},
	{ID: "walkman", Text: "The Walkman shipped in 1979.", Score: 0.4},
}

func TestWriter_StatusIcons(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		icon  string
		text  string
	}{
		{"success", func(w *Writer) { w.Success("Index complete") }, "✅", "Index complete"},
		{"warning", func(w *Writer) { w.Warningf("%d skipped", 2) }, "⚠️", "2 skipped"},
		{"error", func(w *Writer) { w.Errorf("failed: %s", "disk") }, "❌", "failed: disk"},
		{"plain", func(w *Writer) { w.Status("", "indented") }, "   ", "indented"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.write(New(buf))
			assert.Contains(t, buf.String(), tt.icon)
			assert.Contains(t, buf.String(), tt.text)
		})
	}
}

func TestNew_BufferIsNotColored(t *testing.T) {
	// Given: a non-terminal writer
	buf := &bytes.Buffer{}

	// When
	w := New(buf)
	w.Success("plain")

	// Then: no ANSI escapes
	assert.False(t, w.color)
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(1, 2, "embedding")
	assert.Contains(t, buf.String(), "50%")
	assert.False(t, strings.HasSuffix(buf.String(), "\n"))

	w.Progress(2, 2, "embedding")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))

	before := buf.Len()
	w.Progress(0, 0, "nothing")
	assert.Equal(t, before, buf.Len())
}

func TestRenderProgressBar(t *testing.T) {
	assert.Equal(t, "░░░░", renderProgressBar(0, 4, 4))
	assert.Equal(t, "██░░", renderProgressBar(2, 4, 4))
	assert.Equal(t, "████", renderProgressBar(9, 4, 4))
	assert.Equal(t, "░░░░", renderProgressBar(1, 0, 4))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestResults_Text(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, New(buf).Results("sony", ranked, FormatText))

	out := buf.String()
	assert.Contains(t, out, `2 results for "sony"`)
	assert.Contains(t, out, " 1. tr55  0.9132")
	assert.Less(t, strings.Index(out, "tr55"), strings.Index(out, "walkman"))
}

func TestResults_TextEmpty(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, New(buf).Results("nothing", nil, FormatText))

	assert.Contains(t, buf.String(), `No passages found for "nothing"`)
}

func TestResults_JSON(t *testing.T) {
	// Given
	buf := &bytes.Buffer{}

	// When: rendering as JSON
	require.NoError(t, New(buf).Results("sony", ranked, FormatJSON))

	// Then: ranks are 1-based and order is kept
	var out SearchOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, 1, out.Results[0].Rank)
	assert.Equal(t, "tr55", out.Results[0].ID)
	assert.Equal(t, "walkman", out.Results[1].ID)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("  short  ", 10))
	assert.Equal(t, "abc…", Snippet("abcdef", 3))
	assert.Equal(t, "日本…", Snippet("日本語テキスト", 2))
}

func TestStats_Text(t *testing.T) {
	// Given: index stats and one zero-result query
	m := telemetry.New(nil, telemetry.Config{})
	m.ObserveRetrieve(ensemble.Trace{Query: "missing thing", TopK: 5})
	index := &retrieve.IndexStats{DataDir: "/data", Passages: 4, EmbeddingModel: "static", Dimensions: 256, Reranker: "http", RerankCircuit: "open"}
	buf := &bytes.Buffer{}

	// When
	require.NoError(t, New(buf).Stats(index, m.Snapshot(), FormatText))

	// Then
	out := buf.String()
	assert.Contains(t, out, "static (256 dims)")
	assert.Contains(t, out, "http (circuit open)")
	assert.Contains(t, out, "1 (100.0%)")
	assert.Contains(t, out, "missing thing")
}

func TestStats_JSONOmitsMissingSections(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, New(buf).Stats(&retrieve.IndexStats{Passages: 1}, nil, FormatJSON))

	assert.NotContains(t, buf.String(), `"queries"`)
	assert.Contains(t, buf.String(), `"passages": 1`)
}
