// Package output formats CLI output: status lines, progress, ranked results and stats.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/hybridrank/internal/retrieve"
	"github.com/Aman-CERP/hybridrank/internal/telemetry"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// Format selects text or JSON rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (expected text or json)", s)
}

const (
	colorAccent = "154"
	colorGray   = "245"
	colorRed    = "196"
	colorYellow = "220"
)

type styles struct {
	header  lipgloss.Style
	score   lipgloss.Style
	id      lipgloss.Style
	label   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		score:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		id:      lipgloss.NewStyle().Bold(true),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		err:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
	}
}

// Writer provides formatted output for the CLI.
type Writer struct {
	out    io.Writer
	color  bool
	styles styles
}

// New creates a Writer. Color is enabled when out is a terminal and NO_COLOR is unset.
func New(out io.Writer) *Writer {
	color := IsTTY(out) && !noColor()
	return &Writer{out: out, color: color, styles: newStyles(color)}
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func noColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// Status prints a message with an icon. Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) Success(msg string) { w.Status("✅", w.styles.success.Render(msg)) }

func (w *Writer) Successf(format string, args ...any) { w.Success(fmt.Sprintf(format, args...)) }

func (w *Writer) Warning(msg string) { w.Status("⚠️ ", w.styles.warning.Render(msg)) }

func (w *Writer) Warningf(format string, args ...any) { w.Warning(fmt.Sprintf(format, args...)) }

func (w *Writer) Error(msg string) { w.Status("❌", w.styles.err.Render(msg)) }

func (w *Writer) Errorf(format string, args ...any) { w.Error(fmt.Sprintf(format, args...)) }

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints an in-place progress bar. A newline ends the line once current reaches total.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", w.styles.score.Render(bar), pct, msg)
	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := int(float64(current) / float64(total) * float64(width))
	filled = max(0, min(filled, width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SearchResult is the JSON shape of one ranked passage.
type SearchResult struct {
	Rank  int     `json:"rank"`
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// SearchOutput is the JSON shape of the search command.
type SearchOutput struct {
	Query   string         `json:"query"`
	Count   int            `json:"count"`
	Results []SearchResult `json:"results"`
}

// Results renders ranked passages for query.
func (w *Writer) Results(query string, results []ensemble.RankedResult, format Format) error {
	if format == FormatJSON {
		out := SearchOutput{Query: query, Count: len(results), Results: make([]SearchResult, len(results))}
		for i, r := range results {
			out.Results[i] = SearchResult{Rank: i + 1, ID: r.ID, Score: r.Score, Text: r.Text}
		}
		return w.JSON(out)
	}

	if len(results) == 0 {
		w.Warningf("No passages found for %q", query)
		return nil
	}
	_, _ = fmt.Fprintln(w.out, w.styles.header.Render(fmt.Sprintf("%d results for %q", len(results), query)))
	for i, r := range results {
		_, _ = fmt.Fprintf(w.out, "\n%2d. %s  %s\n", i+1,
			w.styles.id.Render(r.ID),
			w.styles.score.Render(fmt.Sprintf("%.4f", r.Score)))
		for _, line := range strings.Split(Snippet(r.Text, 300), "\n") {
			_, _ = fmt.Fprintf(w.out, "    %s\n", line)
		}
	}
	return nil
}

// Snippet shortens text to at most n runes.
func Snippet(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= n {
		return string(runes)
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}

// StatsOutput is the JSON shape of the stats command.
type StatsOutput struct {
	Index   *retrieve.IndexStats `json:"index,omitempty"`
	Queries *telemetry.Snapshot  `json:"queries,omitempty"`
}

// Stats renders index statistics and query telemetry. Either may be nil.
func (w *Writer) Stats(index *retrieve.IndexStats, queries *telemetry.Snapshot, format Format) error {
	if format == FormatJSON {
		return w.JSON(StatsOutput{Index: index, Queries: queries})
	}

	if index != nil {
		w.section("Index")
		w.field("Data dir", index.DataDir)
		w.field("Passages", fmt.Sprint(index.Passages))
		w.field("Lexical docs", fmt.Sprint(index.LexicalDocs))
		w.field("Vectors", fmt.Sprint(index.Vectors))
		w.field("Embedding model", fmt.Sprintf("%s (%d dims)", index.EmbeddingModel, index.Dimensions))
		reranker := index.Reranker
		if index.RerankCircuit != "" {
			reranker += " (circuit " + index.RerankCircuit + ")"
		}
		w.field("Reranker", reranker)
	}

	if queries != nil {
		if index != nil {
			w.Newline()
		}
		w.section("Queries")
		w.field("Total", fmt.Sprint(queries.TotalQueries))
		w.field("Zero results", fmt.Sprintf("%d (%.1f%%)", queries.ZeroResultCount, queries.ZeroResultPercentage()))
		w.field("Exact repeats", fmt.Sprint(queries.ExactRepeatCount))
		w.field("Candidate overlap", fmt.Sprintf("%.1f%%", queries.OverlapRate*100))
		for stage, n := range queries.FailedByStage {
			w.field("Failed: "+stage, fmt.Sprint(n))
		}
		if total, ok := queries.Latency[telemetry.PhaseTotal]; ok {
			parts := make([]string, 0, len(total))
			for _, b := range telemetry.SortedBuckets(total) {
				parts = append(parts, fmt.Sprintf("%s=%d", b, total[b]))
			}
			w.field("Latency", strings.Join(parts, " "))
		}
		if len(queries.ZeroResultQueries) > 0 {
			w.field("Recent misses", strings.Join(queries.ZeroResultQueries, " | "))
		}
	}
	return nil
}

func (w *Writer) section(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.header.Render(title))
}

func (w *Writer) field(label, value string) {
	_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.label.Render(fmt.Sprintf("%-18s", label+":")), value)
}
