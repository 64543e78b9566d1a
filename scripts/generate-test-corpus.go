//go:build ignore

// Package main generates a synthetic passage corpus for benchmarking.
// Usage: go run scripts/generate-test-corpus.go -passages 10000 -output testdata/bench/passages.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numPassages = flag.Int("passages", 10000, "Number of passages to generate")
	output      = flag.String("output", "testdata/bench/passages.jsonl", "Output JSONL file")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
	duplicates  = flag.Float64("duplicates", 0.02, "Fraction of passages repeating an earlier text under a new id")
)

var subjects = []string{
	"The transistor radio", "A cassette player", "The videotape format war",
	"The game console", "Optical disc storage", "The portable music player",
	"Digital photography", "Flat panel televisions", "Noise cancelling headphones",
	"The home computer", "Satellite navigation", "Rechargeable batteries",
}

var verbs = []string{
	"changed how people", "was first sold to", "made it cheaper for",
	"lost ground among", "became popular with", "was redesigned for",
}

var objects = []string{
	"listen to music", "students in Japan", "families watching films",
	"commuters on trains", "small recording studios", "travelers abroad",
	"engineers building prototypes", "collectors of vintage hardware",
}

var details = []string{
	"Sales peaked within a decade.", "Early models were expensive.",
	"Competitors copied the design quickly.", "The format is still used in archives.",
	"Reviewers praised the battery life.", "Production ended in the following years.",
}

type record struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func pick(r *rand.Rand, words []string) string {
	return words[r.Intn(len(words))]
}

func passage(r *rand.Rand, i int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s in %d.", pick(r, subjects), pick(r, verbs), pick(r, objects), 1950+r.Intn(70))
	for n := r.Intn(3); n >= 0; n-- {
		b.WriteByte(' ')
		b.WriteString(pick(r, details))
	}
	fmt.Fprintf(&b, " Reference %d.", i)
	return b.String()
}

func main() {
	flag.Parse()
	r := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output dir: %v\n", err)
		os.Exit(1)
	}
	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *output, err)
		os.Exit(1)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	texts := make([]string, 0, *numPassages)
	for i := 0; i < *numPassages; i++ {
		text := passage(r, i)
		if len(texts) > 0 && r.Float64() < *duplicates {
			text = texts[r.Intn(len(texts))]
		}
		texts = append(texts, text)
		if err := enc.Encode(record{ID: fmt.Sprintf("p%06d", i), Text: text}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write passage %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d passages in %s\n", *numPassages, *output)
}
