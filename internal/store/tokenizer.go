package store

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
// Tokens shorter than minLen runes are dropped.
func Tokenize(text string, minLen int) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minLen {
			continue
		}
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// analyzer applies a BM25Config to text.
type analyzer struct {
	minLen    int
	stopWords map[string]struct{}
}

func newAnalyzer(cfg BM25Config) analyzer {
	minLen := cfg.MinTokenLength
	if minLen <= 0 {
		minLen = 2
	}
	return analyzer{minLen: minLen, stopWords: BuildStopWordMap(cfg.StopWords)}
}

func (a analyzer) terms(text string) []string {
	return FilterStopWords(Tokenize(text, a.minLen), a.stopWords)
}

// uniqueTerms returns terms with duplicates removed, first occurrence kept.
func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
