// Package dedup detects near-duplicate pages with locality-sensitive hashing
// followed by an exact similarity check.
package dedup

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// DefaultAlphabet is the character set of the generated default vocabulary.
const DefaultAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789 "

// Vocabulary maps shingles to dense indices. It is immutable once built.
type Vocabulary struct {
	index map[string]int
}

// NewVocabulary assigns indices in order; repeated shingles keep their first index.
func NewVocabulary(shingles []string) Vocabulary {
	v := Vocabulary{index: make(map[string]int, len(shingles))}
	for _, s := range shingles {
		if _, ok := v.index[s]; !ok {
			v.index[s] = len(v.index)
		}
	}
	return v
}

// LoadVocabulary reads one shingle per line. Lines keep inner and edge spaces,
// only the line terminator is removed; empty lines are skipped.
func LoadVocabulary(r io.Reader) (Vocabulary, error) {
	var shingles []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		shingles = append(shingles, line)
	}
	if err := scanner.Err(); err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary: %w", err)
	}
	if len(shingles) == 0 {
		return Vocabulary{}, fmt.Errorf("vocabulary is empty")
	}
	return NewVocabulary(shingles), nil
}

// DefaultVocabulary enumerates every k-length string over DefaultAlphabet.
func DefaultVocabulary(k int) Vocabulary {
	if k <= 0 {
		k = 1
	}
	alphabet := []rune(DefaultAlphabet)
	shingles := []string{""}
	for i := 0; i < k; i++ {
		next := make([]string, 0, len(shingles)*len(alphabet))
		for _, prefix := range shingles {
			for _, r := range alphabet {
				next = append(next, prefix+string(r))
			}
		}
		shingles = next
	}
	return NewVocabulary(shingles)
}

// Lookup returns the index of a shingle.
func (v Vocabulary) Lookup(shingle string) (int, bool) {
	idx, ok := v.index[shingle]
	return idx, ok
}

// Len is the number of shingles.
func (v Vocabulary) Len() int {
	return len(v.index)
}

// Shingler decomposes a document into shingles.
type Shingler func(doc string) []string

// CharShingler yields every contiguous k-rune substring of the lowercased document.
// Documents shorter than k yield nothing.
func CharShingler(k int) Shingler {
	if k <= 0 {
		k = 1
	}
	return func(doc string) []string {
		doc = strings.ToLower(doc)
		if utf8.RuneCountInString(doc) < k {
			return nil
		}
		runes := []rune(doc)
		out := make([]string, 0, len(runes)-k+1)
		for i := 0; i+k <= len(runes); i++ {
			out = append(out, string(runes[i:i+k]))
		}
		return out
	}
}
