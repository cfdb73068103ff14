package similarity

import (
	"math"
	"strings"
	"unicode"
)

// Tokenize splits text on whitespace, dropping empty tokens.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Shingles returns every contiguous run of size words joined by single
// spaces. Returns nil when the input is shorter than size.
func Shingles(words []string, size int) []string {
	if size <= 0 || len(words) < size {
		return nil
	}
	out := make([]string, 0, len(words)-size+1)
	for i := 0; i+size <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+size], " "))
	}
	return out
}

// Jaccard computes word-set Jaccard similarity between two strings,
// case-insensitive. Two empty strings are considered identical.
func Jaccard(a, b string) float64 {
	sa := tokenSet(strings.ToLower(a))
	sb := tokenSet(strings.ToLower(b))
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0.0
	}
	return float64(inter) / float64(union)
}

// Cosine computes cosine similarity between two vectors. Returns 0 when
// either vector is empty, zero, or the dimensions disagree.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0.0
	}
	return dot / denom
}

// Sentences splits text into sentence-like spans on terminal punctuation
// and newlines. Spans are trimmed; empty spans are dropped.
func Sentences(text string) []string {
	var out []string
	var buf strings.Builder
	flush := func() {
		s := strings.TrimSpace(buf.String())
		if s != "" {
			out = append(out, s)
		}
		buf.Reset()
	}
	for _, r := range text {
		buf.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			flush()
		}
	}
	flush()
	return out
}

// NormalizeSpace lowercases text and collapses all whitespace runs to a
// single space, so substring checks ignore formatting differences.
func NormalizeSpace(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// tokenSet builds the word set with punctuation trimmed from token edges,
// so "year," and "year" compare equal.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w == "" {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
