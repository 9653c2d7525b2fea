// Package textsim implements the blended text-similarity metric used for
// near-duplicate question detection: Levenshtein on normalised text plus
// Jaccard and cosine on raw lowercased text, combined with fixed weights.
// All scores are on a 0-100 scale.
package textsim

import (
	"math"
	"regexp"
	"strings"
)

// Weights controls the blend. They should sum to 1.
type Weights struct {
	Levenshtein float64
	Jaccard     float64
	Cosine      float64
}

// DefaultWeights is the blend used by the deduplicator.
var DefaultWeights = Weights{Levenshtein: 0.4, Jaccard: 0.3, Cosine: 0.3}

var (
	articleRe    = regexp.MustCompile(`\b(a|an|the)\b`)
	punctRe      = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize lowercases, strips the articles a/an/the and punctuation, and
// collapses runs of whitespace. Only the Levenshtein leg sees this form.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = articleRe.ReplaceAllString(s, " ")
	s = punctRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Levenshtein returns the edit-distance similarity of a and b as a
// percentage of the longer string's length.
func Levenshtein(a, b string) float64 {
	if a == b {
		return 100
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	dist := prev[len(rb)]
	longer := max(len(ra), len(rb))
	return 100 * (1 - float64(dist)/float64(longer))
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// Jaccard compares the word sets of a and b.
func Jaccard(a, b string) float64 {
	setA, setB := map[string]bool{}, map[string]bool{}
	for _, w := range tokens(a) {
		setA[w] = true
	}
	for _, w := range tokens(b) {
		setB[w] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 100
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return 100 * float64(inter) / float64(union)
}

// Cosine compares term-frequency vectors of a and b.
func Cosine(a, b string) float64 {
	freqA, freqB := map[string]int{}, map[string]int{}
	for _, w := range tokens(a) {
		freqA[w]++
	}
	for _, w := range tokens(b) {
		freqB[w]++
	}
	if len(freqA) == 0 || len(freqB) == 0 {
		if len(freqA) == len(freqB) {
			return 100
		}
		return 0
	}

	var dot, normA, normB float64
	for w, ca := range freqA {
		if cb, ok := freqB[w]; ok {
			dot += float64(ca) * float64(cb)
		}
		normA += float64(ca) * float64(ca)
	}
	for _, cb := range freqB {
		normB += float64(cb) * float64(cb)
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return 100 * dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Blend combines the three metrics. Jaccard and cosine operate on the raw
// lowercased inputs; Levenshtein on the normalised form, which makes it
// robust to article and punctuation churn.
func Blend(a, b string, w Weights) float64 {
	lev := Levenshtein(Normalize(a), Normalize(b))
	jac := Jaccard(a, b)
	cos := Cosine(a, b)
	return w.Levenshtein*lev + w.Jaccard*jac + w.Cosine*cos
}

// Similarity is Blend with the default weights.
func Similarity(a, b string) float64 {
	return Blend(a, b, DefaultWeights)
}
