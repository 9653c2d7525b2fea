package textsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"articles stripped", "The cat sat on a mat", "cat sat on mat"},
		{"punctuation stripped", "What is CPU? (central)", "what is cpu central"},
		{"whitespace collapsed", "a   b\t\tc", "b c"},
		{"lowercased", "HELLO World", "hello world"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 100.0, Levenshtein("same", "same"))
	assert.Equal(t, 0.0, Levenshtein("", "abc"))
	// kitten -> sitting: distance 3, longer length 7.
	assert.InDelta(t, 100*(1-3.0/7.0), Levenshtein("kitten", "sitting"), 1e-9)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 100.0, Jaccard("red blue", "blue red"))
	assert.Equal(t, 0.0, Jaccard("red", "blue"))
	// {a,b} vs {b,c}: intersection 1, union 3.
	assert.InDelta(t, 100.0/3, Jaccard("a b", "b c"), 1e-9)
	assert.Equal(t, 100.0, Jaccard("", ""))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 100.0, Cosine("word word", "word"), 1e-9)
	assert.Equal(t, 0.0, Cosine("red", "blue"))
	assert.Equal(t, 100.0, Cosine("", ""))
	assert.Equal(t, 0.0, Cosine("", "x"))
}

func TestBlend_IdenticalAndDisjoint(t *testing.T) {
	assert.InDelta(t, 100.0, Similarity("exact copy of text", "exact copy of text"), 1e-9)
	assert.Less(t, Similarity("photosynthesis converts light", "sorting algorithms compare elements"), 25.0)
}

// Article/punctuation churn is absorbed by the Levenshtein leg, which sees
// normalised text; the raw-token legs still see the churn, so the blend
// lands well above disjoint text but below a full match.
func TestBlend_RobustToArticles(t *testing.T) {
	a := "The CPU executes the instructions."
	b := "CPU executes instructions"

	assert.InDelta(t, 100.0, Levenshtein(Normalize(a), Normalize(b)), 1e-9)

	// 0.4*100 + 0.3*Jaccard(40) + 0.3*Cosine(~43.6)
	got := Similarity(a, b)
	assert.InDelta(t, 65.09, got, 0.1)
	assert.Greater(t, got, Similarity(a, "sorting algorithms compare elements"))
}

func TestBlend_Symmetric(t *testing.T) {
	a, b := "what does ram stand for", "what is ram short for"
	assert.InDelta(t, Similarity(a, b), Similarity(b, a), 1e-9)
}

func TestBlend_CustomWeights(t *testing.T) {
	// All weight on Jaccard: word order is irrelevant.
	w := Weights{Jaccard: 1}
	assert.InDelta(t, 100.0, Blend("one two three", "three two one", w), 1e-9)
}
