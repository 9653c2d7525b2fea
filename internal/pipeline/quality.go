package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/llmutil"
)

// Judge is the slice of the provider contract the scorer needs. Satisfied
// by any provider adapter.
type Judge interface {
	GenerateResponse(ctx context.Context, prompt string, images []schemas.ImageInput) (string, error)
}

// Recommendation buckets for a scored question.
const (
	RecommendAccept = "accept"
	RecommendRevise = "revise"
	RecommendReject = "reject"
)

// QualityScore is the judge's verdict on one question. Components sum to
// Total on a 0-10 scale.
type QualityScore struct {
	Index          int      `json:"index"`
	Clarity        int      `json:"clarity"`     // 0-3
	Distractors    int      `json:"distractors"` // 0-3
	Relevance      int      `json:"relevance"`   // 0-2
	Correctness    int      `json:"correctness"` // 0-2
	Total          int      `json:"total"`
	Recommendation string   `json:"recommendation"`
	Issues         []string `json:"issues,omitempty"`
}

// Scorer grades questions through an LLM judge in batches. Judge or parse
// failures degrade to accept so a flaky judge never discards a whole run.
type Scorer struct {
	judge     Judge
	batchSize int
	logger    *zap.Logger
}

func NewScorer(judge Judge, batchSize int, logger *zap.Logger) *Scorer {
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Scorer{judge: judge, batchSize: batchSize, logger: logger.Named("quality")}
}

const judgeSystemPreamble = `You are a strict quiz reviewer. Grade each question on four axes:
clarity (0-3): unambiguous, well-formed question text;
distractors (0-3): wrong options are plausible and distinct;
relevance (0-2): the question tests the supplied material;
correctness (0-2): the marked answer is actually correct.
Respond with only a JSON array, one object per question, of the form:
[{"index": 0, "clarity": 3, "distractors": 2, "relevance": 2, "correctness": 2, "issues": ["..."]}]
No markdown fences, no commentary.`

// Score grades every question, batched. The returned slice is indexed like
// the input.
func (s *Scorer) Score(ctx context.Context, questions []schemas.Question, sourceText string) []QualityScore {
	scores := make([]QualityScore, len(questions))
	for start := 0; start < len(questions); start += s.batchSize {
		end := start + s.batchSize
		if end > len(questions) {
			end = len(questions)
		}
		s.scoreBatch(ctx, questions[start:end], sourceText, scores[start:end], start)
	}
	return scores
}

func (s *Scorer) scoreBatch(ctx context.Context, batch []schemas.Question, sourceText string, out []QualityScore, offset int) {
	prompt := s.buildPrompt(batch, sourceText)
	response, err := s.judge.GenerateResponse(ctx, prompt, nil)
	if err != nil {
		s.logger.Warn("Judge call failed, accepting batch unscored",
			zap.Int("offset", offset),
			zap.Int("batch", len(batch)),
			zap.Error(err))
		s.failOpen(out, offset)
		return
	}

	parsed, err := llmutil.ParseJSON[[]QualityScore](response)
	if err != nil || len(*parsed) == 0 {
		s.logger.Warn("Judge response unparseable, accepting batch unscored",
			zap.Int("offset", offset),
			zap.Error(err))
		s.failOpen(out, offset)
		return
	}

	// Default any question the judge skipped to fail-open.
	s.failOpen(out, offset)
	for _, sc := range *parsed {
		if sc.Index < 0 || sc.Index >= len(batch) {
			continue
		}
		out[sc.Index] = finalize(sc, offset)
	}
}

// finalize clamps components, recomputes the total, and derives the
// recommendation. The judge's own total and recommendation are ignored.
func finalize(sc QualityScore, offset int) QualityScore {
	sc.Clarity = clamp(sc.Clarity, 0, 3)
	sc.Distractors = clamp(sc.Distractors, 0, 3)
	sc.Relevance = clamp(sc.Relevance, 0, 2)
	sc.Correctness = clamp(sc.Correctness, 0, 2)
	sc.Total = sc.Clarity + sc.Distractors + sc.Relevance + sc.Correctness
	sc.Index += offset

	switch {
	case sc.Total >= 7:
		sc.Recommendation = RecommendAccept
	case sc.Total >= 5:
		sc.Recommendation = RecommendRevise
	default:
		sc.Recommendation = RecommendReject
	}
	return sc
}

func (s *Scorer) failOpen(out []QualityScore, offset int) {
	for i := range out {
		out[i] = QualityScore{
			Index:          offset + i,
			Clarity:        3,
			Distractors:    3,
			Relevance:      2,
			Correctness:    2,
			Total:          10,
			Recommendation: RecommendAccept,
			Issues:         []string{"unknown"},
		}
	}
}

func (s *Scorer) buildPrompt(batch []schemas.Question, sourceText string) string {
	var b strings.Builder
	b.WriteString(judgeSystemPreamble)
	b.WriteString("\n\nSource material (may be truncated):\n")
	b.WriteString(truncateText(sourceText, 2000))
	b.WriteString("\n\nQuestions:\n")
	payload, _ := json.Marshal(batch)
	b.Write(payload)
	fmt.Fprintf(&b, "\n\nGrade all %d questions, index 0 to %d.", len(batch), len(batch)-1)
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// ApplyScores drops every rejected question. Accepted and revise-flagged
// questions are kept; revision itself is left to callers that want it.
func ApplyScores(questions []schemas.Question, scores []QualityScore) (kept []schemas.Question, rejected int) {
	for i, q := range questions {
		if i < len(scores) && scores[i].Recommendation == RecommendReject {
			rejected++
			continue
		}
		kept = append(kept, q)
	}
	return kept, rejected
}
