package schemas

import (
	"fmt"
	"strings"
	"time"
)

// Difficulty buckets a question lands in after standardisation.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	// DifficultyMixed is only valid as a *requested* difficulty; generated
	// questions always carry one of the three concrete levels.
	DifficultyMixed Difficulty = "mixed"
)

// BloomLevel names a level of Bloom's taxonomy requested for generation.
type BloomLevel string

const (
	BloomRemember   BloomLevel = "remember"
	BloomUnderstand BloomLevel = "understand"
	BloomApply      BloomLevel = "apply"
	BloomAnalyze    BloomLevel = "analyze"
	BloomEvaluate   BloomLevel = "evaluate"
	BloomCreate     BloomLevel = "create"
)

// Question is the canonical multiple-choice record produced by the pipeline.
// Field names follow the wire format consumed by downstream quiz tooling.
type Question struct {
	QuestionText  string     `json:"questiontext"`
	OptionA       string     `json:"optiona"`
	OptionB       string     `json:"optionb"`
	OptionC       string     `json:"optionc"`
	OptionD       string     `json:"optiond"`
	CorrectAnswer string     `json:"correctanswer"`
	Difficulty    Difficulty `json:"difficulty"`
	Rationale     string     `json:"rationale,omitempty"`
	BloomLevel    BloomLevel `json:"bloomLevel,omitempty"`
}

// Options returns the four answer options in A..D order.
func (q *Question) Options() [4]string {
	return [4]string{q.OptionA, q.OptionB, q.OptionC, q.OptionD}
}

// Validate enforces the canonical invariants: all four options non-empty,
// exactly one correct letter in A..D, and a concrete difficulty.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.QuestionText) == "" {
		return fmt.Errorf("question text is empty")
	}
	for i, opt := range q.Options() {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("option %c is empty", 'A'+i)
		}
	}
	switch strings.ToUpper(strings.TrimSpace(q.CorrectAnswer)) {
	case "A", "B", "C", "D":
	default:
		return fmt.Errorf("correct answer %q is not one of A, B, C, D", q.CorrectAnswer)
	}
	switch q.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("difficulty %q is not one of easy, medium, hard", q.Difficulty)
	}
	return nil
}

// SetMetadata describes how a QuestionSet was produced.
type SetMetadata struct {
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	NumQuestions int       `json:"num_questions"`
	GeneratedAt  time.Time `json:"generated_at"`
	Strategy     string    `json:"strategy,omitempty"`

	// Parallel execution bookkeeping.
	Parallel bool         `json:"parallel,omitempty"`
	Chunks   int          `json:"chunks,omitempty"`
	Errors   []ChunkError `json:"errors,omitempty"`

	// Short flags a set that ended up smaller than requested after the
	// post-processing pipeline; the orchestrator does not refill.
	Short   bool `json:"short,omitempty"`
	Missing int  `json:"missing,omitempty"`

	Cached bool `json:"cached,omitempty"`
}

// ChunkError records a chunk that failed during parallel generation.
type ChunkError struct {
	Chunk int    `json:"chunk"`
	Size  int    `json:"size"`
	Error string `json:"error"`
}

// QuestionSet bundles generated questions with their provenance.
// Invariant: Metadata.NumQuestions == len(Questions).
type QuestionSet struct {
	Questions []Question  `json:"questions"`
	Metadata  SetMetadata `json:"metadata"`
}

// Truncate caps the set at n questions and restores the count invariant.
func (s *QuestionSet) Truncate(n int) {
	if n >= 0 && len(s.Questions) > n {
		s.Questions = s.Questions[:n]
	}
	s.Metadata.NumQuestions = len(s.Questions)
}

// GenerationOptions carries the caller-tunable knobs for one generation call.
type GenerationOptions struct {
	NumQuestions int        `json:"num_questions"`
	BloomLevel   BloomLevel `json:"bloomLevel,omitempty"`
	Difficulty   Difficulty `json:"difficulty,omitempty"`
}

// GenerationRequest is the full orchestrator input.
type GenerationRequest struct {
	Text         string     `json:"text"`
	NumQuestions int        `json:"num_questions"`
	BloomLevel   BloomLevel `json:"bloomLevel,omitempty"`
	Difficulty   Difficulty `json:"difficulty,omitempty"`
	Strategy     string     `json:"strategy,omitempty"`
}

// Validate rejects requests the pipeline cannot act on.
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if r.NumQuestions <= 0 {
		return fmt.Errorf("num_questions must be a positive integer")
	}
	return nil
}
