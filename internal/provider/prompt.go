package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/llmerrors"
	"github.com/quizforge/quizforge/internal/llmutil"
)

// quizSystemPrompt is the shared system instruction. Adapters send it through
// whatever mechanism their vendor uses for system messages.
const quizSystemPrompt = `You are an expert quiz author. You respond with only valid JSON, no markdown fences and no commentary.`

// buildQuizPrompt renders the user prompt for a generation call.
func buildQuizPrompt(text string, opts schemas.GenerationOptions) string {
	difficulty := opts.Difficulty
	if difficulty == "" {
		difficulty = schemas.DifficultyMixed
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create exactly %d multiple-choice questions from the study material below.\n\n", opts.NumQuestions)
	b.WriteString("Requirements:\n")
	b.WriteString("- Each question has exactly four options and one correct answer.\n")
	fmt.Fprintf(&b, "- Difficulty: %s.\n", difficulty)
	if opts.BloomLevel != "" {
		fmt.Fprintf(&b, "- Target Bloom's taxonomy level: %s.\n", opts.BloomLevel)
	}
	b.WriteString(`- Respond with a JSON object of the form:
{"questions": [{"questiontext": "...", "optiona": "...", "optionb": "...", "optionc": "...", "optiond": "...", "correctanswer": "A", "difficulty": "easy|medium|hard", "rationale": "..."}]}

Study material:
`)
	b.WriteString(text)
	return b.String()
}

// rawQuestionSet tolerates both response shapes vendors produce: a top-level
// questions array, or a single bare question object.
type rawQuestionSet struct {
	Questions []schemas.Question `json:"questions"`

	// Single-question shape.
	QuestionText  string             `json:"questiontext"`
	OptionA       string             `json:"optiona"`
	OptionB       string             `json:"optionb"`
	OptionC       string             `json:"optionc"`
	OptionD       string             `json:"optiond"`
	CorrectAnswer string             `json:"correctanswer"`
	Difficulty    schemas.Difficulty `json:"difficulty"`
	Rationale     string             `json:"rationale"`
}

// standardize coerces a provider response into a canonical QuestionSet:
// fences stripped, either shape accepted, correct letters uppercased,
// difficulty defaulted, over-long sets truncated, model recorded.
func standardize(response, providerName, model string, opts schemas.GenerationOptions) (*schemas.QuestionSet, error) {
	raw, err := llmutil.ParseJSON[rawQuestionSet](response)
	if err != nil {
		return nil, err
	}

	questions := raw.Questions
	if len(questions) == 0 && raw.QuestionText != "" {
		questions = []schemas.Question{{
			QuestionText:  raw.QuestionText,
			OptionA:       raw.OptionA,
			OptionB:       raw.OptionB,
			OptionC:       raw.OptionC,
			OptionD:       raw.OptionD,
			CorrectAnswer: raw.CorrectAnswer,
			Difficulty:    raw.Difficulty,
			Rationale:     raw.Rationale,
		}}
	}
	if len(questions) == 0 {
		return nil, llmerrors.New(llmerrors.KindParsing, 0, "provider response contained no questions")
	}

	for i := range questions {
		questions[i].CorrectAnswer = strings.ToUpper(strings.TrimSpace(questions[i].CorrectAnswer))
		if questions[i].Difficulty == "" || questions[i].Difficulty == schemas.DifficultyMixed {
			questions[i].Difficulty = schemas.DifficultyMedium
		}
		if questions[i].BloomLevel == "" {
			questions[i].BloomLevel = opts.BloomLevel
		}
		if err := questions[i].Validate(); err != nil {
			return nil, llmerrors.Wrap(err, fmt.Sprintf("question %d failed validation", i))
		}
	}

	set := &schemas.QuestionSet{
		Questions: questions,
		Metadata: schemas.SetMetadata{
			Provider:    providerName,
			Model:       model,
			GeneratedAt: time.Now().UTC(),
		},
	}
	set.Truncate(opts.NumQuestions)
	return set, nil
}
