// Package pricing holds the static per-provider cost and capability table
// used by the router to estimate spend and rank candidates.
package pricing

import (
	"math"

	"github.com/quizforge/quizforge/api/schemas"
)

// Speed and quality are coarse ordinals; smaller is better.
type Speed int

const (
	SpeedFast Speed = iota + 1
	SpeedMedium
	SpeedSlow
)

type Quality int

const (
	QualityExcellent Quality = iota + 1
	QualityGood
	QualityFair
)

// Capability describes a provider's pricing and rough service profile.
// Prices are USD per 1K tokens.
type Capability struct {
	InputPer1K  float64
	OutputPer1K float64
	Speed       Speed
	Quality     Quality
}

// table is intentionally static. Prices track the cheapest general-purpose
// model of each vendor rather than any specific snapshot.
var table = map[string]Capability{
	"openai":    {InputPer1K: 0.0025, OutputPer1K: 0.01, Speed: SpeedMedium, Quality: QualityExcellent},
	"gemini":    {InputPer1K: 0.000075, OutputPer1K: 0.0003, Speed: SpeedFast, Quality: QualityGood},
	"anthropic": {InputPer1K: 0.003, OutputPer1K: 0.015, Speed: SpeedSlow, Quality: QualityExcellent},
	"deepseek":  {InputPer1K: 0.00027, OutputPer1K: 0.0011, Speed: SpeedMedium, Quality: QualityGood},
	"kimi":      {InputPer1K: 0.00015, OutputPer1K: 0.0006, Speed: SpeedFast, Quality: QualityFair},
}

// defaultCapability is used for providers missing from the table so an
// unknown vendor never breaks routing; it simply ranks mid-field.
var defaultCapability = Capability{
	InputPer1K:  0.001,
	OutputPer1K: 0.002,
	Speed:       SpeedMedium,
	Quality:     QualityGood,
}

// Lookup returns the capability profile for a provider name.
func Lookup(provider string) Capability {
	if cap, ok := table[provider]; ok {
		return cap
	}
	return defaultCapability
}

// outputTokensPerQuestion is the flat estimate for one generated question
// (text, four options, rationale).
const outputTokensPerQuestion = 200

// EstimateInputTokens approximates tokens as ceil(chars/4).
func EstimateInputTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

// Estimate computes the projected cost of generating numQuestions from text
// on the named provider.
func Estimate(provider, text string, numQuestions int) schemas.CostCalc {
	cap := Lookup(provider)
	inTokens := EstimateInputTokens(text)
	outTokens := outputTokensPerQuestion * numQuestions

	inCost := float64(inTokens) / 1000 * cap.InputPer1K
	outCost := float64(outTokens) / 1000 * cap.OutputPer1K

	return schemas.CostCalc{
		Provider:     provider,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		InputCost:    inCost,
		OutputCost:   outCost,
		TotalCost:    inCost + outCost,
	}
}
