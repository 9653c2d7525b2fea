// Package pipeline post-processes generated question sets: near-duplicate
// removal, LLM-judged quality filtering, and difficulty rebalancing.
package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/textsim"
)

// questionSimilarity scores two questions 0-100. Cheap question-text
// comparison first; the options only weigh in when the texts are already
// close, since distinct questions rarely share option sets.
const optionsGateThreshold = 50

func questionSimilarity(a, b *schemas.Question) float64 {
	textScore := textsim.Similarity(a.QuestionText, b.QuestionText)
	if textScore < optionsGateThreshold {
		return textScore
	}
	optScore := textsim.Similarity(joinOptions(a), joinOptions(b))
	return 0.7*textScore + 0.3*optScore
}

func joinOptions(q *schemas.Question) string {
	opts := q.Options()
	return strings.Join(opts[:], " ")
}

// RemovalInfo records one dropped duplicate.
type RemovalInfo struct {
	RemovedIndex int     `json:"removedIndex"`
	KeptIndex    int     `json:"keptIndex"`
	Similarity   float64 `json:"similarity"`
	Reason       string  `json:"reason"`
}

// DedupResult is the outcome of one deduplication pass.
type DedupResult struct {
	Questions         []schemas.Question `json:"questions"`
	DuplicatesFound   int                `json:"duplicatesFound"`
	DuplicatesRemoved int                `json:"duplicatesRemoved"`
	RemovalInfo       []RemovalInfo      `json:"removalInfo"`
}

// Deduplicator finds near-duplicate clusters and keeps the best member of
// each.
type Deduplicator struct {
	threshold float64
	logger    *zap.Logger
}

func NewDeduplicator(threshold float64, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{threshold: threshold, logger: logger.Named("dedup")}
}

// Run deduplicates questions. scores, when non-nil, maps question index to
// an external quality score used to pick the survivor of each cluster;
// without scores a structural heuristic decides.
func (d *Deduplicator) Run(questions []schemas.Question, scores map[int]float64) DedupResult {
	n := len(questions)
	result := DedupResult{Questions: questions}
	if n < 2 {
		return result
	}

	processed := make([]bool, n)
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < n; i++ {
		if processed[i] {
			continue
		}
		processed[i] = true
		group := []int{i}
		groupSim := make(map[int]float64)

		for j := i + 1; j < n; j++ {
			if processed[j] {
				continue
			}
			sim := questionSimilarity(&questions[i], &questions[j])
			if sim >= d.threshold {
				processed[j] = true
				group = append(group, j)
				groupSim[j] = sim
			}
		}
		if len(group) < 2 {
			continue
		}

		result.DuplicatesFound += len(group) - 1
		winner := d.pickWinner(questions, group, scores)
		for _, idx := range group {
			if idx == winner {
				continue
			}
			keep[idx] = false
			result.DuplicatesRemoved++
			sim := groupSim[idx]
			if idx == i {
				// The anchor lost to a later member; reuse its pair score.
				sim = groupSim[winner]
			}
			result.RemovalInfo = append(result.RemovalInfo, RemovalInfo{
				RemovedIndex: idx,
				KeptIndex:    winner,
				Similarity:   sim,
				Reason:       fmt.Sprintf("near-duplicate of question %d", winner),
			})
		}
	}

	if result.DuplicatesRemoved == 0 {
		return result
	}

	kept := make([]schemas.Question, 0, n-result.DuplicatesRemoved)
	for i, q := range questions {
		if keep[i] {
			kept = append(kept, q)
		}
	}
	result.Questions = kept
	d.logger.Info("Deduplication complete",
		zap.Int("input", n),
		zap.Int("removed", result.DuplicatesRemoved))
	return result
}

// pickWinner selects the cluster member to keep: highest external score
// when available, otherwise the structural heuristic.
func (d *Deduplicator) pickWinner(questions []schemas.Question, group []int, scores map[int]float64) int {
	winner := group[0]
	best := -1.0
	for _, idx := range group {
		var score float64
		if scores != nil {
			if s, ok := scores[idx]; ok {
				score = s
			} else {
				score = heuristicScore(&questions[idx])
			}
		} else {
			score = heuristicScore(&questions[idx])
		}
		if score > best {
			best = score
			winner = idx
		}
	}
	return winner
}

// heuristicScore ranks a question by structural richness when no judge
// scores exist: longer text, a substantive rationale, fuller options, and
// harder difficulty all indicate more effort from the model.
func heuristicScore(q *schemas.Question) float64 {
	score := 0.0

	if l := float64(len(q.QuestionText)) / 5; l > 20 {
		score += 20
	} else {
		score += l
	}

	if len(q.Rationale) >= 50 {
		score += 20
	}

	total := 0
	for _, opt := range q.Options() {
		total += len(opt)
	}
	if avg := float64(total) / 4; avg > 20 {
		score += 20
	} else {
		score += avg
	}

	switch q.Difficulty {
	case schemas.DifficultyHard:
		score += 10
	case schemas.DifficultyMedium:
		score += 5
	}
	return score
}
