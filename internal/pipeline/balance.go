package pipeline

import (
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
)

// Distribution is the fraction of questions at each difficulty.
type Distribution map[schemas.Difficulty]float64

// Band limits for a balanced set: every level within [0.2, 0.5].
const (
	balanceFloor = 0.2
	balanceCeil  = 0.5
)

// BalanceResult is the outcome of a rebalancing pass.
type BalanceResult struct {
	Questions []schemas.Question `json:"questions"`
	Balanced  bool               `json:"balanced"`
	Removed   int                `json:"removed"`
}

// Balancer nudges question sets toward an even difficulty spread by
// removing the excess from over-represented levels. It never fabricates
// questions.
type Balancer struct {
	logger *zap.Logger
}

func NewBalancer(logger *zap.Logger) *Balancer {
	return &Balancer{logger: logger.Named("balance")}
}

// CalculateDistribution returns the per-level fraction of qs.
func CalculateDistribution(qs []schemas.Question) Distribution {
	dist := Distribution{
		schemas.DifficultyEasy:   0,
		schemas.DifficultyMedium: 0,
		schemas.DifficultyHard:   0,
	}
	if len(qs) == 0 {
		return dist
	}
	for _, q := range qs {
		dist[q.Difficulty]++
	}
	for level := range dist {
		dist[level] /= float64(len(qs))
	}
	return dist
}

// IsBalanced reports whether every level sits inside the band.
func IsBalanced(dist Distribution) bool {
	for _, level := range []schemas.Difficulty{schemas.DifficultyEasy, schemas.DifficultyMedium, schemas.DifficultyHard} {
		f := dist[level]
		if f < balanceFloor || f > balanceCeil {
			return false
		}
	}
	return true
}

// BalanceByRemoval drops questions from the dominant level until every
// level is within band or removal stops helping. Under-represented levels
// cannot be fixed by removal alone, so a set can come back Balanced=false.
func (b *Balancer) BalanceByRemoval(qs []schemas.Question) BalanceResult {
	result := BalanceResult{Questions: qs}
	if len(qs) == 0 {
		return result
	}

	working := append([]schemas.Question(nil), qs...)
	for {
		dist := CalculateDistribution(working)
		if IsBalanced(dist) {
			break
		}

		// Find the most over-represented level.
		var worst schemas.Difficulty
		worstFrac := 0.0
		for level, f := range dist {
			if f > balanceCeil && f > worstFrac {
				worst, worstFrac = level, f
			}
		}
		if worst == "" {
			// Only under-representation remains; removal cannot fix it.
			break
		}
		if worstFrac == 1.0 {
			// Homogeneous set: removal never changes the fraction.
			break
		}

		// Drop the last question at that level.
		removed := false
		for i := len(working) - 1; i >= 0; i-- {
			if working[i].Difficulty == worst {
				working = append(working[:i], working[i+1:]...)
				removed = true
				break
			}
		}
		if !removed || len(working) == 0 {
			break
		}
		result.Removed++
	}

	result.Questions = working
	result.Balanced = IsBalanced(CalculateDistribution(working))
	if result.Removed > 0 {
		b.logger.Info("Difficulty rebalanced by removal",
			zap.Int("removed", result.Removed),
			zap.Bool("balanced", result.Balanced))
	}
	return result
}
