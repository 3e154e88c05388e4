package services

import (
	"math"

	"quizparty/models"
)

// Score computes the points awarded for a single answer. Wrong answers and
// the no-answer sentinel score zero; correct answers score a base of 10 plus
// half the remaining time, floored. Total and deterministic for all inputs.
func Score(answer, correctAnswer int, responseTime float64, timeLimit int) int {
	if answer == models.NoAnswer || answer != correctAnswer {
		return 0
	}

	rt := responseTime
	if rt < 0 {
		rt = 0
	}
	if rt > float64(timeLimit) {
		rt = float64(timeLimit)
	}

	timeBonus := math.Max(0, float64(timeLimit)-rt)
	return 10 + int(math.Floor(timeBonus*0.5))
}
