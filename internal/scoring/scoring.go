// Package scoring grades single-choice tests.
package scoring

import (
	"math"

	"github.com/noah-isme/gema-portal/internal/models"
)

// Outcome is the graded result of one attempt.
type Outcome struct {
	Correct int
	Total   int
	Score   int
}

// Score counts answers matching the correct option and scales the count to
// maxScore, rounding half away from zero. Unanswered questions and answers
// for indices outside the question list never count.
func Score(questions []models.TestQuestion, maxScore int, answers map[int]int) Outcome {
	outcome := Outcome{Total: len(questions)}
	if len(questions) == 0 {
		return outcome
	}

	for index, question := range questions {
		choice, ok := answers[index]
		if ok && choice == question.CorrectAnswer {
			outcome.Correct++
		}
	}

	outcome.Score = int(math.Round(float64(outcome.Correct) / float64(len(questions)) * float64(maxScore)))
	return outcome
}
