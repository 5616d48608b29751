package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-portal/internal/models"
)

func questions(correct ...int) []models.TestQuestion {
	out := make([]models.TestQuestion, 0, len(correct))
	for _, answer := range correct {
		out = append(out, models.TestQuestion{Question: "q", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: answer})
	}
	return out
}

func TestScore(t *testing.T) {
	cases := []struct {
		name      string
		questions []models.TestQuestion
		maxScore  int
		answers   map[int]int
		want      Outcome
	}{
		{
			name:      "half correct",
			questions: questions(1, 2, 0, 3),
			maxScore:  100,
			answers:   map[int]int{0: 1, 1: 0, 2: 0, 3: 2},
			want:      Outcome{Correct: 2, Total: 4, Score: 50},
		},
		{
			name:      "nothing answered",
			questions: questions(0, 1, 2, 3, 0),
			maxScore:  10,
			answers:   map[int]int{},
			want:      Outcome{Correct: 0, Total: 5, Score: 0},
		},
		{
			name:      "rounds half up",
			questions: questions(0, 0, 0, 0),
			maxScore:  10,
			answers:   map[int]int{0: 0},
			want:      Outcome{Correct: 1, Total: 4, Score: 3},
		},
		{
			name:      "rounds down below half",
			questions: questions(0, 0, 0),
			maxScore:  10,
			answers:   map[int]int{0: 0},
			want:      Outcome{Correct: 1, Total: 3, Score: 3},
		},
		{
			name:      "out of range answers ignored",
			questions: questions(2, 2),
			maxScore:  10,
			answers:   map[int]int{0: 2, 5: 2, -1: 2},
			want:      Outcome{Correct: 1, Total: 2, Score: 5},
		},
		{
			name:      "empty test",
			questions: nil,
			maxScore:  100,
			answers:   map[int]int{0: 1},
			want:      Outcome{Correct: 0, Total: 0, Score: 0},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Score(tc.questions, tc.maxScore, tc.answers))
		})
	}
}
