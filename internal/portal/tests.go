package portal

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/pkg/ai"
)

// PublishTest assigns a quiz to a group. Every question needs at least two
// options and a correct answer among them.
func (p *Portal) PublishTest(ctx context.Context, payload dto.TestPublishRequest) (models.Test, error) {
	payload.Topic = p.clean(payload.Topic)
	if err := p.validator.Struct(payload); err != nil {
		return models.Test{}, err
	}
	for i, question := range payload.Questions {
		if question.Question == "" || len(question.Options) < 2 {
			return models.Test{}, fmt.Errorf("%w: question %d needs text and two options", ErrInvalidQuestion, i+1)
		}
		if question.CorrectAnswer < 0 || question.CorrectAnswer >= len(question.Options) {
			return models.Test{}, fmt.Errorf("%w: question %d has no such option %d", ErrInvalidQuestion, i+1, question.CorrectAnswer)
		}
	}

	test := models.Test{
		SubjectID:       payload.SubjectID,
		Topic:           payload.Topic,
		Questions:       payload.Questions,
		MaxScore:        payload.MaxScore,
		AssignedGroupID: payload.AssignedGroupID,
		CreatedAt:       p.millis(),
		Deadline:        payload.Deadline,
		Duration:        payload.Duration,
	}
	err := replicator.Mutate(ctx, p.replicator, models.CollectionTests, func(tests []models.Test) ([]models.Test, error) {
		test.ID = p.nextID(func(id string) bool { return indexTest(tests, id) >= 0 })
		return append(tests, test), nil
	})
	if err = p.settle(err, models.CollectionTests); err != nil {
		return models.Test{}, err
	}

	p.logger.Info().
		Str("test_id", test.ID).
		Str("group_id", test.AssignedGroupID).
		Int("questions", len(test.Questions)).
		Msg("test published")
	return test, nil
}

// GenerateQuestions drafts questions for a professor to review before
// publishing. Nothing is stored.
func (p *Portal) GenerateQuestions(ctx context.Context, payload dto.TestGenerateRequest) ([]models.TestQuestion, error) {
	if err := p.validator.Struct(payload); err != nil {
		return nil, err
	}
	if p.ai == nil {
		return nil, ErrAIDisabled
	}

	questions, err := p.ai.GenerateTest(ctx, ai.GenerateTestInput{
		Topic:    payload.Topic,
		Count:    payload.Count,
		Variants: payload.Variants,
		Language: payload.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions on %q: %w", payload.Topic, err)
	}
	return questions, nil
}

// DeleteTest withdraws a test. Results already recorded are kept.
func (p *Portal) DeleteTest(ctx context.Context, id string) error {
	err := replicator.Mutate(ctx, p.replicator, models.CollectionTests, func(tests []models.Test) ([]models.Test, error) {
		idx := indexTest(tests, id)
		if idx < 0 {
			return nil, ErrTestNotFound
		}
		return append(tests[:idx:idx], tests[idx+1:]...), nil
	})
	return p.settle(err, models.CollectionTests)
}

// Test returns a published test.
func (p *Portal) Test(id string) (models.Test, error) {
	tests, err := replicator.Collection[models.Test](p.replicator, models.CollectionTests)
	if err != nil {
		return models.Test{}, err
	}
	idx := indexTest(tests, id)
	if idx < 0 {
		return models.Test{}, ErrTestNotFound
	}
	return tests[idx], nil
}

// ResultsFor lists the recorded attempts at a test.
func (p *Portal) ResultsFor(testID string) ([]models.TestResult, error) {
	results, err := replicator.Collection[models.TestResult](p.replicator, models.CollectionTestResults)
	if err != nil {
		return nil, err
	}

	matched := make([]models.TestResult, 0)
	for _, result := range results {
		if result.TestID == testID {
			matched = append(matched, result)
		}
	}
	return matched, nil
}

func indexTest(tests []models.Test, id string) int {
	for i, test := range tests {
		if test.ID == id {
			return i
		}
	}
	return -1
}
