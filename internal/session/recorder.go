package session

import (
	"context"
	"errors"

	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
)

// Recorder persists test results, at most one per (test, student).
type Recorder interface {
	Lookup(ctx context.Context, testID, email string) (models.TestResult, bool, error)
	// Record appends result unless one already exists, in which case it
	// returns the existing result and ErrDuplicateAttempt. An error wrapping
	// store.ErrUnavailable means the result is kept and written later.
	Record(ctx context.Context, result models.TestResult) (models.TestResult, error)
}

// ReplicatorRecorder stores results in the replicated testResults collection.
type ReplicatorRecorder struct {
	replicator *replicator.Replicator
}

// NewReplicatorRecorder builds a Recorder over r.
func NewReplicatorRecorder(r *replicator.Replicator) *ReplicatorRecorder {
	return &ReplicatorRecorder{replicator: r}
}

func (rec *ReplicatorRecorder) Lookup(ctx context.Context, testID, email string) (models.TestResult, bool, error) {
	readyErr := rec.replicator.Ready(ctx)

	results, err := replicator.Collection[models.TestResult](rec.replicator, models.CollectionTestResults)
	if err != nil {
		return models.TestResult{}, false, err
	}

	existing, ok := models.FindResult(results, testID, email)
	if ok {
		return existing, true, nil
	}
	return models.TestResult{}, false, readyErr
}

func (rec *ReplicatorRecorder) Record(ctx context.Context, result models.TestResult) (models.TestResult, error) {
	var existing models.TestResult
	err := replicator.MutateOrQueue(ctx, rec.replicator, models.CollectionTestResults, func(items []models.TestResult) ([]models.TestResult, error) {
		if found, ok := models.FindResult(items, result.TestID, result.StudentEmail); ok {
			existing = found
			return nil, ErrDuplicateAttempt
		}
		return append(items, result), nil
	})
	if errors.Is(err, ErrDuplicateAttempt) {
		return existing, err
	}
	return result, err
}
