package portal

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/pkg/ai"
)

// Submit hands in a student's file. A student submits a task at most once;
// a second attempt returns the existing submission with ErrAlreadySubmitted.
func (p *Portal) Submit(ctx context.Context, payload dto.SubmitRequest) (models.StudentSubmission, error) {
	payload.Email = models.NormalizeEmail(payload.Email)
	payload.StudentName = p.clean(payload.StudentName)
	if payload.StudentName == "" {
		payload.StudentName = "Student"
	}
	if err := p.validator.Struct(payload); err != nil {
		return models.StudentSubmission{}, err
	}
	if len(payload.File.Data) > MaxSubmissionBytes {
		return models.StudentSubmission{}, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(payload.File.Data), MaxSubmissionBytes)
	}
	if err := p.replicator.Ready(ctx); err != nil {
		return models.StudentSubmission{}, err
	}
	task, err := p.task(payload.TaskID)
	if err != nil {
		return models.StudentSubmission{}, err
	}
	if existing, ok, err := p.findSubmission(payload.TaskID, payload.Email); err != nil {
		return models.StudentSubmission{}, err
	} else if ok {
		return existing, ErrAlreadySubmitted
	}

	ref, err := p.storeFile(ctx, payload.File, MaxSubmissionBytes)
	if err != nil {
		return models.StudentSubmission{}, err
	}

	submission := models.StudentSubmission{
		TaskID:       payload.TaskID,
		StudentEmail: payload.Email,
		StudentName:  payload.StudentName,
		FileData:     ref,
		FileName:     payload.File.Name,
		SubmittedAt:  p.millis(),
	}

	var existing models.StudentSubmission
	err = replicator.Mutate(ctx, p.replicator, models.CollectionSubmissions, func(subs []models.StudentSubmission) ([]models.StudentSubmission, error) {
		for _, sub := range subs {
			if sub.Matches(submission.TaskID, submission.StudentEmail) {
				existing = sub
				return nil, ErrAlreadySubmitted
			}
		}
		submission.ID = p.nextID(func(id string) bool { return indexSubmission(subs, id) >= 0 })
		return append([]models.StudentSubmission{submission}, subs...), nil
	})
	if err = p.settle(err, models.CollectionSubmissions); err != nil {
		p.dropFile(ctx, ref)
		if errors.Is(err, ErrAlreadySubmitted) {
			return existing, err
		}
		return models.StudentSubmission{}, err
	}

	p.logger.Info().
		Str("task_id", submission.TaskID).
		Str("student_email", submission.StudentEmail).
		Bool("late", task.IsPastDue(p.now())).
		Msg("submission received")
	return submission, nil
}

// SubmissionsFor lists the submissions of a task.
func (p *Portal) SubmissionsFor(taskID string) ([]models.StudentSubmission, error) {
	subs, err := replicator.Collection[models.StudentSubmission](p.replicator, models.CollectionSubmissions)
	if err != nil {
		return nil, err
	}

	matched := make([]models.StudentSubmission, 0)
	for _, sub := range subs {
		if sub.TaskID == taskID {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// GradeWithAI asks the AI collaborator for a grade and stores it as the
// preliminary final grade. The submission is untouched when the AI fails.
func (p *Portal) GradeWithAI(ctx context.Context, payload dto.GradeRequest) (models.StudentSubmission, error) {
	if err := p.validator.Struct(payload); err != nil {
		return models.StudentSubmission{}, err
	}
	if p.ai == nil {
		return models.StudentSubmission{}, ErrAIDisabled
	}

	if err := p.replicator.Ready(ctx); err != nil {
		return models.StudentSubmission{}, err
	}
	sub, task, err := p.submissionWithTask(payload.SubmissionID)
	if err != nil {
		return models.StudentSubmission{}, err
	}
	text, err := p.fileText(ctx, sub.FileData)
	if err != nil {
		return models.StudentSubmission{}, fmt.Errorf("read submission %s: %w", sub.ID, err)
	}

	result, err := p.ai.GradeSubmission(ctx, ai.GradeInput{
		TaskDescription: task.Description,
		MaxPoints:       task.MaxPoints,
		FileName:        sub.FileName,
		FileText:        text,
		Language:        payload.Language,
	})
	if err != nil {
		return models.StudentSubmission{}, fmt.Errorf("grade submission %s: %w", sub.ID, err)
	}

	grade := result.Grade
	return p.updateSubmission(ctx, sub.ID, func(s *models.StudentSubmission) error {
		s.AIResult = &result
		s.FinalGrade = &grade
		return nil
	})
}

// AuditWithAI stores an AI review of how the submission meets the task criteria.
func (p *Portal) AuditWithAI(ctx context.Context, payload dto.GradeRequest) (models.StudentSubmission, error) {
	if err := p.validator.Struct(payload); err != nil {
		return models.StudentSubmission{}, err
	}
	if p.ai == nil {
		return models.StudentSubmission{}, ErrAIDisabled
	}

	if err := p.replicator.Ready(ctx); err != nil {
		return models.StudentSubmission{}, err
	}
	sub, task, err := p.submissionWithTask(payload.SubmissionID)
	if err != nil {
		return models.StudentSubmission{}, err
	}
	text, err := p.fileText(ctx, sub.FileData)
	if err != nil {
		return models.StudentSubmission{}, fmt.Errorf("read submission %s: %w", sub.ID, err)
	}

	audit, err := p.ai.AuditSubmission(ctx, ai.AuditInput{
		Criteria: task.Title + "\n" + task.Description,
		FileName: sub.FileName,
		FileText: text,
		Language: payload.Language,
	})
	if err != nil {
		return models.StudentSubmission{}, fmt.Errorf("audit submission %s: %w", sub.ID, err)
	}

	return p.updateSubmission(ctx, sub.ID, func(s *models.StudentSubmission) error {
		s.IndividualAudit = &audit
		return nil
	})
}

// CheckPlagiarism compares a submission with the other submissions of its task.
func (p *Portal) CheckPlagiarism(ctx context.Context, submissionID string) (models.StudentSubmission, error) {
	if p.ai == nil {
		return models.StudentSubmission{}, ErrAIDisabled
	}

	if err := p.replicator.Ready(ctx); err != nil {
		return models.StudentSubmission{}, err
	}
	sub, err := p.submission(submissionID)
	if err != nil {
		return models.StudentSubmission{}, err
	}
	peers, err := p.SubmissionsFor(sub.TaskID)
	if err != nil {
		return models.StudentSubmission{}, err
	}

	text, err := p.fileText(ctx, sub.FileData)
	if err != nil {
		return models.StudentSubmission{}, fmt.Errorf("read submission %s: %w", sub.ID, err)
	}
	input := ai.PlagiarismInput{FileText: text}
	for _, peer := range peers {
		if peer.ID == sub.ID {
			continue
		}
		peerText, err := p.fileText(ctx, peer.FileData)
		if err != nil {
			p.logger.Warn().Err(err).Str("submission_id", peer.ID).Msg("skipping unreadable peer submission")
			continue
		}
		input.Peers = append(input.Peers, ai.PeerWork{Email: peer.StudentEmail, Text: peerText})
	}

	result, err := p.ai.CheckPlagiarism(ctx, input)
	if err != nil {
		return models.StudentSubmission{}, fmt.Errorf("check plagiarism of %s: %w", sub.ID, err)
	}

	originality := result.Originality
	return p.updateSubmission(ctx, sub.ID, func(s *models.StudentSubmission) error {
		s.PlagiarismScore = &originality
		s.SimilarStudentEmail = result.SimilarEmail
		return nil
	})
}

// SetFinalGrade records the professor's grade, between zero and the task's
// maximum points.
func (p *Portal) SetFinalGrade(ctx context.Context, submissionID string, grade float64) (models.StudentSubmission, error) {
	if err := p.replicator.Ready(ctx); err != nil {
		return models.StudentSubmission{}, err
	}
	_, task, err := p.submissionWithTask(submissionID)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		return models.StudentSubmission{}, err
	}
	if grade < 0 || (task.MaxPoints > 0 && grade > float64(task.MaxPoints)) {
		return models.StudentSubmission{}, fmt.Errorf("%w: %.1f", ErrInvalidGrade, grade)
	}

	return p.updateSubmission(ctx, submissionID, func(s *models.StudentSubmission) error {
		s.FinalGrade = &grade
		return nil
	})
}

func (p *Portal) updateSubmission(ctx context.Context, id string, apply func(*models.StudentSubmission) error) (models.StudentSubmission, error) {
	var updated models.StudentSubmission
	err := replicator.Mutate(ctx, p.replicator, models.CollectionSubmissions, func(subs []models.StudentSubmission) ([]models.StudentSubmission, error) {
		idx := indexSubmission(subs, id)
		if idx < 0 {
			return nil, ErrSubmissionNotFound
		}
		if err := apply(&subs[idx]); err != nil {
			return nil, err
		}
		updated = subs[idx]
		return subs, nil
	})
	if err = p.settle(err, models.CollectionSubmissions); err != nil {
		return models.StudentSubmission{}, err
	}
	return updated, nil
}

func (p *Portal) submission(id string) (models.StudentSubmission, error) {
	subs, err := replicator.Collection[models.StudentSubmission](p.replicator, models.CollectionSubmissions)
	if err != nil {
		return models.StudentSubmission{}, err
	}
	idx := indexSubmission(subs, id)
	if idx < 0 {
		return models.StudentSubmission{}, ErrSubmissionNotFound
	}
	return subs[idx], nil
}

func (p *Portal) submissionWithTask(id string) (models.StudentSubmission, models.AssignmentTask, error) {
	sub, err := p.submission(id)
	if err != nil {
		return models.StudentSubmission{}, models.AssignmentTask{}, err
	}
	task, err := p.task(sub.TaskID)
	if err != nil {
		return sub, models.AssignmentTask{}, err
	}
	return sub, task, nil
}

func (p *Portal) findSubmission(taskID, email string) (models.StudentSubmission, bool, error) {
	subs, err := replicator.Collection[models.StudentSubmission](p.replicator, models.CollectionSubmissions)
	if err != nil {
		return models.StudentSubmission{}, false, err
	}
	for _, sub := range subs {
		if sub.Matches(taskID, email) {
			return sub, true, nil
		}
	}
	return models.StudentSubmission{}, false, nil
}

func indexSubmission(subs []models.StudentSubmission, id string) int {
	for i, sub := range subs {
		if sub.ID == id {
			return i
		}
	}
	return -1
}
