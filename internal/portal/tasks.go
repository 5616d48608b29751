package portal

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
)

// CreateTask publishes a task. New tasks are listed first.
func (p *Portal) CreateTask(ctx context.Context, payload dto.TaskRequest) (models.AssignmentTask, error) {
	payload.Title = p.clean(payload.Title)
	payload.Description = p.clean(payload.Description)
	if err := p.validator.Struct(payload); err != nil {
		return models.AssignmentTask{}, err
	}

	task := models.AssignmentTask{
		SubjectID:   payload.SubjectID,
		Title:       payload.Title,
		Description: payload.Description,
		MaxPoints:   payload.MaxPoints,
		GroupID:     payload.GroupID,
		ProfessorID: payload.ProfessorID,
		CreatedAt:   p.millis(),
		Deadline:    payload.Deadline,
	}
	if payload.Attachment != nil {
		ref, err := p.storeFile(ctx, *payload.Attachment, MaxAttachmentBytes)
		if err != nil {
			return models.AssignmentTask{}, err
		}
		task.FileData = ref
		task.FileName = payload.Attachment.Name
	}

	err := replicator.Mutate(ctx, p.replicator, models.CollectionTasks, func(tasks []models.AssignmentTask) ([]models.AssignmentTask, error) {
		task.ID = p.nextID(func(id string) bool { return indexTask(tasks, id) >= 0 })
		return append([]models.AssignmentTask{task}, tasks...), nil
	})
	if err = p.settle(err, models.CollectionTasks); err != nil {
		p.dropFile(ctx, task.FileData)
		return models.AssignmentTask{}, err
	}

	p.logger.Info().Str("task_id", task.ID).Str("group_id", task.GroupID).Msg("task created")
	return task, nil
}

// UpdateTask rewrites a task's fields. The attachment is kept unless a new
// one is supplied.
func (p *Portal) UpdateTask(ctx context.Context, id string, payload dto.TaskRequest) (models.AssignmentTask, error) {
	payload.Title = p.clean(payload.Title)
	payload.Description = p.clean(payload.Description)
	if err := p.validator.Struct(payload); err != nil {
		return models.AssignmentTask{}, err
	}

	var ref string
	if payload.Attachment != nil {
		stored, err := p.storeFile(ctx, *payload.Attachment, MaxAttachmentBytes)
		if err != nil {
			return models.AssignmentTask{}, err
		}
		ref = stored
	}

	var updated models.AssignmentTask
	var replaced string
	err := replicator.Mutate(ctx, p.replicator, models.CollectionTasks, func(tasks []models.AssignmentTask) ([]models.AssignmentTask, error) {
		idx := indexTask(tasks, id)
		if idx < 0 {
			return nil, ErrTaskNotFound
		}

		task := tasks[idx]
		task.SubjectID = payload.SubjectID
		task.GroupID = payload.GroupID
		task.Title = payload.Title
		task.Description = payload.Description
		task.MaxPoints = payload.MaxPoints
		task.Deadline = payload.Deadline
		if ref != "" {
			replaced = task.FileData
			task.FileData = ref
			task.FileName = payload.Attachment.Name
		}
		tasks[idx] = task
		updated = task
		return tasks, nil
	})
	if err = p.settle(err, models.CollectionTasks); err != nil {
		p.dropFile(ctx, ref)
		return models.AssignmentTask{}, err
	}

	p.dropFile(ctx, replaced)
	return updated, nil
}

// DeleteTasks removes tasks and every submission made for them. The two
// collections are written one after the other; a failure between them leaves
// orphaned submissions.
func (p *Portal) DeleteTasks(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	doomed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		doomed[id] = struct{}{}
	}

	var files []string
	err := replicator.Mutate(ctx, p.replicator, models.CollectionTasks, func(tasks []models.AssignmentTask) ([]models.AssignmentTask, error) {
		kept := make([]models.AssignmentTask, 0, len(tasks))
		for _, task := range tasks {
			if _, ok := doomed[task.ID]; ok {
				files = append(files, task.FileData)
				continue
			}
			kept = append(kept, task)
		}
		return kept, nil
	})
	if err = p.settle(err, models.CollectionTasks); err != nil {
		return err
	}

	err = replicator.Mutate(ctx, p.replicator, models.CollectionSubmissions, func(subs []models.StudentSubmission) ([]models.StudentSubmission, error) {
		kept := make([]models.StudentSubmission, 0, len(subs))
		for _, sub := range subs {
			if _, ok := doomed[sub.TaskID]; ok {
				files = append(files, sub.FileData)
				continue
			}
			kept = append(kept, sub)
		}
		return kept, nil
	})
	if err = p.settle(err, models.CollectionSubmissions); err != nil {
		return fmt.Errorf("delete submissions of tasks: %w", err)
	}

	for _, file := range files {
		p.dropFile(ctx, file)
	}
	p.logger.Info().Strs("task_ids", ids).Msg("tasks deleted")
	return nil
}

// Tasks lists the tasks created by professorID.
func (p *Portal) Tasks(professorID string) ([]models.AssignmentTask, error) {
	tasks, err := replicator.Collection[models.AssignmentTask](p.replicator, models.CollectionTasks)
	if err != nil {
		return nil, err
	}

	owned := make([]models.AssignmentTask, 0)
	for _, task := range tasks {
		if task.ProfessorID == professorID {
			owned = append(owned, task)
		}
	}
	return owned, nil
}

func (p *Portal) task(id string) (models.AssignmentTask, error) {
	tasks, err := replicator.Collection[models.AssignmentTask](p.replicator, models.CollectionTasks)
	if err != nil {
		return models.AssignmentTask{}, err
	}
	idx := indexTask(tasks, id)
	if idx < 0 {
		return models.AssignmentTask{}, ErrTaskNotFound
	}
	return tasks[idx], nil
}

func indexTask(tasks []models.AssignmentTask, id string) int {
	for i, task := range tasks {
		if task.ID == id {
			return i
		}
	}
	return -1
}
