package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
)

// CreateGroup adds an empty group.
func (p *Portal) CreateGroup(ctx context.Context, payload dto.GroupCreateRequest) (models.Group, error) {
	payload.Name = p.clean(payload.Name)
	if err := p.validator.Struct(payload); err != nil {
		return models.Group{}, err
	}

	var created models.Group
	err := replicator.Mutate(ctx, p.replicator, models.CollectionGroups, func(groups []models.Group) ([]models.Group, error) {
		created = models.Group{
			ID:          p.nextID(func(id string) bool { return indexGroup(groups, id) >= 0 }),
			Name:        payload.Name,
			ProfessorID: payload.ProfessorID,
			Students:    []models.Student{},
		}
		return append(groups, created), nil
	})
	if err = p.settle(err, models.CollectionGroups); err != nil {
		return models.Group{}, err
	}

	p.logger.Info().Str("group_id", created.ID).Msg("group created")
	return created, nil
}

// AddStudent enrols a student. An email can belong to one group only.
func (p *Portal) AddStudent(ctx context.Context, payload dto.StudentCreateRequest) (models.Student, error) {
	payload.Email = models.NormalizeEmail(payload.Email)
	payload.Name = p.clean(payload.Name)
	payload.Password = strings.TrimSpace(payload.Password)
	if err := p.validator.Struct(payload); err != nil {
		return models.Student{}, err
	}

	var created models.Student
	err := replicator.Mutate(ctx, p.replicator, models.CollectionGroups, func(groups []models.Group) ([]models.Group, error) {
		idx := indexGroup(groups, payload.GroupID)
		if idx < 0 {
			return nil, ErrGroupNotFound
		}
		for _, group := range groups {
			if _, ok := group.FindStudent(payload.Email); ok {
				return nil, fmt.Errorf("%w: %s in %s", ErrStudentExists, payload.Email, group.Name)
			}
		}

		created = models.Student{
			ID:       p.nextID(func(id string) bool { return indexStudent(groups[idx], id) >= 0 }),
			Name:     payload.Name,
			Email:    payload.Email,
			Password: payload.Password,
		}
		groups[idx].Students = append(groups[idx].Students, created)
		return groups, nil
	})
	if err = p.settle(err, models.CollectionGroups); err != nil {
		return models.Student{}, err
	}

	p.logger.Info().Str("group_id", payload.GroupID).Str("student_email", created.Email).Msg("student added")
	return created, nil
}

// RemoveStudent drops a student from a group. Their records stay.
func (p *Portal) RemoveStudent(ctx context.Context, groupID, studentID string) error {
	err := replicator.Mutate(ctx, p.replicator, models.CollectionGroups, func(groups []models.Group) ([]models.Group, error) {
		idx := indexGroup(groups, groupID)
		if idx < 0 {
			return nil, ErrGroupNotFound
		}
		sIdx := indexStudent(groups[idx], studentID)
		if sIdx < 0 {
			return nil, ErrStudentNotFound
		}

		students := groups[idx].Students
		groups[idx].Students = append(students[:sIdx:sIdx], students[sIdx+1:]...)
		return groups, nil
	})
	return p.settle(err, models.CollectionGroups)
}

// ResetStudentPassword replaces a student's password.
func (p *Portal) ResetStudentPassword(ctx context.Context, groupID, studentID, password string) error {
	password = strings.TrimSpace(password)
	if err := p.validator.Var(password, "required"); err != nil {
		return err
	}

	err := replicator.Mutate(ctx, p.replicator, models.CollectionGroups, func(groups []models.Group) ([]models.Group, error) {
		idx := indexGroup(groups, groupID)
		if idx < 0 {
			return nil, ErrGroupNotFound
		}
		sIdx := indexStudent(groups[idx], studentID)
		if sIdx < 0 {
			return nil, ErrStudentNotFound
		}
		groups[idx].Students[sIdx].Password = password
		return groups, nil
	})
	return p.settle(err, models.CollectionGroups)
}

// DeleteGroup removes a group. Tasks, tests and records that point at it are
// left in place unless opts.PurgeRecords asks for the members' submissions and
// test results to go too; those are separate writes.
func (p *Portal) DeleteGroup(ctx context.Context, id string, opts dto.GroupDeleteOptions) error {
	var removed models.Group
	err := replicator.Mutate(ctx, p.replicator, models.CollectionGroups, func(groups []models.Group) ([]models.Group, error) {
		idx := indexGroup(groups, id)
		if idx < 0 {
			return nil, ErrGroupNotFound
		}
		removed = groups[idx]
		return append(groups[:idx:idx], groups[idx+1:]...), nil
	})
	if err = p.settle(err, models.CollectionGroups); err != nil {
		return err
	}

	p.logger.Info().Str("group_id", id).Bool("purge_records", opts.PurgeRecords).Msg("group deleted")
	if !opts.PurgeRecords || len(removed.Students) == 0 {
		return nil
	}

	members := make(map[string]struct{}, len(removed.Students))
	for _, email := range removed.StudentEmails() {
		members[email] = struct{}{}
	}
	isMember := func(email string) bool {
		_, ok := members[models.NormalizeEmail(email)]
		return ok
	}

	err = replicator.Mutate(ctx, p.replicator, models.CollectionSubmissions, func(subs []models.StudentSubmission) ([]models.StudentSubmission, error) {
		kept := subs[:0]
		for _, sub := range subs {
			if !isMember(sub.StudentEmail) {
				kept = append(kept, sub)
			}
		}
		return kept, nil
	})
	if err = p.settle(err, models.CollectionSubmissions); err != nil {
		return fmt.Errorf("purge submissions of group %s: %w", id, err)
	}

	err = replicator.Mutate(ctx, p.replicator, models.CollectionTestResults, func(results []models.TestResult) ([]models.TestResult, error) {
		kept := results[:0]
		for _, result := range results {
			if !isMember(result.StudentEmail) {
				kept = append(kept, result)
			}
		}
		return kept, nil
	})
	if err = p.settle(err, models.CollectionTestResults); err != nil {
		return fmt.Errorf("purge test results of group %s: %w", id, err)
	}
	return nil
}

func indexGroup(groups []models.Group, id string) int {
	for i, group := range groups {
		if group.ID == id {
			return i
		}
	}
	return -1
}

func indexStudent(group models.Group, id string) int {
	for i, student := range group.Students {
		if student.ID == id {
			return i
		}
	}
	return -1
}
