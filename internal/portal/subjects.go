package portal

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
)

// CreateSubject adds a course.
func (p *Portal) CreateSubject(ctx context.Context, payload dto.SubjectCreateRequest) (models.Subject, error) {
	payload.Name = p.clean(payload.Name)
	if err := p.validator.Struct(payload); err != nil {
		return models.Subject{}, err
	}

	var created models.Subject
	err := replicator.Mutate(ctx, p.replicator, models.CollectionSubjects, func(subjects []models.Subject) ([]models.Subject, error) {
		created = models.Subject{
			ID: p.nextID(func(id string) bool {
				_, ok := findSubject(subjects, id)
				return ok
			}),
			Name:        payload.Name,
			ProfessorID: payload.ProfessorID,
		}
		return append(subjects, created), nil
	})
	if err = p.settle(err, models.CollectionSubjects); err != nil {
		return models.Subject{}, err
	}
	return created, nil
}

// DeleteSubject removes a course. Tasks and tests filed under it are kept.
func (p *Portal) DeleteSubject(ctx context.Context, id string) error {
	err := replicator.Mutate(ctx, p.replicator, models.CollectionSubjects, func(subjects []models.Subject) ([]models.Subject, error) {
		idx, ok := findSubject(subjects, id)
		if !ok {
			return nil, ErrSubjectNotFound
		}
		return append(subjects[:idx:idx], subjects[idx+1:]...), nil
	})
	return p.settle(err, models.CollectionSubjects)
}

// SubjectsOf lists the courses owned by professorID.
func (p *Portal) SubjectsOf(professorID string) ([]models.Subject, error) {
	subjects, err := replicator.Collection[models.Subject](p.replicator, models.CollectionSubjects)
	if err != nil {
		return nil, err
	}

	owned := make([]models.Subject, 0)
	for _, subject := range subjects {
		if subject.ProfessorID == professorID {
			owned = append(owned, subject)
		}
	}
	return owned, nil
}

// requireSubject checks that id names a known course.
func (p *Portal) requireSubject(ctx context.Context, id string) error {
	if err := p.replicator.Ready(ctx); err != nil {
		return err
	}
	subjects, err := replicator.Collection[models.Subject](p.replicator, models.CollectionSubjects)
	if err != nil {
		return err
	}
	if _, ok := findSubject(subjects, id); !ok {
		return fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	return nil
}

func findSubject(subjects []models.Subject, id string) (int, bool) {
	for i, subject := range subjects {
		if subject.ID == id {
			return i, true
		}
	}
	return -1, false
}
