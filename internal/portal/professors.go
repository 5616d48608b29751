package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
)

// CreateProfessor registers a staff account. Emails are unique among professors.
func (p *Portal) CreateProfessor(ctx context.Context, payload dto.ProfessorCreateRequest) (models.Professor, error) {
	payload.Email = models.NormalizeEmail(payload.Email)
	payload.Name = p.clean(payload.Name)
	payload.Password = strings.TrimSpace(payload.Password)
	if err := p.validator.Struct(payload); err != nil {
		return models.Professor{}, err
	}

	var created models.Professor
	err := replicator.Mutate(ctx, p.replicator, models.CollectionProfessors, func(profs []models.Professor) ([]models.Professor, error) {
		for _, prof := range profs {
			if models.SameEmail(prof.Email, payload.Email) {
				return nil, fmt.Errorf("%w: %s", ErrProfessorExists, payload.Email)
			}
		}
		created = models.Professor{
			ID:       p.nextID(func(id string) bool { return indexProfessor(profs, id) >= 0 }),
			Name:     payload.Name,
			Email:    payload.Email,
			Password: payload.Password,
		}
		return append(profs, created), nil
	})
	if err = p.settle(err, models.CollectionProfessors); err != nil {
		return models.Professor{}, err
	}

	p.logger.Info().Str("professor_email", created.Email).Msg("professor created")
	return created, nil
}

// ResetProfessorPassword replaces a professor's password.
func (p *Portal) ResetProfessorPassword(ctx context.Context, id, password string) error {
	password = strings.TrimSpace(password)
	if err := p.validator.Var(password, "required"); err != nil {
		return err
	}

	err := replicator.Mutate(ctx, p.replicator, models.CollectionProfessors, func(profs []models.Professor) ([]models.Professor, error) {
		idx := indexProfessor(profs, id)
		if idx < 0 {
			return nil, ErrProfessorNotFound
		}
		profs[idx].Password = password
		return profs, nil
	})
	return p.settle(err, models.CollectionProfessors)
}

// DeleteProfessor removes a staff account. Their subjects, groups and tasks stay.
func (p *Portal) DeleteProfessor(ctx context.Context, id string) error {
	err := replicator.Mutate(ctx, p.replicator, models.CollectionProfessors, func(profs []models.Professor) ([]models.Professor, error) {
		idx := indexProfessor(profs, id)
		if idx < 0 {
			return nil, ErrProfessorNotFound
		}
		return append(profs[:idx:idx], profs[idx+1:]...), nil
	})
	return p.settle(err, models.CollectionProfessors)
}

// Professors lists every staff account.
func (p *Portal) Professors() ([]models.Professor, error) {
	return replicator.Collection[models.Professor](p.replicator, models.CollectionProfessors)
}

func indexProfessor(profs []models.Professor, id string) int {
	for i, prof := range profs {
		if prof.ID == id {
			return i
		}
	}
	return -1
}
