package portal

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/pkg/ai"
)

// Descriptions given to syllabuses that carry no generated summary.
const (
	uploadedSyllabusDescription = "Academic Document"
	linkedSyllabusDescription   = "External Link"
)

// UploadSyllabus files a PDF syllabus under a subject. Without a course name
// the file name is used.
func (p *Portal) UploadSyllabus(ctx context.Context, payload dto.SyllabusUploadRequest) (models.Syllabus, error) {
	payload.CourseName = p.clean(payload.CourseName)
	if payload.CourseName == "" {
		payload.CourseName = strings.TrimSuffix(p.clean(payload.File.Name), filepath.Ext(payload.File.Name))
	}
	if err := p.validator.Struct(payload); err != nil {
		return models.Syllabus{}, err
	}
	if err := p.requireSubject(ctx, payload.SubjectID); err != nil {
		return models.Syllabus{}, err
	}

	ref, err := p.storePDF(ctx, payload.File, MaxMaterialBytes)
	if err != nil {
		return models.Syllabus{}, err
	}

	return p.addSyllabus(ctx, models.Syllabus{
		SubjectID:   payload.SubjectID,
		CourseName:  payload.CourseName,
		Description: uploadedSyllabusDescription,
		Type:        models.MaterialPDF,
		PDFData:     ref,
	})
}

// AddSyllabusLink files an external syllabus. Links without a scheme get https.
func (p *Portal) AddSyllabusLink(ctx context.Context, payload dto.SyllabusLinkRequest) (models.Syllabus, error) {
	payload.CourseName = p.clean(payload.CourseName)
	payload.URL = absoluteURL(payload.URL)
	if err := p.validator.Struct(payload); err != nil {
		return models.Syllabus{}, err
	}
	if err := p.validator.Var(payload.URL, "url"); err != nil {
		return models.Syllabus{}, err
	}
	if err := p.requireSubject(ctx, payload.SubjectID); err != nil {
		return models.Syllabus{}, err
	}

	return p.addSyllabus(ctx, models.Syllabus{
		SubjectID:   payload.SubjectID,
		CourseName:  payload.CourseName,
		Description: linkedSyllabusDescription,
		Type:        models.MaterialLink,
		URL:         payload.URL,
	})
}

// GenerateSyllabus asks the AI collaborator for a weekly plan. Nothing is
// stored when the AI fails.
func (p *Portal) GenerateSyllabus(ctx context.Context, payload dto.SyllabusGenerateRequest) (models.Syllabus, error) {
	payload.CourseName = p.clean(payload.CourseName)
	if err := p.validator.Struct(payload); err != nil {
		return models.Syllabus{}, err
	}
	if p.ai == nil {
		return models.Syllabus{}, ErrAIDisabled
	}
	if err := p.requireSubject(ctx, payload.SubjectID); err != nil {
		return models.Syllabus{}, err
	}

	draft, err := p.ai.GenerateSyllabus(ctx, ai.GenerateSyllabusInput{
		CourseName: payload.CourseName,
		Weeks:      payload.Weeks,
		Language:   payload.Language,
	})
	if err != nil {
		return models.Syllabus{}, err
	}

	return p.addSyllabus(ctx, models.Syllabus{
		SubjectID:   payload.SubjectID,
		CourseName:  p.clean(draft.CourseName),
		Description: p.clean(draft.Description),
		Type:        models.MaterialAI,
		Topics:      draft.Topics,
	})
}

// DeleteSyllabus removes a syllabus and its stored PDF.
func (p *Portal) DeleteSyllabus(ctx context.Context, id string) error {
	var removed models.Syllabus
	err := replicator.Mutate(ctx, p.replicator, models.CollectionSyllabuses, func(items []models.Syllabus) ([]models.Syllabus, error) {
		idx := indexSyllabus(items, id)
		if idx < 0 {
			return nil, ErrSyllabusNotFound
		}
		removed = items[idx]
		return append(items[:idx:idx], items[idx+1:]...), nil
	})
	if err = p.settle(err, models.CollectionSyllabuses); err != nil {
		return err
	}

	if removed.Type == models.MaterialPDF {
		p.dropFile(ctx, removed.PDFData)
	}
	return nil
}

// Syllabuses lists the syllabuses of a subject, newest first.
func (p *Portal) Syllabuses(subjectID string) ([]models.Syllabus, error) {
	items, err := replicator.Collection[models.Syllabus](p.replicator, models.CollectionSyllabuses)
	if err != nil {
		return nil, err
	}

	matched := make([]models.Syllabus, 0)
	for _, item := range items {
		if item.SubjectID == subjectID {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

func (p *Portal) addSyllabus(ctx context.Context, syllabus models.Syllabus) (models.Syllabus, error) {
	err := replicator.Mutate(ctx, p.replicator, models.CollectionSyllabuses, func(items []models.Syllabus) ([]models.Syllabus, error) {
		syllabus.ID = p.nextID(func(id string) bool { return indexSyllabus(items, id) >= 0 })
		return append([]models.Syllabus{syllabus}, items...), nil
	})
	if err = p.settle(err, models.CollectionSyllabuses); err != nil {
		if syllabus.Type == models.MaterialPDF {
			p.dropFile(ctx, syllabus.PDFData)
		}
		return models.Syllabus{}, err
	}

	p.logger.Info().Str("syllabus_id", syllabus.ID).Str("subject_id", syllabus.SubjectID).Str("type", syllabus.Type).Msg("syllabus added")
	return syllabus, nil
}

func indexSyllabus(items []models.Syllabus, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}
