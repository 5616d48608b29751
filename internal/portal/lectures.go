package portal

import (
	"context"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/pkg/ai"
)

// UploadLecture files a PDF lecture under a subject.
func (p *Portal) UploadLecture(ctx context.Context, payload dto.LectureUploadRequest) (models.Lecture, error) {
	payload.Title = p.clean(payload.Title)
	if err := p.validator.Struct(payload); err != nil {
		return models.Lecture{}, err
	}
	if err := p.requireSubject(ctx, payload.SubjectID); err != nil {
		return models.Lecture{}, err
	}

	ref, err := p.storePDF(ctx, payload.File, MaxMaterialBytes)
	if err != nil {
		return models.Lecture{}, err
	}

	return p.addLecture(ctx, models.Lecture{
		SubjectID: payload.SubjectID,
		Title:     payload.Title,
		Type:      models.MaterialPDF,
		URL:       ref,
	})
}

// AddLectureLink files an external lecture. Links without a scheme get https.
func (p *Portal) AddLectureLink(ctx context.Context, payload dto.LectureLinkRequest) (models.Lecture, error) {
	payload.Title = p.clean(payload.Title)
	payload.URL = absoluteURL(payload.URL)
	if err := p.validator.Struct(payload); err != nil {
		return models.Lecture{}, err
	}
	if err := p.validator.Var(payload.URL, "url"); err != nil {
		return models.Lecture{}, err
	}
	if err := p.requireSubject(ctx, payload.SubjectID); err != nil {
		return models.Lecture{}, err
	}

	return p.addLecture(ctx, models.Lecture{
		SubjectID: payload.SubjectID,
		Title:     payload.Title,
		Type:      models.MaterialLink,
		URL:       payload.URL,
	})
}

// GenerateLecture asks the AI collaborator for a Markdown lecture on the title.
// Nothing is stored when the AI fails.
func (p *Portal) GenerateLecture(ctx context.Context, payload dto.LectureGenerateRequest) (models.Lecture, error) {
	payload.Title = p.clean(payload.Title)
	if err := p.validator.Struct(payload); err != nil {
		return models.Lecture{}, err
	}
	if p.ai == nil {
		return models.Lecture{}, ErrAIDisabled
	}
	if err := p.requireSubject(ctx, payload.SubjectID); err != nil {
		return models.Lecture{}, err
	}

	content, err := p.ai.GenerateLecture(ctx, ai.GenerateLectureInput{Topic: payload.Title, Language: payload.Language})
	if err != nil {
		return models.Lecture{}, err
	}

	return p.addLecture(ctx, models.Lecture{
		SubjectID: payload.SubjectID,
		Title:     payload.Title,
		Type:      models.MaterialAI,
		Content:   content,
	})
}

// DeleteLecture removes a lecture and its stored PDF.
func (p *Portal) DeleteLecture(ctx context.Context, id string) error {
	var removed models.Lecture
	err := replicator.Mutate(ctx, p.replicator, models.CollectionLectures, func(lectures []models.Lecture) ([]models.Lecture, error) {
		idx := indexLecture(lectures, id)
		if idx < 0 {
			return nil, ErrLectureNotFound
		}
		removed = lectures[idx]
		return append(lectures[:idx:idx], lectures[idx+1:]...), nil
	})
	if err = p.settle(err, models.CollectionLectures); err != nil {
		return err
	}

	if removed.Type == models.MaterialPDF {
		p.dropFile(ctx, removed.URL)
	}
	return nil
}

// Lectures lists the lectures of a subject, newest first.
func (p *Portal) Lectures(subjectID string) ([]models.Lecture, error) {
	lectures, err := replicator.Collection[models.Lecture](p.replicator, models.CollectionLectures)
	if err != nil {
		return nil, err
	}

	matched := make([]models.Lecture, 0)
	for _, lecture := range lectures {
		if lecture.SubjectID == subjectID {
			matched = append(matched, lecture)
		}
	}
	return matched, nil
}

func (p *Portal) addLecture(ctx context.Context, lecture models.Lecture) (models.Lecture, error) {
	lecture.CreatedAt = p.millis()
	err := replicator.Mutate(ctx, p.replicator, models.CollectionLectures, func(lectures []models.Lecture) ([]models.Lecture, error) {
		lecture.ID = p.nextID(func(id string) bool { return indexLecture(lectures, id) >= 0 })
		return append([]models.Lecture{lecture}, lectures...), nil
	})
	if err = p.settle(err, models.CollectionLectures); err != nil {
		if lecture.Type == models.MaterialPDF {
			p.dropFile(ctx, lecture.URL)
		}
		return models.Lecture{}, err
	}

	p.logger.Info().Str("lecture_id", lecture.ID).Str("subject_id", lecture.SubjectID).Str("type", lecture.Type).Msg("lecture added")
	return lecture, nil
}

func indexLecture(lectures []models.Lecture, id string) int {
	for i, lecture := range lectures {
		if lecture.ID == id {
			return i
		}
	}
	return -1
}
