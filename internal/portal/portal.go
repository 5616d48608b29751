// Package portal implements the professor and student actions of the
// consoles on top of the replicated collections.
package portal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/internal/store"
	"github.com/noah-isme/gema-portal/pkg/ai"
)

var (
	// ErrGroupNotFound indicates the group does not exist.
	ErrGroupNotFound = errors.New("group not found")
	// ErrStudentNotFound indicates no group lists the student.
	ErrStudentNotFound = errors.New("student not found")
	// ErrStudentExists indicates the email is already enrolled in some group.
	ErrStudentExists = errors.New("student email already enrolled")
	// ErrSubjectNotFound indicates the subject does not exist.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrTaskNotFound indicates the task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrSubmissionNotFound indicates the submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrTestNotFound indicates the test does not exist.
	ErrTestNotFound = errors.New("test not found")
	// ErrAlreadySubmitted is returned when the student already handed in the task.
	ErrAlreadySubmitted = errors.New("task already submitted")
	// ErrFileTooLarge is returned for uploads above the size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnsupportedFile is returned for uploads of a type the portal does not accept.
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrInvalidQuestion is returned for a question without a valid answer.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrInvalidGrade is returned for a grade outside the task's range.
	ErrInvalidGrade = errors.New("invalid grade")
	// ErrProfessorNotFound indicates the professor does not exist.
	ErrProfessorNotFound = errors.New("professor not found")
	// ErrProfessorExists indicates the email already belongs to a professor.
	ErrProfessorExists = errors.New("professor email already registered")
	// ErrLectureNotFound indicates the lecture does not exist.
	ErrLectureNotFound = errors.New("lecture not found")
	// ErrSyllabusNotFound indicates the syllabus does not exist.
	ErrSyllabusNotFound = errors.New("syllabus not found")
	// ErrAIDisabled is returned by AI actions when no AI service is configured.
	ErrAIDisabled = errors.New("ai service is not configured")
)

const (
	// MaxSubmissionBytes caps a student's file.
	MaxSubmissionBytes = 10 * 1024 * 1024
	// MaxAttachmentBytes caps a task's reference file.
	MaxAttachmentBytes = 5 * 1024 * 1024
	// MaxMaterialBytes caps a lecture or syllabus PDF.
	MaxMaterialBytes = 20 * 1024 * 1024
)

// BlobStore keeps uploaded files outside the collections.
type BlobStore interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
	Delete(ctx context.Context, secureURL string) error
}

// Options configures a Portal.
type Options struct {
	// AI grades, audits and drafts tests. Nil disables those actions.
	AI ai.Service
	// Blobs stores files. Nil keeps them inline as data URLs.
	Blobs BlobStore
	// HTTPClient downloads stored files for AI review.
	HTTPClient *http.Client
	Validator  *validator.Validate
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Portal performs console actions as write-through mutations.
type Portal struct {
	replicator *replicator.Replicator
	ai         ai.Service
	blobs      BlobStore
	http       *http.Client
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	now        func() time.Time
}

// New builds a Portal over r.
func New(r *replicator.Replicator, opts Options) *Portal {
	validate := opts.Validator
	if validate == nil {
		validate = validator.New()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Portal{
		replicator: r,
		ai:         opts.AI,
		blobs:      opts.Blobs,
		http:       client,
		validator:  validate,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     opts.Logger.With().Str("component", "portal").Logger(),
		now:        now,
	}
}

func (p *Portal) clean(value string) string {
	return strings.TrimSpace(p.sanitizer.Sanitize(value))
}

// nextID returns a millisecond identifier not yet taken in the collection.
func (p *Portal) nextID(taken func(id string) bool) string {
	now := p.now()
	id := models.NewID(now)
	for taken(id) {
		now = now.Add(time.Millisecond)
		id = models.NewID(now)
	}
	return id
}

func (p *Portal) millis() int64 {
	return p.now().UnixMilli()
}

// settle treats a write kept locally for retry as done. Files referenced by
// such a write must stay: the replicator sends the record later.
func (p *Portal) settle(err error, key string) error {
	if err == nil || !keptLocally(err) {
		return err
	}
	p.logger.Warn().Err(err).Str("collection", key).Msg("change saved locally; store write deferred")
	return nil
}

// keptLocally reports whether a failed write was still applied to the local
// copy. Before the first snapshot nothing is applied.
func keptLocally(err error) bool {
	return errors.Is(err, store.ErrUnavailable) && !errors.Is(err, replicator.ErrNotLoaded)
}
