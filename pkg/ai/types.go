package ai

import (
	"context"

	"github.com/noah-isme/gema-portal/internal/models"
)

// GradeInput carries a submission and the task it answers.
type GradeInput struct {
	TaskDescription string
	MaxPoints       int
	FileName        string
	FileText        string
	Language        string
}

// AuditInput asks how closely a submission follows the task criteria.
type AuditInput struct {
	Criteria string
	FileName string
	FileText string
	Language string
}

// PeerWork is another student's submission used as plagiarism context.
type PeerWork struct {
	Email string
	Text  string
}

// PlagiarismInput compares one submission against peers of the same task.
type PlagiarismInput struct {
	FileText string
	Peers    []PeerWork
}

// PlagiarismResult reports originality in percent (100 is unique) and the
// closest peer when the work looks copied.
type PlagiarismResult struct {
	Originality  float64 `json:"originalityScore"`
	SimilarEmail string  `json:"similarEmail"`
}

// GenerateTestInput describes a multiple-choice test to draft.
type GenerateTestInput struct {
	Topic    string
	Count    int
	Variants int
	Language string
}

// GenerateLectureInput asks for a lecture text on a topic.
type GenerateLectureInput struct {
	Topic    string
	Language string
}

// GenerateSyllabusInput asks for a weekly course outline.
type GenerateSyllabusInput struct {
	CourseName string
	Weeks      int
	Language   string
}

// SyllabusDraft is a generated course outline.
type SyllabusDraft struct {
	CourseName  string                 `json:"courseName"`
	Description string                 `json:"description"`
	Topics      []models.SyllabusTopic `json:"topics"`
}

// Service is the generative collaborator used by the portal. Calls are slow
// and may fail; callers leave records untouched on error.
type Service interface {
	GradeSubmission(ctx context.Context, input GradeInput) (models.SubmissionResult, error)
	AuditSubmission(ctx context.Context, input AuditInput) (models.IndividualAuditResult, error)
	CheckPlagiarism(ctx context.Context, input PlagiarismInput) (PlagiarismResult, error)
	GenerateTest(ctx context.Context, input GenerateTestInput) ([]models.TestQuestion, error)
	GenerateLecture(ctx context.Context, input GenerateLectureInput) (string, error)
	GenerateSyllabus(ctx context.Context, input GenerateSyllabusInput) (SyllabusDraft, error)
}
