package dto

import "github.com/noah-isme/gema-portal/internal/models"

// GroupCreateRequest names a new class owned by a professor.
type GroupCreateRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	ProfessorID string `json:"professorId" validate:"required"`
}

// StudentCreateRequest enrols a student into a group.
type StudentCreateRequest struct {
	GroupID  string `json:"groupId" validate:"required"`
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// GroupDeleteOptions controls what else goes with a group.
type GroupDeleteOptions struct {
	// PurgeRecords also removes the members' submissions and test results.
	PurgeRecords bool
}

// SubjectCreateRequest describes a new course.
type SubjectCreateRequest struct {
	Name        string `json:"name" validate:"required,max=160"`
	ProfessorID string `json:"professorId" validate:"required"`
}

// Attachment is an uploaded file.
type Attachment struct {
	Name string `validate:"required"`
	Data []byte `validate:"required"`
}

// TaskRequest creates or updates an assignment task. Deadline is epoch millis.
type TaskRequest struct {
	SubjectID   string      `json:"subjectId" validate:"required"`
	GroupID     string      `json:"groupId" validate:"required"`
	Title       string      `json:"title" validate:"required,max=200"`
	Description string      `json:"description" validate:"required"`
	MaxPoints   int         `json:"maxPoints" validate:"gte=1,lte=1000"`
	ProfessorID string      `json:"professorId"`
	Deadline    *int64      `json:"deadline,omitempty"`
	Attachment  *Attachment `json:"-" validate:"omitempty"`
}

// SubmitRequest hands in a student's file for a task.
type SubmitRequest struct {
	TaskID      string     `validate:"required"`
	Email       string     `validate:"required,email"`
	StudentName string     `validate:"max=120"`
	File        Attachment `validate:"required"`
}

// GradeRequest asks the AI collaborator to grade a submission.
type GradeRequest struct {
	SubmissionID string `validate:"required"`
	Language     string `validate:"omitempty,oneof=en ru kk"`
}

// TestPublishRequest publishes a quiz to a group. Duration is in minutes.
type TestPublishRequest struct {
	SubjectID       string                `json:"subjectId" validate:"required"`
	AssignedGroupID string                `json:"assignedGroupId" validate:"required"`
	Topic           string                `json:"topic" validate:"required,max=200"`
	Questions       []models.TestQuestion `json:"questions" validate:"required,min=1,dive"`
	MaxScore        int                   `json:"maxScore" validate:"gte=1"`
	Deadline        *int64                `json:"deadline,omitempty"`
	Duration        *int                  `json:"duration,omitempty" validate:"omitempty,gte=1"`
}

// TestGenerateRequest drafts questions with the AI collaborator.
type TestGenerateRequest struct {
	Topic    string `validate:"required"`
	Count    int    `validate:"gte=1,lte=50"`
	Variants int    `validate:"gte=2,lte=6"`
	Language string `validate:"omitempty,oneof=en ru kk"`
}

// ProfessorCreateRequest registers a staff account.
type ProfessorCreateRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LectureUploadRequest attaches a PDF lecture to a subject.
type LectureUploadRequest struct {
	SubjectID string     `json:"subjectId" validate:"required"`
	Title     string     `json:"title" validate:"required,max=200"`
	File      Attachment `json:"-" validate:"required"`
}

// LectureLinkRequest attaches an external lecture to a subject.
type LectureLinkRequest struct {
	SubjectID string `json:"subjectId" validate:"required"`
	Title     string `json:"title" validate:"required,max=200"`
	URL       string `json:"url" validate:"required"`
}

// LectureGenerateRequest asks the AI for a lecture on Title.
type LectureGenerateRequest struct {
	SubjectID string `json:"subjectId" validate:"required"`
	Title     string `json:"title" validate:"required,max=200"`
	Language  string `json:"language" validate:"omitempty,oneof=en ru kk"`
}

// SyllabusUploadRequest attaches a PDF syllabus to a subject. An empty
// CourseName falls back to the file name.
type SyllabusUploadRequest struct {
	SubjectID  string     `json:"subjectId" validate:"required"`
	CourseName string     `json:"courseName" validate:"max=200"`
	File       Attachment `json:"-" validate:"required"`
}

// SyllabusLinkRequest attaches an external syllabus to a subject.
type SyllabusLinkRequest struct {
	SubjectID  string `json:"subjectId" validate:"required"`
	CourseName string `json:"courseName" validate:"required,max=200"`
	URL        string `json:"url" validate:"required"`
}

// SyllabusGenerateRequest asks the AI for a weekly course plan.
type SyllabusGenerateRequest struct {
	SubjectID  string `json:"subjectId" validate:"required"`
	CourseName string `json:"courseName" validate:"required,max=200"`
	Weeks      int    `json:"weeks" validate:"omitempty,gte=1,lte=52"`
	Language   string `json:"language" validate:"omitempty,oneof=en ru kk"`
}
