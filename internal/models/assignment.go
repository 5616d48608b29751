package models

import "time"

// AssignmentTask is a piece of graded work published to a group.
// The deadline is advisory: it never blocks submission or grading.
type AssignmentTask struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subjectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	MaxPoints   int    `json:"maxPoints"`
	FileData    string `json:"fileData,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	GroupID     string `json:"groupId"`
	ProfessorID string `json:"professorId"`
	CreatedAt   int64  `json:"createdAt"`
	Deadline    *int64 `json:"deadline,omitempty"`
}

// IsPastDue reports whether the advisory deadline has passed.
func (t AssignmentTask) IsPastDue(reference time.Time) bool {
	return t.Deadline != nil && Millis(reference) > *t.Deadline
}

// SubmissionResult is the structured AI grade for a submission.
type SubmissionResult struct {
	Grade             float64  `json:"grade"`
	Feedback          string   `json:"feedback"`
	Strengths         []string `json:"strengths"`
	Weaknesses        []string `json:"weaknesses"`
	Suggestions       []string `json:"suggestions"`
	CriteriaAdherence string   `json:"criteriaAdherence"`
}

// IndividualAuditResult is the AI adherence audit for a submission.
type IndividualAuditResult struct {
	AdherenceScore   float64  `json:"adherenceScore"`
	TopicMatch       bool     `json:"topicMatch"`
	MissingPoints    []string `json:"missingPoints"`
	MetPoints        []string `json:"metPoints"`
	DetailedCritique string   `json:"detailedCritique"`
}

// StudentSubmission is a student's file for a task. StudentEmail is the
// identity, not a reference to Student.ID.
type StudentSubmission struct {
	ID                  string                 `json:"id"`
	TaskID              string                 `json:"taskId"`
	StudentEmail        string                 `json:"studentEmail"`
	StudentName         string                 `json:"studentName"`
	FileData            string                 `json:"fileData"`
	FileName            string                 `json:"fileName"`
	SubmittedAt         int64                  `json:"submittedAt"`
	AIResult            *SubmissionResult      `json:"aiResult,omitempty"`
	IndividualAudit     *IndividualAuditResult `json:"individualAudit,omitempty"`
	FinalGrade          *float64               `json:"finalGrade,omitempty"`
	PlagiarismScore     *float64               `json:"plagiarismScore,omitempty"`
	SimilarStudentEmail string                 `json:"similarStudentEmail,omitempty"`
}

// Matches reports whether the submission belongs to the task and student.
func (s StudentSubmission) Matches(taskID, email string) bool {
	return s.TaskID == taskID && SameEmail(s.StudentEmail, email)
}
