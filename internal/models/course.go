package models

// Lecture material types.
const (
	MaterialPDF  = "pdf"
	MaterialLink = "link"
	MaterialAI   = "ai"
)

// Subject is a course owned by a professor.
type Subject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProfessorID string `json:"professorId"`
}

// Professor is a staff account managed by the admin console.
type Professor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// Lecture is a piece of course material attached to a subject.
type Lecture struct {
	ID        string `json:"id"`
	SubjectID string `json:"subjectId"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	URL       string `json:"url,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// SyllabusTopic is one week of a syllabus plan.
type SyllabusTopic struct {
	Week        int    `json:"week"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Syllabus describes a course outline.
type Syllabus struct {
	ID          string          `json:"id"`
	SubjectID   string          `json:"subjectId"`
	CourseName  string          `json:"courseName"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	PDFData     string          `json:"pdfData,omitempty"`
	URL         string          `json:"url,omitempty"`
	Topics      []SyllabusTopic `json:"topics,omitempty"`
}
