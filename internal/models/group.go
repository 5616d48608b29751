package models

// Grade is an entry in a student's grade history.
type Grade struct {
	AssignmentID string  `json:"assignmentId"`
	Score        float64 `json:"score"`
	Feedback     string  `json:"feedback"`
}

// Student belongs to exactly one Group and is identified by email.
type Student struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Password string  `json:"password,omitempty"`
	Grades   []Grade `json:"grades,omitempty"`
}

// Group is a class of students owned by a professor.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProfessorID string    `json:"professorId"`
	Students    []Student `json:"students"`
}

// FindStudent returns the student with the given email, if present.
func (g Group) FindStudent(email string) (Student, bool) {
	for _, student := range g.Students {
		if SameEmail(student.Email, email) {
			return student, true
		}
	}
	return Student{}, false
}

// StudentEmails returns the normalised emails of every member.
func (g Group) StudentEmails() []string {
	emails := make([]string, 0, len(g.Students))
	for _, student := range g.Students {
		emails = append(emails, NormalizeEmail(student.Email))
	}
	return emails
}
