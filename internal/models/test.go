package models

import "time"

// TestQuestion is a single-choice question.
type TestQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
}

// Test is a published quiz assigned to one group. Duration is in minutes.
type Test struct {
	ID              string         `json:"id"`
	SubjectID       string         `json:"subjectId"`
	Topic           string         `json:"topic"`
	Questions       []TestQuestion `json:"questions"`
	MaxScore        int            `json:"maxScore"`
	AssignedGroupID string         `json:"assignedGroupId"`
	CreatedAt       int64          `json:"createdAt"`
	Deadline        *int64         `json:"deadline,omitempty"`
	Duration        *int           `json:"duration,omitempty"`
}

// IsPastDeadline reports whether the test can no longer be started.
func (t Test) IsPastDeadline(reference time.Time) bool {
	return t.Deadline != nil && Millis(reference) > *t.Deadline
}

// CountdownSeconds returns the countdown length, or zero when the test is untimed.
func (t Test) CountdownSeconds() int {
	if t.Duration == nil || *t.Duration <= 0 {
		return 0
	}
	return *t.Duration * 60
}

// TestResult is the single graded attempt of a student at a test.
type TestResult struct {
	TestID       string `json:"testId"`
	StudentEmail string `json:"studentEmail"`
	Score        int    `json:"score"`
	Total        int    `json:"total"`
	Timestamp    int64  `json:"timestamp"`
}

// Matches reports whether the result belongs to the test and student.
func (r TestResult) Matches(testID, email string) bool {
	return r.TestID == testID && SameEmail(r.StudentEmail, email)
}

// FindResult returns the result for (testID, email), if recorded.
func FindResult(results []TestResult, testID, email string) (TestResult, bool) {
	for _, result := range results {
		if result.Matches(testID, email) {
			return result, true
		}
	}
	return TestResult{}, false
}
