package models

import (
	"strconv"
	"strings"
	"time"
)

// Collection keys recognised by the authoritative store.
const (
	CollectionGroups      = "groups"
	CollectionSubjects    = "subjects"
	CollectionTasks       = "tasks"
	CollectionSubmissions = "submissions"
	CollectionProfessors  = "professors"
	CollectionTests       = "tests"
	CollectionTestResults = "testResults"
	CollectionSyllabuses  = "syllabuses"
	CollectionLectures    = "lectures"
)

// CollectionKeys lists every collection in the order of the persisted document.
var CollectionKeys = []string{
	CollectionGroups,
	CollectionSubjects,
	CollectionTasks,
	CollectionSubmissions,
	CollectionProfessors,
	CollectionTests,
	CollectionTestResults,
	CollectionSyllabuses,
	CollectionLectures,
}

// IsCollectionKey reports whether key names a known collection.
func IsCollectionKey(key string) bool {
	for _, candidate := range CollectionKeys {
		if candidate == key {
			return true
		}
	}
	return false
}

// NormalizeEmail is the identity comparison form used for students and professors.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SameEmail compares two emails case-insensitively.
func SameEmail(a, b string) bool {
	return NormalizeEmail(a) == NormalizeEmail(b)
}

// Millis converts t to epoch milliseconds, the wire format for every timestamp.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NewID returns a caller-generated record identifier. Identifiers are
// millisecond timestamps rendered as strings; uniqueness is the caller's job.
func NewID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}
