// Package storage defines the persistence interface for graded submissions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/labrunner/internal/execution"
)

var (
	// ErrNotFound is returned when no submission matches an id or prefix.
	ErrNotFound = errors.New("submission not found")
	// ErrAmbiguous is returned when an id prefix matches several submissions.
	ErrAmbiguous = errors.New("ambiguous submission prefix")
)

// SubmissionStatus is the overall verdict of a graded submission.
type SubmissionStatus string

const (
	StatusPassed SubmissionStatus = "passed"
	StatusFailed SubmissionStatus = "failed"
)

// Submission is the durable record of one graded attempt.
type Submission struct {
	ID          string                     `json:"id"`
	UserID      string                     `json:"user_id"`
	ExerciseID  string                     `json:"exercise_id"`
	Language    execution.Language         `json:"language"`
	Source      string                     `json:"source"`
	Status      SubmissionStatus           `json:"status"`
	PassedCount int                        `json:"passed_count"`
	TotalCount  int                        `json:"total_count"`
	Results     []execution.TestCaseResult `json:"results"`
	Hint        string                     `json:"hint,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
}

// NewSubmission builds a record from a grading result. The ID is left to the caller.
func NewSubmission(userID, exerciseID string, language execution.Language, source string, res execution.GradingResult) *Submission {
	status := StatusFailed
	if res.AllPassed {
		status = StatusPassed
	}
	return &Submission{
		UserID:      userID,
		ExerciseID:  exerciseID,
		Language:    language,
		Source:      source,
		Status:      status,
		PassedCount: res.PassedCount,
		TotalCount:  res.TotalCount,
		Results:     res.Results,
	}
}

// Grading reassembles the grading result stored on the record.
func (s *Submission) Grading() execution.GradingResult {
	return execution.NewGradingResult(s.Results)
}

// ListOptions controls filtering and pagination for ListSubmissions.
type ListOptions struct {
	UserID     string
	ExerciseID string
	Status     SubmissionStatus
	Limit      int
	Offset     int
}

// DefaultListLimit applies when ListOptions.Limit is not positive.
const DefaultListLimit = 50

// Store is the persistence interface for submissions.
type Store interface {
	// CreateSubmission inserts a new record. The ID field must be set by the caller.
	CreateSubmission(ctx context.Context, s *Submission) error

	// GetSubmission returns a submission by ID or unique ID prefix.
	GetSubmission(ctx context.Context, id string) (*Submission, error)

	// ListSubmissions returns submissions ordered by created_at descending.
	ListSubmissions(ctx context.Context, opts ListOptions) ([]Submission, error)

	// CountAttempts returns how many submissions a user has made for an exercise.
	CountAttempts(ctx context.Context, userID, exerciseID string) (int, error)

	// DeleteSubmission removes a submission by ID or unique ID prefix.
	DeleteSubmission(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
