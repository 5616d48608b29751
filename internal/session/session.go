// Package session runs one student's attempt at a test: start, answer,
// finish, with an optional countdown that finishes the attempt by itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/observability"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/internal/scoring"
	"github.com/noah-isme/gema-portal/internal/store"
)

var (
	// ErrDeadlinePassed is returned by Start once the test deadline is over.
	ErrDeadlinePassed = errors.New("test deadline has passed")
	// ErrSessionClosed is returned for actions on a submitted or expired session.
	ErrSessionClosed = errors.New("test session is closed")
	// ErrNotInProgress is returned for answers and finishes outside an attempt.
	ErrNotInProgress = errors.New("test session is not in progress")
	// ErrDuplicateAttempt is returned when a result already exists for the student.
	ErrDuplicateAttempt = errors.New("test already taken")
	// ErrInvalidAnswer is returned for a question index outside the test.
	ErrInvalidAnswer = errors.New("invalid answer")
)

// State of a session.
type State int

const (
	NotStarted State = iota
	InProgress
	Submitted
	Expired
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Submitted:
		return "submitted"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Submitted || s == Expired
}

// Session is one attempt. It is safe for concurrent use.
type Session struct {
	ctx      context.Context
	test     models.Test
	email    string
	clock    Clock
	recorder Recorder
	logger   zerolog.Logger

	// finishMu makes Finish a single transition even when the countdown and
	// the student race.
	finishMu sync.Mutex

	mu         sync.Mutex
	state      State
	answers    map[int]int
	startedAt  time.Time
	remaining  int
	result     *models.TestResult
	stopTimer  context.CancelFunc
	closed     bool
	done       chan struct{}
	doneClosed bool
}

// Start begins the attempt. With a duration the countdown starts too.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case InProgress:
		return nil
	case Submitted:
		return ErrSessionClosed
	case Expired:
		return ErrDeadlinePassed
	}

	if s.test.IsPastDeadline(s.clock.Now()) {
		s.state = Expired
		s.markDoneLocked()
		s.logger.Info().Msg("start refused after deadline")
		return ErrDeadlinePassed
	}

	s.state = InProgress
	s.startedAt = s.clock.Now()
	s.logger.Info().Msg("test started")

	if seconds := s.test.CountdownSeconds(); seconds > 0 && !s.closed {
		s.remaining = seconds
		timerCtx, cancel := context.WithCancel(context.Background())
		s.stopTimer = cancel
		go s.countdown(timerCtx, s.clock.NewTicker(time.Second))
	}

	return nil
}

// Answer records option for question, replacing any earlier choice.
func (s *Session) Answer(question, option int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != InProgress {
		return ErrNotInProgress
	}
	if question < 0 || question >= len(s.test.Questions) {
		return fmt.Errorf("%w: question %d", ErrInvalidAnswer, question)
	}
	s.answers[question] = option
	return nil
}

// Tick advances the countdown by one second. Reaching zero finishes the attempt.
func (s *Session) Tick() {
	s.mu.Lock()
	if s.state != InProgress || s.remaining <= 0 || s.closed {
		s.mu.Unlock()
		return
	}
	s.remaining--
	expired := s.remaining == 0
	s.mu.Unlock()

	if expired {
		_, err := s.finish(s.ctx, "countdown")
		if err != nil && !errors.Is(err, ErrSessionClosed) {
			s.logger.Warn().Err(err).Msg("automatic finish reported an error")
		}
	}
}

// Finish scores the attempt and records it. It transitions the session to
// Submitted exactly once; later calls return the stored result and
// ErrSessionClosed. When a result already exists, that result is surfaced
// with ErrDuplicateAttempt.
func (s *Session) Finish(ctx context.Context) (models.TestResult, error) {
	return s.finish(ctx, "manual")
}

func (s *Session) finish(ctx context.Context, trigger string) (models.TestResult, error) {
	s.finishMu.Lock()
	defer s.finishMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case Submitted:
		result := *s.result
		s.mu.Unlock()
		observability.SessionFinishes().WithLabelValues(trigger, "ignored").Inc()
		return result, ErrSessionClosed
	case Expired:
		s.mu.Unlock()
		return models.TestResult{}, ErrSessionClosed
	case NotStarted:
		s.mu.Unlock()
		return models.TestResult{}, ErrNotInProgress
	}

	answers := make(map[int]int, len(s.answers))
	for question, option := range s.answers {
		answers[question] = option
	}
	s.stopTimerLocked()
	s.mu.Unlock()

	outcome := scoring.Score(s.test.Questions, s.test.MaxScore, answers)
	result := models.TestResult{
		TestID:       s.test.ID,
		StudentEmail: s.email,
		Score:        outcome.Score,
		Total:        s.test.MaxScore,
		Timestamp:    models.Millis(s.clock.Now()),
	}

	recorded, err := s.recorder.Record(ctx, result)
	label := "recorded"
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateAttempt):
		label = "duplicate"
	case errors.Is(err, replicator.ErrQueued):
		// Replayed after the first successful poll.
		label = "queued"
		err = nil
	case errors.Is(err, store.ErrUnavailable):
		// Kept locally and retried by the replicator.
		label = "deferred"
		err = nil
	default:
		label = "failed"
	}

	s.mu.Lock()
	s.state = Submitted
	s.result = &recorded
	s.remaining = 0
	s.markDoneLocked()
	s.mu.Unlock()

	observability.SessionFinishes().WithLabelValues(trigger, label).Inc()
	s.logger.Info().
		Str("trigger", trigger).
		Str("outcome", label).
		Int("score", recorded.Score).
		Int("correct", outcome.Correct).
		Int("questions", outcome.Total).
		Msg("test finished")

	return recorded, err
}

// Close stops the countdown. An unfinished attempt is abandoned without a result.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

func (s *Session) countdown(ctx context.Context, ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Tick()
		}
	}
}

func (s *Session) stopTimerLocked() {
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
}

func (s *Session) markDoneLocked() {
	if !s.doneClosed {
		close(s.done)
		s.doneClosed = true
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining returns the seconds left on the countdown.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Result returns the recorded result once the session is Submitted.
func (s *Session) Result() (models.TestResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return models.TestResult{}, false
	}
	return *s.result, true
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// StartedAt returns when Start succeeded.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Test returns the test being taken.
func (s *Session) Test() models.Test {
	return s.test
}

// FormatRemaining renders seconds as m:ss.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
