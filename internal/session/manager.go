package session

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/observability"
)

// ErrNoStudent is returned when a session is opened without an identity.
var ErrNoStudent = errors.New("student email is required")

// Manager opens sessions for a console.
type Manager struct {
	recorder Recorder
	clock    Clock
	logger   zerolog.Logger
}

// NewManager builds a Manager. A nil clock uses the system clock.
func NewManager(recorder Recorder, clock Clock, logger zerolog.Logger) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	observability.RegisterMetrics()

	return &Manager{
		recorder: recorder,
		clock:    clock,
		logger:   logger.With().Str("component", "session_manager").Logger(),
	}
}

// Open prepares an attempt for email. A recorded result yields a Submitted
// session carrying it; a passed deadline yields an Expired one. ctx is kept
// for the countdown's automatic finish.
func (m *Manager) Open(ctx context.Context, test models.Test, email string) (*Session, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, ErrNoStudent
	}

	session := &Session{
		ctx:      context.WithoutCancel(ctx),
		test:     test,
		email:    email,
		clock:    m.clock,
		recorder: m.recorder,
		logger: m.logger.With().
			Str("test_id", test.ID).
			Str("student_email", email).
			Logger(),
		state:   NotStarted,
		answers: make(map[int]int),
		done:    make(chan struct{}),
	}

	existing, found, err := m.recorder.Lookup(ctx, test.ID, email)
	if err != nil {
		// Finish re-checks under the collection lock, so a stale view here
		// cannot produce a second result.
		session.logger.Warn().Err(err).Msg("could not confirm previous attempts")
	}

	switch {
	case found:
		session.state = Submitted
		session.result = &existing
		session.markDoneLocked()
	case test.IsPastDeadline(m.clock.Now()):
		session.state = Expired
		session.markDoneLocked()
	}

	return session, nil
}
