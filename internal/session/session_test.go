package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/replicator"
	"github.com/noah-isme/gema-portal/internal/store"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	ticker := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, ticker)
	return ticker
}

func (c *fakeClock) ticker(t *testing.T) *fakeTicker {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.tickers)
	return c.tickers[len(c.tickers)-1]
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {}

// fire delivers one tick, reporting false when nobody is listening.
func (t *fakeTicker) fire() bool {
	select {
	case t.ch <- time.Now():
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

type toggleStore struct {
	store.Store
	mu       sync.Mutex
	writeErr error
	readErr  error
}

func (s *toggleStore) ReadAll(ctx context.Context) (store.Snapshot, error) {
	s.mu.Lock()
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.ReadAll(ctx)
}

func (s *toggleStore) setErrs(readErr, writeErr error) {
	s.mu.Lock()
	s.readErr = readErr
	s.writeErr = writeErr
	s.mu.Unlock()
}

func (s *toggleStore) ReplaceCollection(ctx context.Context, key string, records json.RawMessage) error {
	s.mu.Lock()
	err := s.writeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.ReplaceCollection(ctx, key, records)
}

type fixture struct {
	backend    *toggleStore
	replicator *replicator.Replicator
	clock      *fakeClock
	manager    *Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	fileStore, err := store.OpenFileStore(filepath.Join(t.TempDir(), "db.json"), zerolog.Nop())
	require.NoError(t, err)
	backend := &toggleStore{Store: fileStore}

	r := replicator.New(backend, replicator.Options{Logger: zerolog.Nop()})
	require.NoError(t, r.Poll(context.Background()))

	clock := newFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	return fixture{
		backend:    backend,
		replicator: r,
		clock:      clock,
		manager:    NewManager(NewReplicatorRecorder(r), clock, zerolog.Nop()),
	}
}

func (f fixture) storedResults(t *testing.T) []models.TestResult {
	t.Helper()
	snapshot, err := f.backend.Store.ReadAll(context.Background())
	require.NoError(t, err)
	var results []models.TestResult
	require.NoError(t, snapshot.Decode(models.CollectionTestResults, &results))
	return results
}

func sampleTest(questions int, durationMinutes int, deadline *int64) models.Test {
	test := models.Test{
		ID:              "test-1",
		SubjectID:       "subject-1",
		Topic:           "Kinematics",
		MaxScore:        100,
		AssignedGroupID: "group-1",
		Deadline:        deadline,
	}
	for i := 0; i < questions; i++ {
		test.Questions = append(test.Questions, models.TestQuestion{
			Question:      "q",
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: i % 4,
		})
	}
	if durationMinutes > 0 {
		test.Duration = &durationMinutes
	}
	return test
}

func TestCountdownExpiryRecordsZeroScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Open(ctx, sampleTest(5, 1, nil), "Student@Uni.kz")
	require.NoError(t, err)
	require.Equal(t, NotStarted, s.State())

	require.NoError(t, s.Start())
	require.Equal(t, 60, s.Remaining())

	ticker := f.clock.ticker(t)
	for i := 0; i < 60; i++ {
		require.True(t, ticker.fire(), "tick %d", i)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish on expiry")
	}

	require.Equal(t, Submitted, s.State())
	result, ok := s.Result()
	require.True(t, ok)
	require.Equal(t, 0, result.Score)
	require.Equal(t, 100, result.Total)
	require.Equal(t, "student@uni.kz", result.StudentEmail)

	require.Len(t, f.storedResults(t), 1)
}

func TestRacingFinishRecordsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Open(ctx, sampleTest(4, 1, nil), "student@uni.kz")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Answer(0, 0))

	for i := 0; i < 59; i++ {
		s.Tick()
	}
	require.Equal(t, 1, s.Remaining())

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.Tick()
	}()
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Finish(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrSessionClosed)
		}
	}

	require.Equal(t, Submitted, s.State())
	results := f.storedResults(t)
	require.Len(t, results, 1)
	require.Equal(t, 25, results[0].Score)
}

func TestScoresAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Open(ctx, sampleTest(4, 0, nil), "student@uni.kz")
	require.NoError(t, err)

	require.ErrorIs(t, s.Answer(0, 0), ErrNotInProgress)
	require.NoError(t, s.Start())
	require.Zero(t, s.Remaining())

	require.NoError(t, s.Answer(0, 3))
	require.NoError(t, s.Answer(0, 0))
	require.NoError(t, s.Answer(1, 1))
	require.NoError(t, s.Answer(2, 0))
	require.ErrorIs(t, s.Answer(7, 0), ErrInvalidAnswer)

	result, err := s.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, 50, result.Score)

	require.ErrorIs(t, s.Answer(3, 3), ErrNotInProgress)
	again, err := s.Finish(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.Equal(t, result, again)
}

func TestPastDeadlineIsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deadline := models.Millis(f.clock.Now().Add(-time.Minute))
	s, err := f.manager.Open(ctx, sampleTest(3, 10, &deadline), "student@uni.kz")
	require.NoError(t, err)
	require.Equal(t, Expired, s.State())
	require.ErrorIs(t, s.Start(), ErrDeadlinePassed)

	_, err = s.Finish(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.Empty(t, f.storedResults(t))

	select {
	case <-s.Done():
	default:
		t.Fatal("expired session should be done")
	}
}

func TestDeadlinePassingBeforeStart(t *testing.T) {
	f := newFixture(t)

	deadline := models.Millis(f.clock.Now().Add(time.Minute))
	s, err := f.manager.Open(context.Background(), sampleTest(3, 0, &deadline), "student@uni.kz")
	require.NoError(t, err)
	require.Equal(t, NotStarted, s.State())

	f.clock.Advance(2 * time.Minute)
	require.ErrorIs(t, s.Start(), ErrDeadlinePassed)
	require.Equal(t, Expired, s.State())
}

func TestReopenShowsExistingResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := sampleTest(2, 0, nil)

	first, err := f.manager.Open(ctx, test, "student@uni.kz")
	require.NoError(t, err)
	require.NoError(t, first.Start())
	recorded, err := first.Finish(ctx)
	require.NoError(t, err)

	second, err := f.manager.Open(ctx, test, " STUDENT@uni.kz ")
	require.NoError(t, err)
	require.Equal(t, Submitted, second.State())
	existing, ok := second.Result()
	require.True(t, ok)
	require.Equal(t, recorded, existing)
	require.ErrorIs(t, second.Start(), ErrSessionClosed)
}

func TestSecondDeviceGetsDuplicateAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := sampleTest(2, 0, nil)

	laptop, err := f.manager.Open(ctx, test, "student@uni.kz")
	require.NoError(t, err)
	phone, err := f.manager.Open(ctx, test, "student@uni.kz")
	require.NoError(t, err)

	require.NoError(t, laptop.Start())
	require.NoError(t, phone.Start())
	require.NoError(t, phone.Answer(0, 0))

	first, err := laptop.Finish(ctx)
	require.NoError(t, err)

	second, err := phone.Finish(ctx)
	require.ErrorIs(t, err, ErrDuplicateAttempt)
	require.Equal(t, first, second)
	require.Equal(t, Submitted, phone.State())
	require.Len(t, f.storedResults(t), 1)
}

func TestUnavailableStoreDoesNotBlockFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Open(ctx, sampleTest(2, 0, nil), "student@uni.kz")
	require.NoError(t, err)
	require.NoError(t, s.Start())

	f.backend.mu.Lock()
	f.backend.writeErr = store.ErrUnavailable
	f.backend.mu.Unlock()

	_, err = s.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, Submitted, s.State())
	require.Equal(t, []string{models.CollectionTestResults}, f.replicator.Dirty())

	f.backend.mu.Lock()
	f.backend.writeErr = nil
	f.backend.mu.Unlock()
	require.NoError(t, f.replicator.Poll(ctx))
	require.Len(t, f.storedResults(t), 1)
}

func TestFinishBeforeFirstSnapshotIsReplayed(t *testing.T) {
	fileStore, err := store.OpenFileStore(filepath.Join(t.TempDir(), "db.json"), zerolog.Nop())
	require.NoError(t, err)
	backend := &toggleStore{Store: fileStore}
	backend.setErrs(store.ErrUnavailable, store.ErrUnavailable)

	r := replicator.New(backend, replicator.Options{Logger: zerolog.Nop()})
	clock := newFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	manager := NewManager(NewReplicatorRecorder(r), clock, zerolog.Nop())
	ctx := context.Background()

	s, err := manager.Open(ctx, sampleTest(2, 0, nil), "student@uni.kz")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Answer(0, 0))

	result, err := s.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, Submitted, s.State())
	require.Equal(t, 50, result.Score)
	require.Equal(t, []string{models.CollectionTestResults}, r.Dirty())

	backend.setErrs(nil, nil)
	require.NoError(t, r.Poll(ctx))
	require.NoError(t, r.Poll(ctx))
	require.Empty(t, r.Dirty())

	snapshot, err := fileStore.ReadAll(ctx)
	require.NoError(t, err)
	var stored []models.TestResult
	require.NoError(t, snapshot.Decode(models.CollectionTestResults, &stored))
	require.Len(t, stored, 1)
	require.Equal(t, result, stored[0])
}

func TestQueuedFinishKeepsFirstResult(t *testing.T) {
	fileStore, err := store.OpenFileStore(filepath.Join(t.TempDir(), "db.json"), zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	earlier := models.TestResult{TestID: "test-1", StudentEmail: "student@uni.kz", Score: 100, Total: 100, Timestamp: 1}
	raw, err := json.Marshal([]models.TestResult{earlier})
	require.NoError(t, err)
	require.NoError(t, fileStore.ReplaceCollection(ctx, models.CollectionTestResults, raw))

	backend := &toggleStore{Store: fileStore}
	backend.setErrs(store.ErrUnavailable, store.ErrUnavailable)
	r := replicator.New(backend, replicator.Options{Logger: zerolog.Nop()})
	manager := NewManager(NewReplicatorRecorder(r), newFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)), zerolog.Nop())

	s, err := manager.Open(ctx, sampleTest(2, 0, nil), "student@uni.kz")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	_, err = s.Finish(ctx)
	require.NoError(t, err)

	backend.setErrs(nil, nil)
	require.NoError(t, r.Poll(ctx))

	snapshot, err := fileStore.ReadAll(ctx)
	require.NoError(t, err)
	var stored []models.TestResult
	require.NoError(t, snapshot.Decode(models.CollectionTestResults, &stored))
	require.Equal(t, []models.TestResult{earlier}, stored)
}

func TestCloseStopsCountdown(t *testing.T) {
	f := newFixture(t)

	s, err := f.manager.Open(context.Background(), sampleTest(2, 1, nil), "student@uni.kz")
	require.NoError(t, err)
	require.NoError(t, s.Start())

	ticker := f.clock.ticker(t)
	require.True(t, ticker.fire())
	require.Eventually(t, func() bool { return s.Remaining() == 59 }, time.Second, 5*time.Millisecond)

	s.Close()
	ticker.fire()
	s.Tick()
	require.Equal(t, 59, s.Remaining())
	require.Equal(t, InProgress, s.State())
}

func TestOpenRequiresEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Open(context.Background(), sampleTest(1, 0, nil), "  ")
	require.ErrorIs(t, err, ErrNoStudent)
}

func TestFormatRemaining(t *testing.T) {
	require.Equal(t, "10:00", FormatRemaining(600))
	require.Equal(t, "0:09", FormatRemaining(9))
	require.Equal(t, "1:05", FormatRemaining(65))
	require.Equal(t, "0:00", FormatRemaining(-3))
}
