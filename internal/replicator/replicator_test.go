package replicator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/store"
)

type flakyStore struct {
	next store.Store

	mu         sync.Mutex
	writeErr   error
	readErr    error
	writes     []string
	reads      int
	block      chan struct{}
	writeEnter chan struct{}
}

func newFlakyStore(t *testing.T) *flakyStore {
	t.Helper()
	backend, err := store.OpenFileStore(filepath.Join(t.TempDir(), "db.json"), zerolog.Nop())
	require.NoError(t, err)
	return &flakyStore{next: backend}
}

func (s *flakyStore) ReadAll(ctx context.Context) (store.Snapshot, error) {
	s.mu.Lock()
	s.reads++
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.next.ReadAll(ctx)
}

func (s *flakyStore) ReplaceCollection(ctx context.Context, key string, records json.RawMessage) error {
	s.mu.Lock()
	s.writes = append(s.writes, key)
	err := s.writeErr
	block := s.block
	enter := s.writeEnter
	s.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}
	return s.next.ReplaceCollection(ctx, key, records)
}

func (s *flakyStore) setWriteErr(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *flakyStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *flakyStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type mapLegacy map[string]json.RawMessage

func (m mapLegacy) Load(key string) (json.RawMessage, bool, error) {
	raw, ok := m[key]
	return raw, ok, nil
}

func serverCollection[T any](t *testing.T, s store.Store, key string) []T {
	t.Helper()
	snapshot, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	var items []T
	require.NoError(t, snapshot.Decode(key, &items))
	return items
}

func appendSubject(subject models.Subject) func([]models.Subject) ([]models.Subject, error) {
	return func(items []models.Subject) ([]models.Subject, error) {
		return append(items, subject), nil
	}
}

func TestWriteIsVisibleToSelfImmediately(t *testing.T) {
	backend := newFlakyStore(t)
	r := New(backend, Options{Logger: zerolog.Nop()})
	ctx := context.Background()

	require.NoError(t, Mutate(ctx, r, models.CollectionSubjects, appendSubject(models.Subject{ID: "1", Name: "Math"})))

	subjects, err := Collection[models.Subject](r, models.CollectionSubjects)
	require.NoError(t, err)
	require.Len(t, subjects, 1)

	require.NoError(t, r.Poll(ctx))
	subjects, err = Collection[models.Subject](r, models.CollectionSubjects)
	require.NoError(t, err)
	require.Equal(t, "Math", subjects[0].Name)
	require.Len(t, serverCollection[models.Subject](t, backend.next, models.CollectionSubjects), 1)
}

func TestPollAdoptsOtherWriters(t *testing.T) {
	backend := newFlakyStore(t)
	mine := New(backend, Options{Logger: zerolog.Nop()})
	theirs := New(backend, Options{Logger: zerolog.Nop()})
	ctx := context.Background()

	require.NoError(t, mine.Poll(ctx))
	changes, cancel := mine.Subscribe()
	defer cancel()

	require.NoError(t, Mutate(ctx, theirs, models.CollectionSubjects, appendSubject(models.Subject{ID: "2", Name: "Art"})))
	require.NoError(t, mine.Poll(ctx))

	subjects, err := Collection[models.Subject](mine, models.CollectionSubjects)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	require.Equal(t, models.CollectionSubjects, <-changes)
}

func TestMigrateOnceFiresAtMostOnce(t *testing.T) {
	backend := newFlakyStore(t)
	legacyTasks := mapLegacy{models.CollectionTasks: json.RawMessage(`[{"id":"t1","title":"Essay"}]`)}
	ctx := context.Background()

	first := New(backend, Options{Owned: []string{models.CollectionTasks}, Legacy: legacyTasks, Logger: zerolog.Nop()})
	require.NoError(t, first.Poll(ctx))
	require.Equal(t, 1, backend.writeCount())
	require.NoError(t, first.Poll(ctx))
	require.Equal(t, 1, backend.writeCount())

	tasks := serverCollection[models.AssignmentTask](t, backend.next, models.CollectionTasks)
	require.Len(t, tasks, 1)
	require.Equal(t, "Essay", tasks[0].Title)

	// Another console with its own legacy copy sees a non-empty collection.
	second := New(backend, Options{
		Owned:  []string{models.CollectionTasks},
		Legacy: mapLegacy{models.CollectionTasks: json.RawMessage(`[{"id":"t9"}]`)},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, second.Poll(ctx))
	require.Equal(t, 1, backend.writeCount())

	local, err := Collection[models.AssignmentTask](second, models.CollectionTasks)
	require.NoError(t, err)
	require.Equal(t, "t1", local[0].ID)
}

func TestMigrateIgnoresUnownedAndEmptyLegacy(t *testing.T) {
	backend := newFlakyStore(t)
	r := New(backend, Options{
		Owned: []string{models.CollectionGroups},
		Legacy: mapLegacy{
			models.CollectionGroups: json.RawMessage(`[]`),
			models.CollectionTasks:  json.RawMessage(`[{"id":"t1"}]`),
		},
		Logger: zerolog.Nop(),
	})

	require.NoError(t, r.Poll(context.Background()))
	require.Zero(t, backend.writeCount())
}

func TestConcurrentSubmitsStoreOneRecord(t *testing.T) {
	backend := newFlakyStore(t)
	r := New(backend, Options{Logger: zerolog.Nop()})
	ctx := context.Background()
	require.NoError(t, r.Poll(ctx))

	errAlreadySubmitted := errors.New("already submitted")
	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(attempt int) {
			defer wg.Done()
			results <- Mutate(ctx, r, models.CollectionSubmissions, func(items []models.StudentSubmission) ([]models.StudentSubmission, error) {
				for _, item := range items {
					if item.Matches("task-1", "Student@Uni.kz") {
						return nil, errAlreadySubmitted
					}
				}
				return append(items, models.StudentSubmission{
					ID:           fmt.Sprintf("s-%d", attempt),
					TaskID:       "task-1",
					StudentEmail: "student@uni.kz",
				}), nil
			})
		}(i)
	}
	wg.Wait()
	close(results)

	accepted := 0
	for err := range results {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, errAlreadySubmitted)
	}
	require.Equal(t, 1, accepted)
	require.Len(t, serverCollection[models.StudentSubmission](t, backend.next, models.CollectionSubmissions), 1)
}

func TestUnavailableWriteIsKeptAndRetried(t *testing.T) {
	backend := newFlakyStore(t)
	r := New(backend, Options{Logger: zerolog.Nop()})
	ctx := context.Background()
	require.NoError(t, r.Poll(ctx))

	backend.setWriteErr(store.ErrUnavailable)
	err := Mutate(ctx, r, models.CollectionSubjects, appendSubject(models.Subject{ID: "1", Name: "Chem"}))
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.Equal(t, []string{models.CollectionSubjects}, r.Dirty())

	// Still failing: the poll must not overwrite the pending change.
	require.NoError(t, r.Poll(ctx))
	subjects, err := Collection[models.Subject](r, models.CollectionSubjects)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	require.Empty(t, serverCollection[models.Subject](t, backend.next, models.CollectionSubjects))

	backend.setWriteErr(nil)
	require.NoError(t, r.Poll(ctx))
	require.Empty(t, r.Dirty())
	require.Len(t, serverCollection[models.Subject](t, backend.next, models.CollectionSubjects), 1)
}

func TestRejectedWriteIsRolledBack(t *testing.T) {
	backend := newFlakyStore(t)
	r := New(backend, Options{Logger: zerolog.Nop()})
	ctx := context.Background()
	require.NoError(t, Mutate(ctx, r, models.CollectionSubjects, appendSubject(models.Subject{ID: "1", Name: "Bio"})))

	backend.setWriteErr(fmt.Errorf("%w: subjects", store.ErrInvalidRecords))
	err := Mutate(ctx, r, models.CollectionSubjects, appendSubject(models.Subject{ID: "2", Name: "Geo"}))
	require.ErrorIs(t, err, store.ErrInvalidRecords)

	subjects, err := Collection[models.Subject](r, models.CollectionSubjects)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	require.Equal(t, "Bio", subjects[0].Name)
	require.Empty(t, r.Dirty())
}

func TestInvalidKeyIsRejected(t *testing.T) {
	backend := newFlakyStore(t)
	r := New(backend, Options{Logger: zerolog.Nop()})

	err := Mutate(context.Background(), r, "grades", func(items []json.RawMessage) ([]json.RawMessage, error) {
		return append(items, json.RawMessage(`{}`)), nil
	})
	require.ErrorIs(t, err, store.ErrInvalidKey)

	items, err := Collection[json.RawMessage](r, "grades")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestPollSkippedWhileWriteInFlight(t *testing.T) {
	backend := newFlakyStore(t)
	r := New(backend, Options{Logger: zerolog.Nop()})
	ctx := context.Background()
	require.NoError(t, r.Poll(ctx))
	readsBefore := backend.readCount()

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	backend.mu.Lock()
	backend.block = release
	backend.writeEnter = entered
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- Mutate(ctx, r, models.CollectionSubjects, appendSubject(models.Subject{ID: "1"}))
	}()

	<-entered
	require.NoError(t, r.Poll(ctx))
	require.Equal(t, readsBefore, backend.readCount())

	close(release)
	require.NoError(t, <-done)
}

func TestMutateRequiresLoadedSnapshot(t *testing.T) {
	backend := newFlakyStore(t)
	backend.readErr = store.ErrUnavailable
	r := New(backend, Options{Logger: zerolog.Nop()})

	err := Mutate(context.Background(), r, models.CollectionSubjects, appendSubject(models.Subject{ID: "1"}))
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.ErrorIs(t, err, ErrNotLoaded)
	require.Zero(t, backend.writeCount())
}

func TestQueuedMutationReplaysAfterFirstPoll(t *testing.T) {
	backend := newFlakyStore(t)
	backend.readErr = store.ErrUnavailable
	r := New(backend, Options{Logger: zerolog.Nop()})
	ctx := context.Background()

	err := MutateOrQueue(ctx, r, models.CollectionSubjects, appendSubject(models.Subject{ID: "1", Name: "Art"}))
	require.ErrorIs(t, err, ErrQueued)
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.Equal(t, []string{models.CollectionSubjects}, r.Dirty())
	require.Zero(t, backend.writeCount())

	backend.mu.Lock()
	backend.readErr = nil
	backend.mu.Unlock()
	require.NoError(t, r.Poll(ctx))

	require.Empty(t, r.Dirty())
	subjects := serverCollection[models.Subject](t, backend.next, models.CollectionSubjects)
	require.Len(t, subjects, 1)
	require.Equal(t, "Art", subjects[0].Name)
}

func TestMutateOrQueueWritesWhenLoaded(t *testing.T) {
	backend := newFlakyStore(t)
	r := New(backend, Options{Logger: zerolog.Nop()})
	ctx := context.Background()

	require.NoError(t, MutateOrQueue(ctx, r, models.CollectionSubjects, appendSubject(models.Subject{ID: "1"})))
	require.Len(t, serverCollection[models.Subject](t, backend.next, models.CollectionSubjects), 1)
}

func TestRunPollsOnMountAndOnNudge(t *testing.T) {
	backend := newFlakyStore(t)
	nudges := make(chan struct{})
	r := New(backend, Options{Interval: time.Hour, Nudges: nudges, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return backend.readCount() == 1 }, time.Second, 5*time.Millisecond)
	nudges <- struct{}{}
	require.Eventually(t, func() bool { return backend.readCount() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
