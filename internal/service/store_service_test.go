package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/store"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type failingStore struct {
	err error
}

func (s failingStore) ReadAll(context.Context) (store.Snapshot, error) {
	return nil, s.err
}

func (s failingStore) ReplaceCollection(context.Context, string, json.RawMessage) error {
	return s.err
}

func newTestStoreService(t *testing.T) (StoreService, ChangeFeedService) {
	t.Helper()

	backend, err := store.OpenFileStore(filepath.Join(t.TempDir(), "db.json"), testLogger())
	require.NoError(t, err)

	feed := NewChangeFeedService(nil, "", nil, testLogger())
	return NewStoreService(backend, feed, validator.New(), testLogger()), feed
}

func TestStoreServiceSavePublishesChange(t *testing.T) {
	svc, feed := newTestStoreService(t)
	events, cancel := feed.Subscribe()
	defer cancel()

	ctx := context.Background()
	err := svc.Save(ctx, Actor{Role: "professor"}, dto.SaveRequest{
		Key:  models.CollectionGroups,
		Data: json.RawMessage(`[{"id":"1","name":"G1","professorId":"p","students":[]}]`),
	})
	require.NoError(t, err)

	select {
	case event := <-events:
		require.Equal(t, models.CollectionGroups, event.Key)
		require.Equal(t, feed.NodeID(), event.Source)
		require.NotZero(t, event.At)
	case <-time.After(time.Second):
		t.Fatal("expected change event")
	}

	snapshot, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"1","name":"G1","professorId":"p","students":[]}]`, string(snapshot[models.CollectionGroups]))
	require.JSONEq(t, `[]`, string(snapshot[models.CollectionTests]))
}

func TestStoreServiceRejectsInvalidSaves(t *testing.T) {
	svc, feed := newTestStoreService(t)
	events, cancel := feed.Subscribe()
	defer cancel()

	ctx := context.Background()

	err := svc.Save(ctx, Actor{}, dto.SaveRequest{Key: "grades", Data: json.RawMessage(`[]`)})
	require.ErrorIs(t, err, store.ErrInvalidKey)

	err = svc.Save(ctx, Actor{}, dto.SaveRequest{Key: models.CollectionTasks, Data: json.RawMessage(`{"id":"1"}`)})
	require.ErrorIs(t, err, store.ErrInvalidRecords)

	err = svc.Save(ctx, Actor{}, dto.SaveRequest{Data: json.RawMessage(`[]`)})
	var validationErrs validator.ValidationErrors
	require.True(t, errors.As(err, &validationErrs))

	select {
	case event := <-events:
		t.Fatalf("unexpected change event for %s", event.Key)
	default:
	}
}

func TestStoreServiceSurfacesUnavailable(t *testing.T) {
	svc := NewStoreService(failingStore{err: store.ErrUnavailable}, nil, validator.New(), testLogger())

	_, err := svc.Snapshot(context.Background())
	require.ErrorIs(t, err, store.ErrUnavailable)

	err = svc.Save(context.Background(), Actor{}, dto.SaveRequest{Key: models.CollectionTests, Data: json.RawMessage(`[]`)})
	require.ErrorIs(t, err, store.ErrUnavailable)
}
