package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-portal/internal/models"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	s, err := NewSQLStore(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestSQLStoreSeedsEveryCollection(t *testing.T) {
	s := newTestSQLStore(t)

	snapshot, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	for _, key := range models.CollectionKeys {
		require.JSONEq(t, `[]`, string(snapshot[key]), key)
	}
}

func TestSQLStoreReplaceAndReadBack(t *testing.T) {
	s := newTestSQLStore(t)
	ctx := context.Background()

	first := json.RawMessage(`[{"id":"1","topic":"Graphs"}]`)
	second := json.RawMessage(`[{"id":"2","topic":"Trees"}]`)

	require.NoError(t, s.ReplaceCollection(ctx, models.CollectionTests, first))
	require.NoError(t, s.ReplaceCollection(ctx, models.CollectionTests, second))
	require.NoError(t, s.ReplaceCollection(ctx, models.CollectionTests, second))

	snapshot, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.JSONEq(t, string(second), string(snapshot[models.CollectionTests]))
}

func TestSQLStoreRejectsUnknownKey(t *testing.T) {
	s := newTestSQLStore(t)

	err := s.ReplaceCollection(context.Background(), "users", json.RawMessage(`[]`))
	require.ErrorIs(t, err, ErrInvalidKey)
}
