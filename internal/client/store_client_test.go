package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-portal/internal/handler"
	"github.com/noah-isme/gema-portal/internal/middleware"
	"github.com/noah-isme/gema-portal/internal/service"
	"github.com/noah-isme/gema-portal/internal/store"
)

func newStoreServer(t *testing.T) *httptest.Server {
	t.Helper()

	backend, err := store.OpenFileStore(filepath.Join(t.TempDir(), "db.json"), zerolog.Nop())
	require.NoError(t, err)
	svc := service.NewStoreService(backend, nil, validator.New(), zerolog.Nop())

	app := fiber.New()
	app.Use(middleware.CorrelationID())
	handler.NewStoreHandler(svc, validator.New(), zerolog.Nop()).Register(app.Group("/api"))

	server := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(server.Close)
	return server
}

func TestStoreClientRoundTrip(t *testing.T) {
	server := newStoreServer(t)
	c := NewStoreClient(server.URL+"/", WithIdentity("professor", " Prof@Uni.kz "))
	ctx := context.Background()

	records := json.RawMessage(`[{"id":"1","name":"Physics","professorId":"p1"}]`)
	require.NoError(t, c.ReplaceCollection(ctx, "subjects", records))
	require.NoError(t, c.ReplaceCollection(ctx, "subjects", records))

	snapshot, err := c.ReadAll(ctx)
	require.NoError(t, err)
	require.JSONEq(t, string(records), string(snapshot["subjects"]))
	require.JSONEq(t, `[]`, string(snapshot["tests"]))
}

func TestStoreClientMapsRejections(t *testing.T) {
	server := newStoreServer(t)
	c := NewStoreClient(server.URL)
	ctx := context.Background()

	err := c.ReplaceCollection(ctx, "grades", json.RawMessage(`[]`))
	require.ErrorIs(t, err, store.ErrInvalidKey)

	err = c.ReplaceCollection(ctx, "tasks", json.RawMessage(`{"id":"1"}`))
	require.ErrorIs(t, err, store.ErrInvalidRecords)
}

func TestStoreClientMapsUnavailable(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Storage unavailable"}`))
	}))
	defer failing.Close()

	c := NewStoreClient(failing.URL)
	_, err := c.ReadAll(context.Background())
	require.ErrorIs(t, err, store.ErrUnavailable)

	err = c.ReplaceCollection(context.Background(), "tests", json.RawMessage(`[]`))
	require.ErrorIs(t, err, store.ErrUnavailable)

	failing.Close()
	_, err = c.ReadAll(context.Background())
	require.ErrorIs(t, err, store.ErrUnavailable)
}

func TestStoreClientSendsIdentity(t *testing.T) {
	var (
		mu      sync.Mutex
		headers http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headers = r.Header.Clone()
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewStoreClient(server.URL, WithIdentity("student", "A@B.C"))
	_, err := c.ReadAll(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "student", headers.Get("X-Client-Role"))
	require.Equal(t, "a@b.c", headers.Get("X-Client-Email"))
}

func TestStreamURL(t *testing.T) {
	require.Equal(t, "ws://localhost:3000/api/db/stream", NewStoreClient("http://localhost:3000").StreamURL())
	require.Equal(t, "wss://portal.example/api/db/stream", NewStoreClient("https://portal.example/").StreamURL())
}
