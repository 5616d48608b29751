package replicator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFollowTurnsEventsIntoNudges(t *testing.T) {
	upgrader := websocket.Upgrader{}
	roles := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roles <- r.Header.Get("X-Client-Role")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"key":"tasks","source":"n1","at":1}`))
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	nudges := Follow(ctx, url, http.Header{"X-Client-Role": {"student"}}, zerolog.Nop())

	select {
	case <-nudges:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a nudge")
	}
	require.Equal(t, "student", <-roles)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-nudges:
			return !ok
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}
