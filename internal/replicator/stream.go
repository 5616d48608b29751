package replicator

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	followMinBackoff = time.Second
	followMaxBackoff = 30 * time.Second
)

// Follow subscribes to the store's change stream at url and returns a nudge
// channel suitable for Options.Nudges. Lost connections are redialled with
// backoff; polling keeps working while the stream is down. The channel is
// closed when ctx ends.
func Follow(ctx context.Context, url string, header http.Header, logger zerolog.Logger) <-chan struct{} {
	nudges := make(chan struct{}, 1)
	log := logger.With().Str("component", "change_stream").Logger()

	go func() {
		defer close(nudges)

		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		backoff := followMinBackoff

		for ctx.Err() == nil {
			conn, resp, err := dialer.DialContext(ctx, url, header)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				log.Debug().Err(err).Dur("retry_in", backoff).Msg("change stream unavailable")
				if !sleepContext(ctx, backoff) {
					return
				}
				backoff = minDuration(backoff*2, followMaxBackoff)
				continue
			}

			log.Info().Str("url", url).Msg("change stream connected")
			backoff = followMinBackoff
			readEvents(ctx, conn, nudges)
			log.Info().Msg("change stream disconnected")
		}
	}()

	return nudges
}

func readEvents(ctx context.Context, conn *websocket.Conn, nudges chan<- struct{}) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		// Events only say "something changed"; coalesce bursts into one poll.
		select {
		case nudges <- struct{}{}:
		default:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
