package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/service"
)

// StreamHandler upgrades GET /db/stream to a websocket that pushes change events.
type StreamHandler struct {
	feed      service.ChangeFeedService
	keepAlive time.Duration
	logger    zerolog.Logger
}

// NewStreamHandler creates a stream handler. keepAlive controls the ping interval.
func NewStreamHandler(feed service.ChangeFeedService, keepAlive time.Duration, logger zerolog.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	return &StreamHandler{
		feed:      feed,
		keepAlive: keepAlive,
		logger:    logger.With().Str("component", "stream_handler").Logger(),
	}
}

// Register binds the stream route under the provided router group.
func (h *StreamHandler) Register(router fiber.Router) {
	router.Use("/db/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/db/stream", websocket.New(h.handleConnection))
}

func (h *StreamHandler) handleConnection(conn *websocket.Conn) {
	events, cancel := h.feed.Subscribe()
	defer cancel()

	role, _ := conn.Locals("client_role").(string)
	correlation, _ := conn.Locals("correlation_id").(string)
	logger := h.logger.With().Str("client_role", role).Str("correlation_id", correlation).Logger()
	logger.Info().Msg("change stream connected")
	defer logger.Info().Msg("change stream disconnected")

	// Inbound frames are ignored; the reader only notices the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug().Err(err).Msg("failed to write change event")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
