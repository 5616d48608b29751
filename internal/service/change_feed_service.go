package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/observability"
)

const changeFeedBufferSize = 32

// ChangeFeedService fans "collection replaced" events out to stream
// subscribers on this node and, through Redis and NATS, on every other node.
// Delivery is best effort: a slow subscriber drops events and catches up on
// its next poll.
type ChangeFeedService interface {
	Publish(ctx context.Context, key string) dto.ChangeEvent
	Subscribe() (<-chan dto.ChangeEvent, func())
	Start(ctx context.Context)
	NodeID() string
}

type changeFeedService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *changeBroker
	nodeID       string
	now          func() time.Time
}

type changeEnvelope struct {
	Source string          `json:"source"`
	Event  dto.ChangeEvent `json:"event"`
}

type changeBroker struct {
	mu          sync.RWMutex
	subscribers map[chan dto.ChangeEvent]struct{}
}

// NewChangeFeedService constructs the change feed. Both transports are optional.
func NewChangeFeedService(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) ChangeFeedService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":changes"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".changes"
	}

	return &changeFeedService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "change_feed_service").Logger(),
		broker: &changeBroker{
			subscribers: make(map[chan dto.ChangeEvent]struct{}),
		},
		nodeID: uuid.NewString(),
		now:    time.Now,
	}
}

func (s *changeFeedService) NodeID() string {
	return s.nodeID
}

func (s *changeFeedService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *changeFeedService) Publish(ctx context.Context, key string) dto.ChangeEvent {
	event := dto.ChangeEvent{
		Key:    key,
		Source: s.nodeID,
		At:     s.now().UTC().UnixMilli(),
	}

	s.broadcast(event)
	if err := s.publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("collection", key).Msg("failed to publish change event to broker")
	}

	return event
}

func (s *changeFeedService) Subscribe() (<-chan dto.ChangeEvent, func()) {
	channel := make(chan dto.ChangeEvent, changeFeedBufferSize)

	s.broker.subscribe(channel)
	observability.ChangeFeedClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(channel)
			observability.ChangeFeedClients().Dec()
		})
	}

	return channel, cleanup
}

func (s *changeFeedService) broadcast(event dto.ChangeEvent) {
	observability.ChangeFeedEvents().WithLabelValues(event.Key).Inc()
	s.broker.broadcast(event)
}

func (s *changeFeedService) publish(ctx context.Context, event dto.ChangeEvent) error {
	payload, err := json.Marshal(changeEnvelope{Source: s.nodeID, Event: event})
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *changeFeedService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("change feed redis subscription closed")
			return
		}
		s.handleEnvelope([]byte(msg.Payload))
	}
}

// Each node needs every event, so the NATS subscription is per node rather
// than a shared queue group.
func (s *changeFeedService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEnvelope(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats change subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain change feed nats subscription")
		}
	}()
}

func (s *changeFeedService) handleEnvelope(payload []byte) {
	var envelope changeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid change event payload")
		return
	}

	if envelope.Source == s.nodeID || envelope.Event.Key == "" {
		return
	}

	s.broadcast(envelope.Event)
}

func (b *changeBroker) subscribe(ch chan dto.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = struct{}{}
}

func (b *changeBroker) unsubscribe(ch chan dto.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

func (b *changeBroker) broadcast(event dto.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
