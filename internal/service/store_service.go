package service

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-portal/internal/dto"
	"github.com/noah-isme/gema-portal/internal/models"
	"github.com/noah-isme/gema-portal/internal/observability"
	"github.com/noah-isme/gema-portal/internal/store"
)

// Actor is the identity a client declares on a request. It is logged and
// traced, never enforced.
type Actor struct {
	Role          string
	Email         string
	CorrelationID string
}

// StoreService exposes the authoritative store to the HTTP layer.
type StoreService interface {
	Snapshot(ctx context.Context) (store.Snapshot, error)
	Save(ctx context.Context, actor Actor, payload dto.SaveRequest) error
}

type storeService struct {
	store     store.Store
	feed      ChangeFeedService
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewStoreService constructs the store service. feed may be nil.
func NewStoreService(backend store.Store, feed ChangeFeedService, validate *validator.Validate, logger zerolog.Logger) StoreService {
	observability.RegisterMetrics()

	return &storeService{
		store:     backend,
		feed:      feed,
		validator: validate,
		logger:    logger.With().Str("component", "store_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-portal/internal/service/store"),
	}
}

func (s *storeService) Snapshot(ctx context.Context) (store.Snapshot, error) {
	spanCtx, span := s.tracer.Start(ctx, "store.read_all")
	defer span.End()

	snapshot, err := s.store.ReadAll(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error().Err(err).Msg("failed to read collections")
		return nil, err
	}

	return snapshot, nil
}

func (s *storeService) Save(ctx context.Context, actor Actor, payload dto.SaveRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	label := payload.Key
	if !models.IsCollectionKey(label) {
		label = "unknown"
	}

	spanCtx, span := s.tracer.Start(ctx, "store.replace_collection", trace.WithAttributes(
		attribute.String("store.collection", payload.Key),
		attribute.String("client.role", actor.Role),
		attribute.Int("store.payload_bytes", len(payload.Data)),
	))
	defer span.End()

	logger := s.logger.With().
		Str("collection", payload.Key).
		Str("client_role", actor.Role).
		Str("client_email", actor.Email).
		Str("correlation_id", actor.CorrelationID).
		Logger()

	if err := s.store.ReplaceCollection(spanCtx, payload.Key, payload.Data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.CollectionWrites().WithLabelValues(label, writeResult(err)).Inc()

		if errors.Is(err, store.ErrInvalidKey) || errors.Is(err, store.ErrInvalidRecords) {
			logger.Warn().Err(err).Msg("save rejected")
		} else {
			logger.Error().Err(err).Msg("save failed")
		}
		return err
	}

	observability.CollectionWrites().WithLabelValues(label, "accepted").Inc()
	logger.Info().Int("bytes", len(payload.Data)).Msg("collection replaced")

	if s.feed != nil {
		s.feed.Publish(spanCtx, payload.Key)
	}

	return nil
}

func writeResult(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, store.ErrInvalidRecords):
		return "invalid_records"
	default:
		return "unavailable"
	}
}
