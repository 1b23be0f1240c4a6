package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
)

const (
	ConsumerName = "fanout-worker"
	RetryDelay   = 5 * time.Second
	// Borne d'un fan-out : au-delà on nak et JetStream redélivre
	HandleTimeout = 30 * time.Second
)

// message est le sous-ensemble de jetstream.Msg utilisé par le handler.
type message interface {
	Data() []byte
	Headers() nats.Header
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// Le payload garde Data brut : il est réécrit tel quel dans le record.
type publishEvent struct {
	ID         string            `json:"id"`
	ActorID    string            `json:"actor_id"`
	DataType   domain.DataType   `json:"data_type"`
	ActionType domain.ActionType `json:"action_type"`
	Data       json.RawMessage   `json:"data"`
	Timestamp  time.Time         `json:"timestamp"`
}

type FanOutConsumer struct {
	publisher ports.Publisher
}

func NewFanOutConsumer(publisher ports.Publisher) *FanOutConsumer {
	return &FanOutConsumer{publisher: publisher}
}

// Start attache le consumer durable et traite les messages jusqu'à l'annulation de ctx.
func (c *FanOutConsumer) Start(ctx context.Context, stream jetstream.Stream, subject string) error {
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       HandleTimeout + 10*time.Second,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.Handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	slog.Info("📨 Fan-out worker listening", "subject", subject, "consumer", ConsumerName)
	<-ctx.Done()
	cc.Stop()
	return nil
}

func (c *FanOutConsumer) Handle(ctx context.Context, msg message) {
	// 1. Extraction du contexte de trace (le lien avec la requête d'origine)
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Headers()))

	// 2. Démarrage du span
	ctx, span := otel.Tracer("activity-service").Start(ctx, "process_fanout", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var ev publishEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		span.RecordError(err)
		slog.Error("❌ Invalid fan-out event format", "error", err)
		// Jamais redélivré : le message ne sera pas plus lisible au prochain essai
		if err := msg.Term(); err != nil {
			slog.Warn("Failed to term message", "error", err)
		}
		return
	}

	cmd := domain.PublishCmd{
		ID:         ev.ID,
		ActorID:    ev.ActorID,
		DataType:   ev.DataType,
		ActionType: ev.ActionType,
		Data:       ev.Data,
		Timestamp:  ev.Timestamp,
	}

	// 3. Fan-out, borné dans le temps
	hctx, cancel := context.WithTimeout(ctx, HandleTimeout)
	defer cancel()

	err := c.publisher.Publish(hctx, cmd)
	switch {
	case err == nil:
		slog.Debug("✅ Fan-out success", "actor_id", cmd.ActorID)
		if err := msg.Ack(); err != nil {
			slog.Warn("Failed to ack message", "error", err)
		}
	case errors.Is(err, domain.ErrInvalidArgument):
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid fan-out command")
		slog.Error("❌ Invalid fan-out command", "actor_id", cmd.ActorID, "error", err)
		if err := msg.Term(); err != nil {
			slog.Warn("Failed to term message", "error", err)
		}
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "fan-out failed")
		slog.Error("❌ Fan-out failed, will retry", "actor_id", cmd.ActorID, "error", err)
		if err := msg.NakWithDelay(RetryDelay); err != nil {
			slog.Warn("Failed to nak message", "error", err)
		}
	}
}
