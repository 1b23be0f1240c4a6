package eventbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

const (
	StreamName    = "ACTIVITY"
	FanOutSubject = "activity.fanout"
)

// EnsureStream crée le Stream s'il n'existe pas (Idempotent)
func EnsureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"activity.>"},
		Storage:  jetstream.FileStorage, // Persistance sur disque : le fan-out survit à un redémarrage
		Replicas: 1,                     // Mettre 3 en cluster
	})
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return stream, nil
}

// JetStreamDispatcher met le fan-out en file au lieu de l'exécuter inline.
type JetStreamDispatcher struct {
	js jetstream.JetStream
}

func NewJetStreamDispatcher(js jetstream.JetStream) *JetStreamDispatcher {
	return &JetStreamDispatcher{js: js}
}

func (d *JetStreamDispatcher) Dispatch(ctx context.Context, cmd domain.PublishCmd) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal publish cmd: %w", err)
	}

	msg := &nats.Msg{
		Subject: FanOutSubject,
		Data:    data,
		Header:  nats.Header{},
	}
	// Le consumer reprend la trace de la requête HTTP d'origine
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	// Nats-Msg-Id = id du record : un double publish est écarté par le serveur
	var opts []jetstream.PublishOpt
	if cmd.ID != "" {
		opts = append(opts, jetstream.WithMsgID(cmd.ID))
	}

	// JetStream garantit que le serveur a bien reçu et persisté le message
	ack, err := d.js.PublishMsg(ctx, msg, opts...)
	if err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}

	slog.Debug("📢 Fan-out queued",
		"actor_id", cmd.ActorID,
		"type", string(cmd.DataType)+"."+string(cmd.ActionType),
		"seq", ack.Sequence,
	)
	return nil
}
