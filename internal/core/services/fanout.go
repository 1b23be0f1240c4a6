package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
)

const BatchSize = 1000 // Taille des paquets pour Redis

var tracer = otel.Tracer("activity-service")

type FanOutWriter struct {
	repo      ports.FeedRepository
	followers *FollowerCache
	maxSize   int64
	batchSize int
}

func NewFanOutWriter(repo ports.FeedRepository, followers *FollowerCache, maxFeedSize int64, batchSize int) *FanOutWriter {
	if batchSize <= 0 {
		batchSize = BatchSize
	}
	return &FanOutWriter{
		repo:      repo,
		followers: followers,
		maxSize:   maxFeedSize,
		batchSize: batchSize,
	}
}

// Publish écrit l'activité dans le feed de chaque follower + celui de l'acteur.
// Toute erreur interrompt le fan-out et remonte à l'appelant.
func (w *FanOutWriter) Publish(ctx context.Context, cmd domain.PublishCmd) error {
	if err := validatePublish(cmd); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "fanout.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("activity.actor_id", cmd.ActorID),
		attribute.String("activity.type", string(cmd.DataType)+"."+string(cmd.ActionType)),
	)

	// 1. Followers (cache-aside, miss -> Neo4j)
	followers, err := w.followers.Get(ctx, cmd.ActorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "followers lookup failed")
		return fmt.Errorf("fan-out: %w", err)
	}

	// 2. Destinataires = followers ∪ {acteur}
	recipients := recipientsOf(cmd.ActorID, followers)

	// 3. Un seul record, immuable
	rec, err := buildRecord(cmd)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("fan-out: %w", err)
	}

	slog.Debug("📢 Fan-out starting", "record_id", rec.ID, "actor_id", cmd.ActorID, "recipients", len(recipients))
	span.SetAttributes(attribute.Int("fanout.recipients", len(recipients)))

	// 4. Écriture Redis par paquets
	for i := 0; i < len(recipients); i += w.batchSize {
		end := min(i+w.batchSize, len(recipients))
		if err := w.repo.Append(ctx, recipients[i:end], rec, w.maxSize); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "feed append failed")
			return domain.Dependency(fmt.Sprintf("fan-out batch at %d", i), err)
		}
	}

	slog.Debug("✅ Fan-out complete", "record_id", rec.ID, "count", len(recipients))
	return nil
}

func validatePublish(cmd domain.PublishCmd) error {
	switch {
	case cmd.ActorID == "":
		return fmt.Errorf("%w: actor id is required", domain.ErrInvalidArgument)
	case !cmd.DataType.Valid():
		return fmt.Errorf("%w: data type %q", domain.ErrInvalidArgument, cmd.DataType)
	case !cmd.ActionType.Valid():
		return fmt.Errorf("%w: action type %q", domain.ErrInvalidArgument, cmd.ActionType)
	case cmd.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", domain.ErrInvalidArgument)
	}
	if cmd.ID != "" {
		if _, err := uuid.Parse(cmd.ID); err != nil {
			return fmt.Errorf("%w: record id %q", domain.ErrInvalidArgument, cmd.ID)
		}
	}
	return nil
}

func recipientsOf(actorID string, followers []domain.EntityRef) []string {
	seen := make(map[string]struct{}, len(followers)+1)
	out := make([]string, 0, len(followers)+1)
	for _, f := range followers {
		if _, ok := seen[f.ID]; ok || f.ID == "" {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f.ID)
	}
	if _, ok := seen[actorID]; !ok {
		out = append(out, actorID)
	}
	return out
}

// NewRecordID : UUID v7, ordonné dans le temps, sert de départage à score égal
func NewRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("record id: %w", err)
	}
	return id.String(), nil
}

// buildRecord reprend l'id de la commande s'il existe (rejeu idempotent).
func buildRecord(cmd domain.PublishCmd) (*domain.ActivityRecord, error) {
	id := cmd.ID
	if id == "" {
		var err error
		if id, err = NewRecordID(); err != nil {
			return nil, err
		}
	}
	data, err := json.Marshal(cmd.Data)
	if err != nil {
		return nil, fmt.Errorf("encode activity data: %w", err)
	}
	return &domain.ActivityRecord{
		ID:         id,
		Actor:      domain.Actor{ID: cmd.ActorID},
		Timestamp:  cmd.Timestamp.UTC(),
		DataType:   cmd.DataType,
		ActionType: cmd.ActionType,
		Data:       data,
	}, nil
}
