package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

type recipeKey struct {
	data   domain.DataType
	action domain.ActionType
}

type recipe func(ctx context.Context, r *resolver, raw json.RawMessage) (any, error)

// Une combinaison (DataType, ActionType) = une entrée de la table.
var recipes = map[recipeKey]recipe{
	{domain.DataChannel, domain.ActionCreated}:      hydrateChannel,
	{domain.DataUser, domain.ActionFollowed}:        hydrateFollowedUser,
	{domain.DataChannel, domain.ActionFollowed}:     hydrateFollowedChannel,
	{domain.DataConnection, domain.ActionConnected}: hydrateConnection,
	{domain.DataBlock, domain.ActionConnected}:      hydrateConnection,
}

// Hydrator reconstruit des FeedEntry complètes à partir des records bruts.
type Hydrator struct {
	entities Entities
}

func NewHydrator(entities Entities) *Hydrator {
	return &Hydrator{entities: entities}
}

// Hydrate ne modifie jamais les records d'entrée. Une entité manquante fait échouer
// tout l'appel (feed corrompu), rien n'est ignoré silencieusement.
func (h *Hydrator) Hydrate(ctx context.Context, records []*domain.ActivityRecord) ([]*domain.FeedEntry, error) {
	ctx, span := tracer.Start(ctx, "feed.hydrate")
	defer span.End()
	span.SetAttributes(attribute.Int("feed.records", len(records)))

	r := h.entities.resolver()
	out := make([]*domain.FeedEntry, 0, len(records))

	for _, rec := range records {
		entry, err := hydrateOne(ctx, r, rec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "hydration failed")
			return nil, fmt.Errorf("hydrate record %s: %w", rec.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func hydrateOne(ctx context.Context, r *resolver, rec *domain.ActivityRecord) (*domain.FeedEntry, error) {
	fn, ok := recipes[recipeKey{rec.DataType, rec.ActionType}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrUnsupportedActivity, rec.DataType, rec.ActionType)
	}

	actor, err := r.user(ctx, rec.Actor.ID)
	if err != nil {
		return nil, err
	}
	data, err := fn(ctx, r, rec.Data)
	if err != nil {
		return nil, err
	}

	return &domain.FeedEntry{
		ID:         rec.ID,
		Actor:      actor.AsActor(),
		Timestamp:  rec.Timestamp,
		DataType:   rec.DataType,
		ActionType: rec.ActionType,
		Data:       data,
	}, nil
}

func decodeRef(raw json.RawMessage) (string, error) {
	var ref domain.EntityRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.ID == "" {
		return "", fmt.Errorf("%w: malformed entity reference", domain.ErrUnsupportedActivity)
	}
	return ref.ID, nil
}

func hydrateChannel(ctx context.Context, r *resolver, raw json.RawMessage) (any, error) {
	id, err := decodeRef(raw)
	if err != nil {
		return nil, err
	}
	ch, err := r.channel(ctx, id)
	if err != nil {
		return nil, err
	}
	// Copie : le memo du resolver reste intact
	out := *ch
	return &out, nil
}

func hydrateFollowedUser(ctx context.Context, r *resolver, raw json.RawMessage) (any, error) {
	id, err := decodeRef(raw)
	if err != nil {
		return nil, err
	}
	u, err := r.user(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

func hydrateFollowedChannel(ctx context.Context, r *resolver, raw json.RawMessage) (any, error) {
	id, err := decodeRef(raw)
	if err != nil {
		return nil, err
	}
	return r.channelWithOwner(ctx, id)
}

func hydrateConnection(ctx context.Context, r *resolver, raw json.RawMessage) (any, error) {
	var ref domain.ConnectionRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.Channel.ID == "" || ref.Block.ID == "" {
		return nil, fmt.Errorf("%w: malformed connection reference", domain.ErrUnsupportedActivity)
	}
	ch, err := r.channelWithOwner(ctx, ref.Channel.ID)
	if err != nil {
		return nil, err
	}
	b, err := r.block(ctx, ref.Block.ID)
	if err != nil {
		return nil, err
	}
	out := *b
	return &domain.ConnectionData{Channel: ch, Block: &out}, nil
}
