package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
)

// DispatchFunc adapte une fonction (ex: FanOutWriter.Publish) en ActivityDispatcher inline.
type DispatchFunc func(ctx context.Context, cmd domain.PublishCmd) error

func (f DispatchFunc) Dispatch(ctx context.Context, cmd domain.PublishCmd) error {
	return f(ctx, cmd)
}

type ActivityService struct {
	relations  ports.RelationshipRepository
	followers  *FollowerCache
	entities   Entities
	dispatcher ports.ActivityDispatcher
	entityTTL  time.Duration
	now        func() time.Time
}

func NewActivityService(
	relations ports.RelationshipRepository,
	followers *FollowerCache,
	entities Entities,
	dispatcher ports.ActivityDispatcher,
	entityTTL time.Duration,
) *ActivityService {
	return &ActivityService{
		relations:  relations,
		followers:  followers,
		entities:   entities,
		dispatcher: dispatcher,
		entityTTL:  entityTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// --- FOLLOW ---

func (s *ActivityService) FollowUser(ctx context.Context, actorID, targetID string) error {
	if err := checkPair(actorID, targetID); err != nil {
		return err
	}
	if _, err := s.findUser(ctx, targetID); err != nil {
		return err
	}
	target := domain.UserTarget(targetID)
	// Follow répété : no-op, pas de nouvelle activité
	if exists, err := s.hasRelation(ctx, actorID, target); err != nil || exists {
		return err
	}

	// 1. Écriture relationnelle (source de vérité)
	if err := s.relations.CreateRelation(ctx, actorID, target); err != nil {
		return domain.Dependency("follow user", err)
	}
	// 2. Invalidation du cache des followers de la CIBLE
	if err := s.followers.Invalidate(ctx, targetID, actorID); err != nil {
		return fmt.Errorf("follow user: %w", err)
	}
	// 3. Fan-out
	s.dispatch(ctx, domain.PublishCmd{
		ActorID:    actorID,
		DataType:   domain.DataUser,
		ActionType: domain.ActionFollowed,
		Data:       domain.EntityRef{ID: targetID},
		Timestamp:  s.now(),
	})
	return nil
}

func (s *ActivityService) UnfollowUser(ctx context.Context, actorID, targetID string) error {
	if err := checkPair(actorID, targetID); err != nil {
		return err
	}
	target := domain.UserTarget(targetID)
	if err := s.requireRelation(ctx, actorID, target); err != nil {
		return err
	}
	if err := s.relations.DeleteRelation(ctx, actorID, target); err != nil {
		return domain.Dependency("unfollow user", err)
	}
	if err := s.followers.Invalidate(ctx, targetID, actorID); err != nil {
		return fmt.Errorf("unfollow user: %w", err)
	}
	return nil
}

func (s *ActivityService) FollowChannel(ctx context.Context, actorID, channelSlug string) error {
	if actorID == "" {
		return fmt.Errorf("%w: actor id is required", domain.ErrInvalidArgument)
	}
	ch, err := s.findChannelBySlug(ctx, channelSlug)
	if err != nil {
		return err
	}
	target := domain.ChannelTarget(ch.ID)
	if exists, err := s.hasRelation(ctx, actorID, target); err != nil || exists {
		return err
	}
	if err := s.relations.CreateRelation(ctx, actorID, target); err != nil {
		return domain.Dependency("follow channel", err)
	}
	if ch.Status == domain.ChannelPrivate {
		return nil
	}
	s.dispatch(ctx, domain.PublishCmd{
		ActorID:    actorID,
		DataType:   domain.DataChannel,
		ActionType: domain.ActionFollowed,
		Data:       domain.EntityRef{ID: ch.ID},
		Timestamp:  s.now(),
	})
	return nil
}

func (s *ActivityService) UnfollowChannel(ctx context.Context, actorID, channelSlug string) error {
	if actorID == "" {
		return fmt.Errorf("%w: actor id is required", domain.ErrInvalidArgument)
	}
	ch, err := s.findChannelBySlug(ctx, channelSlug)
	if err != nil {
		return err
	}
	target := domain.ChannelTarget(ch.ID)
	if err := s.requireRelation(ctx, actorID, target); err != nil {
		return err
	}
	if err := s.relations.DeleteRelation(ctx, actorID, target); err != nil {
		return domain.Dependency("unfollow channel", err)
	}
	return nil
}

// --- CHANNELS & CONNECTIONS ---

func (s *ActivityService) CreateChannel(ctx context.Context, actorID string, cmd domain.CreateChannelCmd) (*domain.Channel, error) {
	title := strings.TrimSpace(cmd.Title)
	if actorID == "" || title == "" {
		return nil, fmt.Errorf("%w: actor and title are required", domain.ErrInvalidArgument)
	}
	if _, err := s.findUser(ctx, actorID); err != nil {
		return nil, err
	}

	status := cmd.Status
	if status == "" {
		status = domain.ChannelPublic
	}
	id := uuid.NewString()
	now := s.now()
	ch := &domain.Channel{
		ID:        id,
		Title:     title,
		Slug:      domain.Slugify(title) + "-" + id[:8],
		Status:    status,
		UserID:    actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.entities.Channels.Save(ctx, ch); err != nil {
		return nil, domain.Dependency("save channel", err)
	}
	s.cacheChannel(ctx, ch)

	// Un channel privé n'apparaît dans aucun feed
	if ch.Status == domain.ChannelPrivate {
		return ch, nil
	}
	s.dispatch(ctx, domain.PublishCmd{
		ActorID:    actorID,
		DataType:   domain.DataChannel,
		ActionType: domain.ActionCreated,
		Data:       domain.EntityRef{ID: ch.ID},
		Timestamp:  now,
	})
	return ch, nil
}

func (s *ActivityService) ConnectBlock(ctx context.Context, actorID, channelSlug, blockID string) error {
	if actorID == "" || blockID == "" {
		return fmt.Errorf("%w: actor and block are required", domain.ErrInvalidArgument)
	}
	ch, err := s.findChannelBySlug(ctx, channelSlug)
	if err != nil {
		return err
	}
	if ch.UserID != actorID {
		return domain.ErrForbidden
	}
	b, err := s.entities.Blocks.FindByID(ctx, blockID)
	if err != nil {
		return domain.Dependency("find block", err)
	}
	if b == nil {
		return domain.NotFound("block", blockID)
	}

	now := s.now()
	if err := s.entities.Channels.Connect(ctx, ch.ID, b.ID, actorID, now); err != nil {
		return domain.Dependency("connect block", err)
	}
	ch.UpdatedAt = now
	s.cacheChannel(ctx, ch)

	if ch.Status == domain.ChannelPrivate {
		return nil
	}
	s.dispatch(ctx, domain.PublishCmd{
		ActorID:    actorID,
		DataType:   domain.DataConnection,
		ActionType: domain.ActionConnected,
		Data: domain.ConnectionRef{
			Channel: domain.EntityRef{ID: ch.ID},
			Block:   domain.EntityRef{ID: b.ID},
		},
		Timestamp: now,
	})
	return nil
}

// --- LECTURES ---

func (s *ActivityService) Followers(ctx context.Context, userID string) ([]domain.EntityRef, error) {
	return s.followers.Get(ctx, userID)
}

func (s *ActivityService) Following(ctx context.Context, userID string) ([]domain.EntityRef, error) {
	return s.followers.Following(ctx, userID)
}

// --- HELPERS ---

// dispatch : l'action déclenchante est déjà commitée, un échec du fan-out ne
// l'annule pas. Il est loggé et attaché au span, jamais ignoré en silence.
func (s *ActivityService) dispatch(ctx context.Context, cmd domain.PublishCmd) {
	id, err := NewRecordID()
	if err == nil {
		cmd.ID = id
		err = s.dispatcher.Dispatch(ctx, cmd)
	}
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		slog.Error("❌ Fan-out dispatch failed",
			"actor_id", cmd.ActorID,
			"data_type", cmd.DataType,
			"action_type", cmd.ActionType,
			"error", err,
		)
	}
}

// cacheChannel peuple "channel:<id>" depuis le chemin d'écriture du channel.
// Best effort : Postgres reste la source de vérité.
func (s *ActivityService) cacheChannel(ctx context.Context, ch *domain.Channel) {
	data, err := json.Marshal(ch)
	if err == nil {
		err = s.entities.Cache.Set(ctx, domain.ChannelKey(ch.ID), string(data), s.entityTTL)
	}
	if err != nil {
		slog.Warn("Failed to cache channel", "channel_id", ch.ID, "error", err)
	}
}

func checkPair(actorID, targetID string) error {
	if actorID == "" || targetID == "" {
		return fmt.Errorf("%w: ids cannot be empty", domain.ErrInvalidArgument)
	}
	if actorID == targetID {
		return domain.ErrSelfFollow
	}
	return nil
}

func (s *ActivityService) hasRelation(ctx context.Context, actorID string, target domain.Target) (bool, error) {
	ok, err := s.relations.Exists(ctx, actorID, target)
	if err != nil {
		return false, domain.Dependency("check relation", err)
	}
	return ok, nil
}

func (s *ActivityService) requireRelation(ctx context.Context, actorID string, target domain.Target) error {
	ok, err := s.hasRelation(ctx, actorID, target)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NotFound("follow relation", actorID+"->"+target.ID)
	}
	return nil
}

func (s *ActivityService) findUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.entities.Users.FindByID(ctx, id)
	if err != nil {
		return nil, domain.Dependency("find user", err)
	}
	if u == nil {
		return nil, domain.NotFound("user", id)
	}
	return u, nil
}

func (s *ActivityService) findChannelBySlug(ctx context.Context, slug string) (*domain.Channel, error) {
	if slug == "" {
		return nil, fmt.Errorf("%w: channel slug is required", domain.ErrInvalidArgument)
	}
	ch, err := s.entities.Channels.FindBySlug(ctx, slug)
	if err != nil {
		return nil, domain.Dependency("find channel", err)
	}
	if ch == nil {
		return nil, domain.NotFound("channel", slug)
	}
	return ch, nil
}
