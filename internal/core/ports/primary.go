package ports

import (
	"context"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

// --- DRIVING (Ce que le service expose) ---

type FeedService interface {
	// GetFeed est appelé pour l'affichage du feed personnel (hydraté)
	GetFeed(ctx context.Context, req domain.FeedRequest) ([]*domain.FeedEntry, error)

	// FeedSize donne le nombre total de records du feed personnel (pagination)
	FeedSize(ctx context.Context, userID string) (int64, error)

	// GetDefaultFeed compose le feed global des visiteurs anonymes
	GetDefaultFeed(ctx context.Context, req domain.DefaultFeedRequest) (*domain.DefaultFeedPage, error)
}

// Publisher est le Fan-Out Writer.
type Publisher interface {
	Publish(ctx context.Context, cmd domain.PublishCmd) error
}

type ActivityService interface {
	FollowUser(ctx context.Context, actorID, targetID string) error
	UnfollowUser(ctx context.Context, actorID, targetID string) error
	FollowChannel(ctx context.Context, actorID, channelSlug string) error
	UnfollowChannel(ctx context.Context, actorID, channelSlug string) error

	CreateChannel(ctx context.Context, actorID string, cmd domain.CreateChannelCmd) (*domain.Channel, error)
	ConnectBlock(ctx context.Context, actorID, channelSlug, blockID string) error

	Followers(ctx context.Context, userID string) ([]domain.EntityRef, error)
	Following(ctx context.Context, userID string) ([]domain.EntityRef, error)
}
