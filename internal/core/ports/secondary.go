package ports

import (
	"context"
	"time"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

// --- DRIVEN (Ce dont le service a besoin) ---

// KeyValueStore est le cache clé/valeur (Redis). Get renvoie ok=false sur un miss.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set avec ttl == 0 : pas d'expiration
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type FeedRepository interface {
	// Append ajoute le record dans le feed de PLUSIEURS utilisateurs (Batch),
	// puis coupe chaque feed pour qu'il ne dépasse pas maxSize.
	Append(ctx context.Context, userIDs []string, rec *domain.ActivityRecord, maxSize int64) error

	// GetFeed lit les records bruts, du plus récent au plus ancien
	GetFeed(ctx context.Context, req domain.FeedRequest) ([]*domain.ActivityRecord, error)

	// Count : nombre de records du feed (≤ maxSize)
	Count(ctx context.Context, userID string) (int64, error)
}

// RelationshipRepository est le graphe "follow" (Neo4j).
type RelationshipRepository interface {
	EnsureSchema(ctx context.Context) error

	CreateRelation(ctx context.Context, actorID string, target domain.Target) error
	DeleteRelation(ctx context.Context, actorID string, target domain.Target) error
	Exists(ctx context.Context, actorID string, target domain.Target) (bool, error)

	// StreamFollowers renvoie les followers d'un user par paquets via 'yield'
	StreamFollowers(ctx context.Context, userID string, batchSize int, yield func([]string) error) error
	ListFollowing(ctx context.Context, userID string) ([]string, error)
}

// Les Find* renvoient (nil, nil) quand l'entité n'existe pas.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

type ChannelRepository interface {
	Save(ctx context.Context, ch *domain.Channel) error
	FindByID(ctx context.Context, id string) (*domain.Channel, error)
	FindBySlug(ctx context.Context, slug string) (*domain.Channel, error)
	// ListCreatedAfter : ordre croissant de création, total = nombre d'items après 'after'
	ListCreatedAfter(ctx context.Context, after time.Time, limit int) ([]*domain.Channel, int, error)
	Connect(ctx context.Context, channelID, blockID, userID string, at time.Time) error
}

type BlockRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Block, error)
	ListCreatedAfter(ctx context.Context, after time.Time, limit int) ([]*domain.Block, int, error)
}

// ActivityDispatcher déclenche le fan-out (inline ou via la file JetStream).
type ActivityDispatcher interface {
	Dispatch(ctx context.Context, cmd domain.PublishCmd) error
}
