package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
)

// StreamBatchSize : taille des paquets lus depuis Neo4j
const StreamBatchSize = 1000

func followersKey(userID string) string { return "followers:" + userID }
func followingKey(userID string) string { return "following:" + userID }

// FollowerCache met en cache la liste des followers d'un user.
// Pas de TTL : l'entrée vit jusqu'à l'invalidation explicite (follow/unfollow).
type FollowerCache struct {
	kv           ports.KeyValueStore
	relations    ports.RelationshipRepository
	followingTTL time.Duration
}

func NewFollowerCache(kv ports.KeyValueStore, relations ports.RelationshipRepository, followingTTL time.Duration) *FollowerCache {
	return &FollowerCache{kv: kv, relations: relations, followingTTL: followingTTL}
}

func (c *FollowerCache) Get(ctx context.Context, userID string) ([]domain.EntityRef, error) {
	return Cached(ctx, c.kv, followersKey(userID), 0, func(ctx context.Context) ([]domain.EntityRef, error) {
		refs := []domain.EntityRef{}
		err := c.relations.StreamFollowers(ctx, userID, StreamBatchSize, func(ids []string) error {
			for _, id := range ids {
				refs = append(refs, domain.EntityRef{ID: id})
			}
			return nil
		})
		if err != nil {
			return nil, domain.Dependency(fmt.Sprintf("find followers of %s", userID), err)
		}
		return refs, nil
	})
}

// Following : même principe, avec un TTL de sécurité en plus de l'invalidation.
func (c *FollowerCache) Following(ctx context.Context, userID string) ([]domain.EntityRef, error) {
	return Cached(ctx, c.kv, followingKey(userID), c.followingTTL, func(ctx context.Context) ([]domain.EntityRef, error) {
		ids, err := c.relations.ListFollowing(ctx, userID)
		if err != nil {
			return nil, domain.Dependency(fmt.Sprintf("find following of %s", userID), err)
		}
		refs := make([]domain.EntityRef, len(ids))
		for i, id := range ids {
			refs[i] = domain.EntityRef{ID: id}
		}
		return refs, nil
	})
}

// Invalidate doit être appelé après toute mutation de la relation : followers de la
// cible, following de l'acteur.
func (c *FollowerCache) Invalidate(ctx context.Context, targetID string, actorIDs ...string) error {
	keys := []string{followersKey(targetID)}
	for _, id := range actorIDs {
		keys = append(keys, followingKey(id))
	}
	if err := c.kv.Delete(ctx, keys...); err != nil {
		return domain.Dependency("invalidate followers", err)
	}
	return nil
}
