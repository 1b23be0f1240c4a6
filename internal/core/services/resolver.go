package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
)

// Entities regroupe les stores d'entités (source de vérité) et leur cache en lecture.
type Entities struct {
	Cache    ports.KeyValueStore
	Users    ports.UserRepository
	Channels ports.ChannelRepository
	Blocks   ports.BlockRepository
}

// resolver lit "cache puis store" sans jamais écrire dans le cache :
// le peuplement appartient au chemin d'écriture de chaque entité.
// Il mémorise les entités déjà résolues pendant un seul appel.
type resolver struct {
	e        Entities
	users    map[string]*domain.User
	channels map[string]*domain.Channel
	blocks   map[string]*domain.Block
}

func (e Entities) resolver() *resolver {
	return &resolver{
		e:        e,
		users:    map[string]*domain.User{},
		channels: map[string]*domain.Channel{},
		blocks:   map[string]*domain.Block{},
	}
}

func readThrough[T any](ctx context.Context, kv ports.KeyValueStore, key, kind, id string, find func(context.Context, string) (*T, error)) (*T, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return nil, domain.Dependency("entity cache get", err)
	}
	if ok {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return &v, nil
		}
		slog.Warn("Corrupt entity cache entry, falling back to store", "key", key)
	}

	v, err := find(ctx, id)
	if err != nil {
		return nil, domain.Dependency(fmt.Sprintf("find %s", kind), err)
	}
	if v == nil {
		return nil, domain.NotFound(kind, id)
	}
	return v, nil
}

func (r *resolver) user(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	u, err := readThrough(ctx, r.e.Cache, domain.UserKey(id), "user", id, r.e.Users.FindByID)
	if err != nil {
		return nil, err
	}
	r.users[id] = u
	return u, nil
}

func (r *resolver) channel(ctx context.Context, id string) (*domain.Channel, error) {
	if c, ok := r.channels[id]; ok {
		return c, nil
	}
	c, err := readThrough(ctx, r.e.Cache, domain.ChannelKey(id), "channel", id, r.e.Channels.FindByID)
	if err != nil {
		return nil, err
	}
	r.channels[id] = c
	return c, nil
}

func (r *resolver) block(ctx context.Context, id string) (*domain.Block, error) {
	if b, ok := r.blocks[id]; ok {
		return b, nil
	}
	b, err := readThrough(ctx, r.e.Cache, domain.BlockKey(id), "block", id, r.e.Blocks.FindByID)
	if err != nil {
		return nil, err
	}
	r.blocks[id] = b
	return b, nil
}

// withOwner renvoie une copie du channel avec la projection publique de son propriétaire.
func (r *resolver) withOwner(ctx context.Context, ch *domain.Channel) (*domain.Channel, error) {
	owner, err := r.user(ctx, ch.UserID)
	if err != nil {
		return nil, err
	}
	out := *ch
	out.User = owner.Public()
	return &out, nil
}

func (r *resolver) channelWithOwner(ctx context.Context, id string) (*domain.Channel, error) {
	ch, err := r.channel(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.withOwner(ctx, ch)
}
