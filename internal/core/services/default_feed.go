package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

// DefaultFeed compose le feed global (visiteurs anonymes) en fusionnant
// deux collections paginées indépendamment : channels et blocks.
type DefaultFeed struct {
	entities Entities
	// ttl de la première page (sans curseur); 0 désactive le cache
	firstPageTTL time.Duration
}

func NewDefaultFeed(entities Entities, firstPageTTL time.Duration) *DefaultFeed {
	return &DefaultFeed{entities: entities, firstPageTTL: firstPageTTL}
}

func (d *DefaultFeed) Page(ctx context.Context, req domain.DefaultFeedRequest) (*domain.DefaultFeedPage, error) {
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidArgument)
	}
	if req.ChannelCursor == "" && req.BlockCursor == "" && d.firstPageTTL > 0 {
		key := fmt.Sprintf("default_feed:%d", req.Limit)
		return Cached(ctx, d.entities.Cache, key, d.firstPageTTL, func(ctx context.Context) (*domain.DefaultFeedPage, error) {
			return d.page(ctx, req)
		})
	}
	return d.page(ctx, req)
}

func (d *DefaultFeed) page(ctx context.Context, req domain.DefaultFeedRequest) (*domain.DefaultFeedPage, error) {
	// 1. Décodage des curseurs (vide = début de collection)
	channelAfter, err := domain.DecodeCursor(req.ChannelCursor)
	if err != nil {
		return nil, fmt.Errorf("channel cursor: %w", err)
	}
	blockAfter, err := domain.DecodeCursor(req.BlockCursor)
	if err != nil {
		return nil, fmt.Errorf("block cursor: %w", err)
	}

	channels, channelTotal, err := d.entities.Channels.ListCreatedAfter(ctx, channelAfter, req.Limit)
	if err != nil {
		return nil, domain.Dependency("list channels", err)
	}
	blocks, blockTotal, err := d.entities.Blocks.ListCreatedAfter(ctx, blockAfter, req.Limit)
	if err != nil {
		return nil, domain.Dependency("list blocks", err)
	}

	// 2. Les deux sources doivent être représentées, sinon page vide
	if len(channels) == 0 || len(blocks) == 0 {
		return &domain.DefaultFeedPage{Items: []domain.DefaultFeedItem{}}, nil
	}

	// 3. Propriétaire de chaque channel
	r := d.entities.resolver()
	items := make([]domain.DefaultFeedItem, 0, len(channels)+len(blocks))
	for _, ch := range channels {
		withOwner, err := r.withOwner(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("default feed owner of channel %s: %w", ch.ID, err)
		}
		items = append(items, domain.DefaultFeedItem{Kind: "channel", Channel: withOwner})
	}
	for _, b := range blocks {
		items = append(items, domain.DefaultFeedItem{Kind: "block", Block: b})
	}

	page := &domain.DefaultFeedPage{
		Total:        channelTotal + blockTotal,
		ChannelTotal: channelTotal,
		BlockTotal:   blockTotal,
	}

	// 4. Curseur par flux, uniquement s'il reste des données
	if hasMore(len(channels), channelTotal, req.Limit) {
		page.ChannelCursor = domain.EncodeCursor(channels[len(channels)-1].CreatedAt)
	}
	if hasMore(len(blocks), blockTotal, req.Limit) {
		page.BlockCursor = domain.EncodeCursor(blocks[len(blocks)-1].CreatedAt)
	}

	// 5. Tri global décroissant sur updated_at (stable : channels puis blocks à égalité)
	slices.SortStableFunc(items, func(a, b domain.DefaultFeedItem) int {
		return b.UpdatedAt().Compare(a.UpdatedAt())
	})
	page.Items = items
	return page, nil
}

func hasMore(fetched, total, limit int) bool {
	return (fetched > 1 && total > limit) || limit == 1
}
