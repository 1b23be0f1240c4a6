package services

import (
	"context"
	"fmt"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
)

type FeedService struct {
	repo        ports.FeedRepository
	hydrator    *Hydrator
	defaultFeed *DefaultFeed
}

func NewFeedService(repo ports.FeedRepository, hydrator *Hydrator, defaultFeed *DefaultFeed) *FeedService {
	return &FeedService{
		repo:        repo,
		hydrator:    hydrator,
		defaultFeed: defaultFeed,
	}
}

func (s *FeedService) GetFeed(ctx context.Context, req domain.FeedRequest) ([]*domain.FeedEntry, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	records, err := s.repo.GetFeed(ctx, req)
	if err != nil {
		return nil, domain.Dependency("read feed", err)
	}
	return s.hydrator.Hydrate(ctx, records)
}

func (s *FeedService) FeedSize(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	n, err := s.repo.Count(ctx, userID)
	if err != nil {
		return 0, domain.Dependency("count feed", err)
	}
	return n, nil
}

func (s *FeedService) GetDefaultFeed(ctx context.Context, req domain.DefaultFeedRequest) (*domain.DefaultFeedPage, error) {
	return s.defaultFeed.Page(ctx, req)
}
