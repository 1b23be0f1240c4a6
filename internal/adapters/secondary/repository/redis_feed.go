package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

// appendAndTrim : ZADD -> ZCARD -> ZREMRANGEBYRANK, atomique pour une clé.
// On retire les plus anciens (rangs bas) jusqu'à revenir à exactement ARGV[3].
var appendAndTrim = redis.NewScript(`
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
local max = tonumber(ARGV[3])
if max > 0 then
	local n = redis.call('ZCARD', KEYS[1])
	if n > max then
		redis.call('ZREMRANGEBYRANK', KEYS[1], 0, n - max - 1)
	end
end
return 1
`)

type RedisFeedRepo struct {
	client redis.UniversalClient
}

func NewRedisFeedRepo(client redis.UniversalClient) *RedisFeedRepo {
	return &RedisFeedRepo{client: client}
}

func feedKey(userID string) string {
	return "feed:" + userID
}

// Format du membre : "<record id>|<json>". L'id (uuid v7) en préfixe départage
// deux records de même score dans l'ordre d'insertion.
func encodeMember(rec *domain.ActivityRecord) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return rec.ID + "|" + string(data), nil
}

func decodeMember(member string) (*domain.ActivityRecord, error) {
	_, raw, ok := strings.Cut(member, "|")
	if !ok {
		return nil, fmt.Errorf("malformed feed member")
	}
	var rec domain.ActivityRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Append implémente le Fan-out : un script par destinataire, un seul aller-retour par batch.
func (r *RedisFeedRepo) Append(ctx context.Context, userIDs []string, rec *domain.ActivityRecord, maxSize int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	member, err := encodeMember(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	score := float64(rec.Timestamp.UnixMilli())

	// EVALSHA ne peut pas retomber sur EVAL dans un pipeline : on charge le script d'abord
	if err := appendAndTrim.Load(ctx, r.client).Err(); err != nil {
		return fmt.Errorf("load append script: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, uid := range userIDs {
		appendAndTrim.EvalSha(ctx, pipe, []string{feedKey(uid)}, score, member, maxSize)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append to %d feeds: %w", len(userIDs), err)
	}
	return nil
}

// GetFeed lit le feed du plus récent au plus ancien (pagination inclusive côté Redis).
func (r *RedisFeedRepo) GetFeed(ctx context.Context, req domain.FeedRequest) ([]*domain.ActivityRecord, error) {
	if req.Limit <= 0 {
		return []*domain.ActivityRecord{}, nil
	}
	start := req.Offset
	stop := req.Offset + req.Limit - 1

	members, err := r.client.ZRevRange(ctx, feedKey(req.UserID), start, stop).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*domain.ActivityRecord, 0, len(members))
	for _, m := range members {
		rec, err := decodeMember(m)
		if err != nil {
			// Donnée corrompue : on la saute sans casser tout le feed
			slog.Warn("Skipping malformed feed member", "user_id", req.UserID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisFeedRepo) Count(ctx context.Context, userID string) (int64, error) {
	return r.client.ZCard(ctx, feedKey(userID)).Result()
}
