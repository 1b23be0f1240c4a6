package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/ports"
)

// FallbackTTL s'applique aux littéraux TTL illisibles (évite un stampede sans fin).
const FallbackTTL = 9000 * time.Second

// Cached implémente le cache-aside : hit -> valeur stockée, miss -> supplier puis écriture.
// Une erreur du supplier n'est jamais mise en cache. ttl == 0 : pas d'expiration.
func Cached[T any](ctx context.Context, kv ports.KeyValueStore, key string, ttl time.Duration, supplier func(context.Context) (T, error)) (T, error) {
	var zero T
	if key == "" {
		return zero, fmt.Errorf("%w: empty cache key", domain.ErrInvalidArgument)
	}

	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		return zero, domain.Dependency("cache get", err)
	}
	if ok {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v, nil
		}
		// Entrée corrompue : on recalcule et on écrase
		slog.Warn("Corrupt cache entry, recomputing", "key", key)
	}

	v, err := supplier(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode cache value %q: %w", key, err)
	}
	if err := kv.Set(ctx, key, string(data), ttl); err != nil {
		return zero, domain.Dependency("cache set", err)
	}
	return v, nil
}

// ParseTTL lit les anciens littéraux "<n>hr", "<n>min", "<n>s" (insensible à la casse).
// Tout le reste donne FallbackTTL.
func ParseTTL(s string) time.Duration {
	s = strings.ToLower(strings.TrimSpace(s))

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n <= 0 {
		return FallbackTTL
	}
	unit := strings.TrimSpace(s[i:])

	switch {
	case strings.HasPrefix(unit, "hr"):
		return time.Duration(n) * time.Hour
	case strings.HasPrefix(unit, "min"):
		return time.Duration(n) * time.Minute
	case strings.HasPrefix(unit, "s"):
		return time.Duration(n) * time.Second
	}
	return FallbackTTL
}
