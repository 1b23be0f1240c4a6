package domain

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Le curseur est opaque pour le client : base64(RFC3339Nano UTC).
// Non signé, pas unique si deux items partagent le même timestamp.

func EncodeCursor(t time.Time) string {
	return base64.StdEncoding.EncodeToString([]byte(t.UTC().Format(time.RFC3339Nano)))
}

// DecodeCursor renvoie le temps zéro pour un curseur vide (début de collection).
func DecodeCursor(cursor string) (time.Time, error) {
	if cursor == "" {
		return time.Time{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return t, nil
}

type DefaultFeedRequest struct {
	ChannelCursor string
	BlockCursor   string
	Limit         int
}

// DefaultFeedItem est un channel OU un block du feed global.
type DefaultFeedItem struct {
	Kind    string   `json:"kind"` // "channel" ou "block"
	Channel *Channel `json:"channel,omitempty"`
	Block   *Block   `json:"block,omitempty"`
}

func (i DefaultFeedItem) UpdatedAt() time.Time {
	if i.Channel != nil {
		return i.Channel.UpdatedAt
	}
	if i.Block != nil {
		return i.Block.UpdatedAt
	}
	return time.Time{}
}

type DefaultFeedPage struct {
	Total         int               `json:"total"`
	ChannelTotal  int               `json:"channel_total"`
	BlockTotal    int               `json:"block_total"`
	ChannelCursor string            `json:"channel_cursor,omitempty"`
	BlockCursor   string            `json:"block_cursor,omitempty"`
	Items         []DefaultFeedItem `json:"items"`
}
