package domain

import (
	"encoding/json"
	"time"
)

// DataType identifie ce que référence le payload d'une activité.
type DataType string

const (
	DataUser       DataType = "USER"
	DataChannel    DataType = "CHANNEL"
	DataBlock      DataType = "BLOCK"
	DataConnection DataType = "CONNECTION"
)

func (d DataType) Valid() bool {
	switch d {
	case DataUser, DataChannel, DataBlock, DataConnection:
		return true
	}
	return false
}

// ActionType est le verbe de l'activité.
type ActionType string

const (
	ActionCreated   ActionType = "CREATED"
	ActionFollowed  ActionType = "FOLLOWED"
	ActionConnected ActionType = "CONNECTED"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionCreated, ActionFollowed, ActionConnected:
		return true
	}
	return false
}

// Actor est la référence minimale (éventuellement non hydratée) vers l'auteur de l'action.
type Actor struct {
	ID       string `json:"id"`
	FullName string `json:"full_name,omitempty"`
	Slug     string `json:"slug,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// ActivityRecord est l'unité stockée dans un feed. Immuable une fois écrite.
type ActivityRecord struct {
	ID         string          `json:"id"`
	Actor      Actor           `json:"actor"`
	Timestamp  time.Time       `json:"timestamp"`
	DataType   DataType        `json:"data_type"`
	ActionType ActionType      `json:"action_type"`
	Data       json.RawMessage `json:"data"`
}

// EntityRef est le stub {id} stocké avant hydratation.
type EntityRef struct {
	ID string `json:"id"`
}

// ConnectionRef est le stub composite d'une activité CONNECTED.
type ConnectionRef struct {
	Channel EntityRef `json:"channel"`
	Block   EntityRef `json:"block"`
}

// PublishCmd décrit une action "followable" à distribuer.
type PublishCmd struct {
	// ID devient l'id du record. Fixé une fois au dispatch : une redélivrance
	// réécrit le même membre au lieu d'en créer un second.
	ID         string     `json:"id,omitempty"`
	ActorID    string     `json:"actor_id"`
	DataType   DataType   `json:"data_type"`
	ActionType ActionType `json:"action_type"`
	Data       any        `json:"data"`
	Timestamp  time.Time  `json:"timestamp"`
}

// FeedEntry est la copie hydratée d'un ActivityRecord, prête pour l'affichage.
// Data vaut *Channel, *PublicUser ou *ConnectionData selon le couple (DataType, ActionType).
type FeedEntry struct {
	ID         string     `json:"id"`
	Actor      Actor      `json:"actor"`
	Timestamp  time.Time  `json:"timestamp"`
	DataType   DataType   `json:"data_type"`
	ActionType ActionType `json:"action_type"`
	Data       any        `json:"data"`
}

type ConnectionData struct {
	Channel *Channel `json:"channel"`
	Block   *Block   `json:"block"`
}

// FeedRequest encapsule la lecture d'un feed personnel
type FeedRequest struct {
	UserID string
	Limit  int64
	Offset int64
}
