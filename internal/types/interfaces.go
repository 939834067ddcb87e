// internal/types/interfaces.go
package types

import (
	"context"
	"encoding/json"
	"time"
)

type ConversationStore interface {
	Create(ctx context.Context, location *Location) (*Conversation, error)
	Get(ctx context.Context, id ConversationID) (*Conversation, error)
	List(ctx context.Context) ([]*ConversationIndex, error)
	AppendMessage(ctx context.Context, id ConversationID, msg *Message) error
	AddPlaces(ctx context.Context, id ConversationID, places []PlaceID) error
}

type PlaceStore interface {
	Upsert(ctx context.Context, place *Place) error
	Get(ctx context.Context, id PlaceID) (*Place, error)
	Update(ctx context.Context, place *Place) error
	Summaries(ctx context.Context, ids []PlaceID) ([]*PlaceSummary, error)
}

type CacheStore interface {
	Get(ctx context.Context, kind CacheKind, key string) (*CacheEntry, bool, error)
	Put(ctx context.Context, kind CacheKind, key string, value json.RawMessage) error
	PurgeExpired(ctx context.Context, ttl time.Duration) (int, error)
}
