// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Seq     int64     `json:"seq"`
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ConversationIndex is the durable summary record for a conversation.
// The message history lives in a per-conversation append log.
type ConversationIndex struct {
	ConversationID ConversationID `json:"conversation_id"`
	Location       *Location      `json:"location,omitempty"`
	Places         []PlaceID      `json:"places"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Conversation is the full document: index record plus message history.
type Conversation struct {
	ConversationIndex
	Messages []*Message `json:"messages"`
}

type Photo struct {
	Name          string `json:"name"`
	GoogleMapsURI string `json:"googleMapsUri,omitempty"`
	Description   string `json:"description,omitempty"`
}

// Place accumulates fields from multiple tools over the life of a
// conversation. Referenced by conversations, owned by the place store.
type Place struct {
	PlaceID          PlaceID                    `json:"place_id"`
	DisplayName      string                     `json:"display_name,omitempty"`
	FormattedAddress string                     `json:"formatted_address,omitempty"`
	Location         *Location                  `json:"location,omitempty"`
	WebsiteURI       string                     `json:"website_uri,omitempty"`
	EditorialSummary string                     `json:"editorial_summary,omitempty"`
	Rating           float64                    `json:"rating,omitempty"`
	Photos           []Photo                    `json:"photos,omitempty"`
	YelpData         json.RawMessage            `json:"yelp_data,omitempty"`
	Fields           map[string]json.RawMessage `json:"fields,omitempty"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// PlaceSummary is the minimal projection used for list displays and
// conversation recall.
type PlaceSummary struct {
	PlaceID          PlaceID   `json:"place_id"`
	DisplayName      string    `json:"display_name,omitempty"`
	FormattedAddress string    `json:"formatted_address,omitempty"`
	Location         *Location `json:"location,omitempty"`
	EditorialSummary string    `json:"editorial_summary,omitempty"`
	Rating           float64   `json:"rating,omitempty"`
}

// CacheKind partitions cache entries by the external capability that
// produced them.
type CacheKind string

const (
	KindSearchResult    CacheKind = "search-result"
	KindPhotoSet        CacheKind = "photo-set"
	KindMetadataField   CacheKind = "metadata-field"
	KindReviewSet       CacheKind = "review-set"
	KindWebExcerpt      CacheKind = "web-excerpt"
	KindImageExtraction CacheKind = "image-extraction"
)

// CacheEntry is a write-once-per-key record of an external fetch. A
// repeated fetch with an identical key overwrites the entry with a
// fresh timestamp, never duplicating the key.
type CacheEntry struct {
	Kind      CacheKind       `json:"kind"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	FetchedAt time.Time       `json:"fetched_at"`
}
