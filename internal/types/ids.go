// internal/types/ids.go
package types

import "github.com/google/uuid"

type ConversationID string
type RunID string
type PlaceID string
type ConnID string

func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewConnID() ConnID {
	return ConnID(uuid.New().String())
}
