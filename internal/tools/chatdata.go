// internal/tools/chatdata.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sachiniyer/meal-finder/internal/tool"
	"github.com/sachiniyer/meal-finder/internal/types"
)

// FetchChatDataTool returns the full conversation document so the
// engine can recall earlier context.
type FetchChatDataTool struct {
	conversations types.ConversationStore
}

// NewFetchChatDataTool wires the chat data recall tool.
func NewFetchChatDataTool(conversations types.ConversationStore) *FetchChatDataTool {
	return &FetchChatDataTool{conversations: conversations}
}

func (t *FetchChatDataTool) Name() string { return "fetch_chat_data" }

func (t *FetchChatDataTool) Description() string {
	return "Fetch all chat data so far (use this function sparingly and only when necessary to avoid processing a lot of data)"
}

func (t *FetchChatDataTool) Notice() string {
	return "Recollecting information from historical chat data"
}

func (t *FetchChatDataTool) Parameters() *tool.Schema {
	return &tool.Schema{Properties: map[string]tool.Property{}}
}

func (t *FetchChatDataTool) Execute(ctx context.Context, conversationID types.ConversationID, _ json.RawMessage) (string, error) {
	conv, err := t.conversations.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(conv)
	if err != nil {
		return "", fmt.Errorf("marshal conversation: %w", err)
	}
	return string(out), nil
}

// StoredPlacesTool lists summaries of every place the conversation has
// touched so far.
type StoredPlacesTool struct {
	conversations types.ConversationStore
	places        types.PlaceStore
}

// NewStoredPlacesTool wires the stored places recall tool.
func NewStoredPlacesTool(conversations types.ConversationStore, places types.PlaceStore) *StoredPlacesTool {
	return &StoredPlacesTool{conversations: conversations, places: places}
}

func (t *StoredPlacesTool) Name() string { return "get_stored_places_for_chat" }

func (t *StoredPlacesTool) Description() string {
	return "Retrieve all stored places for a given chat_id, returning place_id and editorialSummary."
}

func (t *StoredPlacesTool) Notice() string {
	return "Retrieving all the places we have talked about"
}

func (t *StoredPlacesTool) Parameters() *tool.Schema {
	return &tool.Schema{Properties: map[string]tool.Property{}}
}

func (t *StoredPlacesTool) Execute(ctx context.Context, conversationID types.ConversationID, _ json.RawMessage) (string, error) {
	conv, err := t.conversations.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	summaries, err := t.places.Summaries(ctx, conv.Places)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(summaries)
	if err != nil {
		return "", fmt.Errorf("marshal summaries: %w", err)
	}
	return string(out), nil
}

// UserLocationTool returns the location the client reported when the
// conversation was created.
type UserLocationTool struct {
	conversations types.ConversationStore
}

// NewUserLocationTool wires the user location tool.
func NewUserLocationTool(conversations types.ConversationStore) *UserLocationTool {
	return &UserLocationTool{conversations: conversations}
}

func (t *UserLocationTool) Name() string { return "get_user_location" }

func (t *UserLocationTool) Description() string {
	return "Get the location of the user chatting with you"
}

func (t *UserLocationTool) Notice() string { return "Getting your location" }

func (t *UserLocationTool) Parameters() *tool.Schema {
	return &tool.Schema{Properties: map[string]tool.Property{}}
}

func (t *UserLocationTool) Execute(ctx context.Context, conversationID types.ConversationID, _ json.RawMessage) (string, error) {
	conv, err := t.conversations.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv.Location == nil {
		return `{"error": "user location is not known"}`, nil
	}
	out, err := json.Marshal(conv.Location)
	if err != nil {
		return "", fmt.Errorf("marshal location: %w", err)
	}
	return string(out), nil
}
