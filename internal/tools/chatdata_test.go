package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sachiniyer/meal-finder/internal/types"
)

func TestFetchChatDataReturnsFullConversation(t *testing.T) {
	conversations, _, _ := testStores(t)
	ctx := context.Background()

	conv, err := conversations.Create(ctx, &types.Location{Latitude: 1, Longitude: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := conversations.AppendMessage(ctx, conv.ConversationID, &types.Message{
		Role: types.RoleUser, Content: "remember this",
	}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	fetchTool := NewFetchChatDataTool(conversations)
	out, err := fetchTool.Execute(ctx, conv.ConversationID, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "remember this") {
		t.Errorf("payload missing message: %s", out)
	}
	if !strings.Contains(out, string(conv.ConversationID)) {
		t.Errorf("payload missing conversation id: %s", out)
	}
}

func TestStoredPlacesReturnsSummaries(t *testing.T) {
	conversations, places, _ := testStores(t)
	ctx := context.Background()

	conv, err := conversations.Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := places.Upsert(ctx, &types.Place{
		PlaceID:          "p1",
		DisplayName:      "Bagel Spot",
		EditorialSummary: "the bagel place",
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := conversations.AddPlaces(ctx, conv.ConversationID, []types.PlaceID{"p1"}); err != nil {
		t.Fatalf("AddPlaces: %v", err)
	}

	placesTool := NewStoredPlacesTool(conversations, places)
	out, err := placesTool.Execute(ctx, conv.ConversationID, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var summaries []*types.PlaceSummary
	if err := json.Unmarshal([]byte(out), &summaries); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(summaries) != 1 || summaries[0].EditorialSummary != "the bagel place" {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestUserLocation(t *testing.T) {
	conversations, _, _ := testStores(t)
	ctx := context.Background()

	withLoc, err := conversations.Create(ctx, &types.Location{Latitude: 47.6, Longitude: -122.3})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	withoutLoc, err := conversations.Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	locTool := NewUserLocationTool(conversations)

	out, err := locTool.Execute(ctx, withLoc.ConversationID, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var loc types.Location
	if err := json.Unmarshal([]byte(out), &loc); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loc.Latitude != 47.6 {
		t.Errorf("location = %+v", loc)
	}

	out, err = locTool.Execute(ctx, withoutLoc.ConversationID, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "not known") {
		t.Errorf("payload = %s", out)
	}
}
