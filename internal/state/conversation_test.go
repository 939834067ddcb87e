package state

import (
	"context"
	"errors"
	"testing"

	"github.com/sachiniyer/meal-finder/internal/types"
)

func TestConversationCreateAndGet(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	loc := &types.Location{Latitude: 47.6062, Longitude: -122.3321}
	conv, err := store.Create(ctx, loc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.ConversationID == "" {
		t.Fatal("empty conversation id")
	}

	got, err := store.Get(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Location == nil || got.Location.Latitude != loc.Latitude {
		t.Errorf("location = %+v, want %+v", got.Location, loc)
	}
	if len(got.Messages) != 0 {
		t.Errorf("new conversation has %d messages", len(got.Messages))
	}
}

func TestConversationGetUnknown(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	_, err := store.Get(context.Background(), "no-such-id")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestAppendMessageAssignsSequence(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	conv, err := store.Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		msg := &types.Message{Role: types.RoleUser, Content: c}
		if err := store.AppendMessage(ctx, conv.ConversationID, msg); err != nil {
			t.Fatalf("AppendMessage(%s): %v", c, err)
		}
	}

	got, err := store.Get(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(got.Messages))
	}
	for i, msg := range got.Messages {
		if msg.Seq != int64(i+1) {
			t.Errorf("message %d seq = %d, want %d", i, msg.Seq, i+1)
		}
		if msg.Content != contents[i] {
			t.Errorf("message %d content = %q, want %q", i, msg.Content, contents[i])
		}
		if msg.At.IsZero() {
			t.Errorf("message %d has zero timestamp", i)
		}
	}
}

func TestAddPlacesDeduplicates(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	conv, err := store.Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.AddPlaces(ctx, conv.ConversationID, []types.PlaceID{"a", "b"}); err != nil {
		t.Fatalf("AddPlaces: %v", err)
	}
	if err := store.AddPlaces(ctx, conv.ConversationID, []types.PlaceID{"b", "c", "a"}); err != nil {
		t.Fatalf("AddPlaces: %v", err)
	}

	got, err := store.Get(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := []types.PlaceID{"a", "b", "c"}
	if len(got.Places) != len(want) {
		t.Fatalf("places = %v, want %v", got.Places, want)
	}
	for i, id := range want {
		if got.Places[i] != id {
			t.Errorf("places[%d] = %s, want %s", i, got.Places[i], id)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	store := NewConversationStore(t.TempDir())
	ctx := context.Background()

	first, err := store.Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := store.Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	chats, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ConversationID != second.ConversationID {
		t.Errorf("newest chat = %s, want %s", chats[0].ConversationID, second.ConversationID)
	}
	if chats[1].ConversationID != first.ConversationID {
		t.Errorf("oldest chat = %s, want %s", chats[1].ConversationID, first.ConversationID)
	}
}

func TestConversationSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := NewConversationStore(dir)
	conv, err := store.Create(ctx, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	msg := &types.Message{Role: types.RoleUser, Content: "persisted?"}
	if err := store.AppendMessage(ctx, conv.ConversationID, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	reopened := NewConversationStore(dir)
	got, err := reopened.Get(ctx, conv.ConversationID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "persisted?" {
		t.Errorf("messages after reopen = %+v", got.Messages)
	}
}
