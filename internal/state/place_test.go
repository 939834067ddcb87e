package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sachiniyer/meal-finder/internal/types"
)

func TestPlaceUpsertInsertsAndGets(t *testing.T) {
	store := NewPlaceStore(t.TempDir())
	ctx := context.Background()

	place := &types.Place{
		PlaceID:     "p1",
		DisplayName: "Bagel Spot",
		Rating:      4.5,
	}
	if err := store.Upsert(ctx, place); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "Bagel Spot" || got.Rating != 4.5 {
		t.Errorf("got %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestPlaceUpsertDoesNotClobberExisting(t *testing.T) {
	store := NewPlaceStore(t.TempDir())
	ctx := context.Background()

	original := &types.Place{
		PlaceID:     "p1",
		DisplayName: "Bagel Spot",
		Photos:      []types.Photo{{Name: "photo-1", Description: "a bagel"}},
	}
	if err := store.Upsert(ctx, original); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// A later search returns the same place with fewer details and
	// fresh (description-less) photos. Existing data must win.
	again := &types.Place{
		PlaceID:          "p1",
		DisplayName:      "Bagel Spot Renamed",
		FormattedAddress: "123 5th Ave",
		Photos:           []types.Photo{{Name: "photo-1"}},
	}
	if err := store.Upsert(ctx, again); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DisplayName != "Bagel Spot" {
		t.Errorf("display name clobbered: %q", got.DisplayName)
	}
	if got.FormattedAddress != "123 5th Ave" {
		t.Errorf("new field not merged: %q", got.FormattedAddress)
	}
	if got.Photos[0].Description != "a bagel" {
		t.Errorf("photo description lost: %+v", got.Photos)
	}
}

func TestPlaceUpsertMergesFields(t *testing.T) {
	store := NewPlaceStore(t.TempDir())
	ctx := context.Background()

	if err := store.Upsert(ctx, &types.Place{
		PlaceID: "p1",
		Fields:  map[string]json.RawMessage{"takeout": json.RawMessage("true")},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Upsert(ctx, &types.Place{
		PlaceID: "p1",
		Fields: map[string]json.RawMessage{
			"takeout":  json.RawMessage("false"),
			"delivery": json.RawMessage("true"),
		},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Fields["takeout"]) != "true" {
		t.Errorf("takeout = %s, want original value kept", got.Fields["takeout"])
	}
	if string(got.Fields["delivery"]) != "true" {
		t.Errorf("delivery = %s, want merged", got.Fields["delivery"])
	}
}

func TestPlaceUpdateReplacesDocument(t *testing.T) {
	store := NewPlaceStore(t.TempDir())
	ctx := context.Background()

	if err := store.Upsert(ctx, &types.Place{PlaceID: "p1", DisplayName: "Old"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	place, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	place.YelpData = json.RawMessage(`{"id": "yelp-1"}`)
	if err := store.Update(ctx, place); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.YelpData) != `{"id": "yelp-1"}` {
		t.Errorf("yelp data = %s", got.YelpData)
	}
}

func TestPlaceUpdateUnknownFails(t *testing.T) {
	store := NewPlaceStore(t.TempDir())
	err := store.Update(context.Background(), &types.Place{PlaceID: "ghost"})
	if !errors.Is(err, ErrPlaceNotFound) {
		t.Fatalf("err = %v, want ErrPlaceNotFound", err)
	}
}

func TestSummariesSkipsUnknown(t *testing.T) {
	store := NewPlaceStore(t.TempDir())
	ctx := context.Background()

	if err := store.Upsert(ctx, &types.Place{
		PlaceID:          "p1",
		DisplayName:      "Bagel Spot",
		EditorialSummary: "a bagel place",
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	summaries, err := store.Summaries(ctx, []types.PlaceID{"p1", "missing"})
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	if summaries[0].PlaceID != "p1" || summaries[0].EditorialSummary != "a bagel place" {
		t.Errorf("summary = %+v", summaries[0])
	}
}
