package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sachiniyer/meal-finder/internal/types"
)

func yelpServer(t *testing.T, searchCalls, reviewCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/businesses/search", func(w http.ResponseWriter, r *http.Request) {
		searchCalls.Add(1)
		if got := r.URL.Query().Get("term"); got != "Bagel Spot" {
			t.Errorf("term = %q", got)
		}
		w.Write([]byte(`{"businesses": [{"id": "yelp-1", "name": "Bagel Spot", "rating": 4.0, "review_count": 120}]}`))
	})
	mux.HandleFunc("/businesses/yelp-1/reviews", func(w http.ResponseWriter, r *http.Request) {
		reviewCalls.Add(1)
		w.Write([]byte(`{"reviews": [{"text": "great"}, {"text": "chewy"}]}`))
	})
	return httptest.NewServer(mux)
}

func TestYelpReviewsFetchesAndCaches(t *testing.T) {
	var searchCalls, reviewCalls atomic.Int32
	srv := yelpServer(t, &searchCalls, &reviewCalls)
	defer srv.Close()

	_, places, cache := testStores(t)
	ctx := context.Background()
	if err := places.Upsert(ctx, &types.Place{
		PlaceID:     "place-1",
		DisplayName: "Bagel Spot",
		Location:    &types.Location{Latitude: 47.6, Longitude: -122.3},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	client := NewYelpClient("key", srv.URL, DefaultRetryPolicy(testLogger()))
	yelpTool := NewYelpReviewsTool(client, places, cache, testLogger())

	args := json.RawMessage(`{"place_id": "place-1"}`)
	out, err := yelpTool.Execute(ctx, "conv", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var result yelpResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if result.YelpRating != 4.0 || result.YelpReviewCount != 120 {
		t.Errorf("result = %+v", result)
	}
	if len(result.YelpReviews) != 2 || result.YelpReviews[0] != "great" {
		t.Errorf("reviews = %v", result.YelpReviews)
	}

	// Second identical ask hits the cache; Yelp is not re-invoked.
	again, err := yelpTool.Execute(ctx, "conv", args)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if again != out {
		t.Error("cached result differs")
	}
	if searchCalls.Load() != 1 || reviewCalls.Load() != 1 {
		t.Errorf("upstream calls = %d/%d, want 1/1", searchCalls.Load(), reviewCalls.Load())
	}

	// The matched business document is persisted on the place.
	place, err := places.Get(ctx, "place-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(string(place.YelpData), "yelp-1") {
		t.Errorf("yelp data = %s", place.YelpData)
	}
}

func TestYelpReviewsUnknownPlace(t *testing.T) {
	_, places, cache := testStores(t)
	client := NewYelpClient("key", "http://unused", DefaultRetryPolicy(testLogger()))
	yelpTool := NewYelpReviewsTool(client, places, cache, testLogger())

	_, err := yelpTool.Execute(context.Background(), "conv", json.RawMessage(`{"place_id": "ghost"}`))
	if err == nil {
		t.Fatal("expected error for unknown place")
	}
}

func TestYelpReviewsNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"businesses": []}`))
	}))
	defer srv.Close()

	_, places, cache := testStores(t)
	ctx := context.Background()
	if err := places.Upsert(ctx, &types.Place{
		PlaceID:     "place-1",
		DisplayName: "Obscure Diner",
		Location:    &types.Location{Latitude: 1, Longitude: 2},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	client := NewYelpClient("key", srv.URL, DefaultRetryPolicy(testLogger()))
	yelpTool := NewYelpReviewsTool(client, places, cache, testLogger())

	_, err := yelpTool.Execute(ctx, "conv", json.RawMessage(`{"place_id": "place-1"}`))
	if err == nil || !strings.Contains(err.Error(), "no businesses found") {
		t.Fatalf("err = %v, want no-match error", err)
	}
}
