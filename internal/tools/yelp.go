// internal/tools/yelp.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sachiniyer/meal-finder/internal/tool"
	"github.com/sachiniyer/meal-finder/internal/types"
)

// YelpClient talks to the Yelp Fusion API.
type YelpClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      *RetryPolicy
}

// NewYelpClient creates a Yelp Fusion client.
func NewYelpClient(apiKey, baseURL string, retry *RetryPolicy) *YelpClient {
	return &YelpClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry,
	}
}

type yelpBusiness struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
}

type yelpSearchResponse struct {
	Businesses []json.RawMessage `json:"businesses"`
}

type yelpReview struct {
	Text string `json:"text"`
}

type yelpReviewsResponse struct {
	Reviews []yelpReview `json:"reviews"`
}

// MatchBusiness finds the best Yelp match for a business name near the
// given coordinates. Returns the raw business document, or nil when
// nothing matches.
func (c *YelpClient) MatchBusiness(ctx context.Context, name string, loc *types.Location) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("term", name)
	params.Set("sort_by", "best_match")
	params.Set("limit", "1")
	params.Set("latitude", fmt.Sprintf("%f", loc.Latitude))
	params.Set("longitude", fmt.Sprintf("%f", loc.Longitude))

	var resp yelpSearchResponse
	if err := c.doJSON(ctx, c.baseURL+"/businesses/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Businesses) == 0 {
		return nil, nil
	}
	return resp.Businesses[0], nil
}

// Reviews fetches review texts for a Yelp business id.
func (c *YelpClient) Reviews(ctx context.Context, businessID string) ([]string, error) {
	var resp yelpReviewsResponse
	url := fmt.Sprintf("%s/businesses/%s/reviews", c.baseURL, businessID)
	if err := c.doJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(resp.Reviews))
	for _, r := range resp.Reviews {
		texts = append(texts, r.Text)
	}
	return texts, nil
}

func (c *YelpClient) doJSON(ctx context.Context, url string, out any) error {
	return c.retry.Do(ctx, "yelp", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &UpstreamError{Service: "yelp", Msg: err.Error()}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &UpstreamError{Service: "yelp", Msg: err.Error()}
		}
		if resp.StatusCode != http.StatusOK {
			return &UpstreamError{Service: "yelp", Status: resp.StatusCode, Msg: string(data)}
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	})
}

// yelpResult is the payload returned to the engine.
type yelpResult struct {
	YelpRating      float64  `json:"yelp_rating"`
	YelpReviewCount int      `json:"yelp_review_count"`
	YelpReviews     []string `json:"yelp_reviews"`
}

// YelpReviewsTool is the get_yelp_reviews tool: matches a stored place
// against Yelp and returns its rating and review texts, cached per
// place.
type YelpReviewsTool struct {
	client *YelpClient
	places types.PlaceStore
	cache  types.CacheStore
	logger *slog.Logger
}

// NewYelpReviewsTool wires the Yelp reviews tool.
func NewYelpReviewsTool(client *YelpClient, places types.PlaceStore, cache types.CacheStore, logger *slog.Logger) *YelpReviewsTool {
	return &YelpReviewsTool{
		client: client,
		places: places,
		cache:  cache,
		logger: logger.With("tool", "get_yelp_reviews"),
	}
}

func (t *YelpReviewsTool) Name() string { return "get_yelp_reviews" }

func (t *YelpReviewsTool) Description() string {
	return "Get Yelp reviews and ratings for a specific place. Use this after finding a place through Google Maps to get additional customer feedback."
}

func (t *YelpReviewsTool) Notice() string { return "Fetching Yelp reviews" }

func (t *YelpReviewsTool) Parameters() *tool.Schema {
	return &tool.Schema{
		Properties: map[string]tool.Property{
			"place_id": {
				Type:        "string",
				Description: "The Google Maps place_id of the business to get reviews for",
			},
		},
		Required: []string{"place_id"},
	}
}

type yelpArgs struct {
	PlaceID string `json:"place_id"`
}

func (t *YelpReviewsTool) Execute(ctx context.Context, conversationID types.ConversationID, raw json.RawMessage) (string, error) {
	var args yelpArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}

	entry, hit, err := t.cache.Get(ctx, types.KindReviewSet, args.PlaceID)
	if err != nil {
		return "", err
	}
	if hit {
		return string(entry.Value), nil
	}

	place, err := t.places.Get(ctx, types.PlaceID(args.PlaceID))
	if err != nil {
		return "", err
	}
	if place.Location == nil {
		return "", fmt.Errorf("place %s has no location data", args.PlaceID)
	}
	if place.DisplayName == "" {
		return "", fmt.Errorf("place %s has no display name", args.PlaceID)
	}

	business, err := t.client.MatchBusiness(ctx, place.DisplayName, place.Location)
	if err != nil {
		return "", err
	}
	if business == nil {
		return "", fmt.Errorf("no businesses found in Yelp search for %q", place.DisplayName)
	}

	var parsed yelpBusiness
	if err := json.Unmarshal(business, &parsed); err != nil {
		return "", fmt.Errorf("parse business: %w", err)
	}

	place.YelpData = business
	if err := t.places.Update(ctx, place); err != nil {
		t.logger.Warn("failed to store yelp data", "place_id", args.PlaceID, "error", err)
	}

	result := yelpResult{
		YelpRating:      parsed.Rating,
		YelpReviewCount: parsed.ReviewCount,
		YelpReviews:     []string{},
	}
	if parsed.ID != "" {
		reviews, err := t.client.Reviews(ctx, parsed.ID)
		if err != nil {
			return "", err
		}
		result.YelpReviews = reviews
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	if err := t.cache.Put(ctx, types.KindReviewSet, args.PlaceID, out); err != nil {
		t.logger.Warn("failed to cache yelp result", "place_id", args.PlaceID, "error", err)
	}
	return string(out), nil
}
