// internal/tools/maps.go
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/sachiniyer/meal-finder/internal/state"
	"github.com/sachiniyer/meal-finder/internal/tool"
	"github.com/sachiniyer/meal-finder/internal/types"
)

// availableSearchFields is the full set of Places API fields the
// describe tool may request, spanning the Basic, Advanced, and Preferred
// SKUs.
var availableSearchFields = map[string]bool{
	"accessibilityOptions": true, "addressComponents": true,
	"adrFormatAddress": true, "businessStatus": true,
	"containingPlaces": true, "displayName": true,
	"formattedAddress": true, "googleMapsLinks*": true,
	"googleMapsUri": true, "iconBackgroundColor": true,
	"iconMaskBaseUri": true, "location": true, "photos": true,
	"plusCode": true, "primaryType": true, "primaryTypeDisplayName": true,
	"pureServiceAreaBusiness": true, "shortFormattedAddress": true,
	"subDestinations": true, "types": true, "utcOffsetMinutes": true,
	"viewport": true,
	"currentOpeningHours": true, "currentSecondaryOpeningHours": true,
	"internationalPhoneNumber": true, "nationalPhoneNumber": true,
	"priceLevel": true, "priceRange": true, "rating": true,
	"regularOpeningHours": true, "regularSecondaryOpeningHours": true,
	"userRatingCount": true, "websiteUri": true,
	"allowsDogs": true, "curbsidePickup": true, "delivery": true,
	"dineIn": true, "editorialSummary": true, "evChargeOptions": true,
	"fuelOptions": true, "goodForChildren": true, "goodForGroups": true,
	"goodForWatchingSports": true, "liveMusic": true,
	"menuForChildren": true, "parkingOptions": true,
	"paymentOptions": true, "outdoorSeating": true, "reservable": true,
	"restroom": true, "reviews": true, "servesBeer": true,
	"servesBreakfast": true, "servesBrunch": true,
	"servesCocktails": true, "servesCoffee": true,
	"servesDessert": true, "servesDinner": true, "servesLunch": true,
	"servesVegetarianFood": true, "servesWine": true, "takeout": true,
}

// defaultSearchFields is what every text search retrieves per place.
var defaultSearchFields = []string{
	"displayName", "id", "formattedAddress", "websiteUri",
	"location", "photos", "editorialSummary",
}

// nonDefaultSearchFields returns the fields the describe tool can ask
// for beyond what search already stored, sorted for a stable schema.
func nonDefaultSearchFields() []string {
	isDefault := make(map[string]bool, len(defaultSearchFields))
	for _, f := range defaultSearchFields {
		isDefault[f] = true
	}
	var fields []string
	for f := range availableSearchFields {
		if !isDefault[f] {
			fields = append(fields, f)
		}
	}
	sort.Strings(fields)
	return fields
}

// gmPlace mirrors the Places API place resource for the fields search
// requests.
type gmPlace struct {
	ID               string          `json:"id"`
	DisplayName      gmLocalizedText `json:"displayName"`
	FormattedAddress string          `json:"formattedAddress"`
	WebsiteURI       string          `json:"websiteUri"`
	Location         *types.Location `json:"location"`
	EditorialSummary gmLocalizedText `json:"editorialSummary"`
	Rating           float64         `json:"rating"`
	Photos           []types.Photo   `json:"photos"`
}

type gmLocalizedText struct {
	Text string `json:"text"`
}

func (p *gmPlace) toPlace() *types.Place {
	return &types.Place{
		PlaceID:          types.PlaceID(p.ID),
		DisplayName:      p.DisplayName.Text,
		FormattedAddress: p.FormattedAddress,
		WebsiteURI:       p.WebsiteURI,
		Location:         p.Location,
		EditorialSummary: p.EditorialSummary.Text,
		Rating:           p.Rating,
		Photos:           p.Photos,
	}
}

// MapsClient talks to the Google Maps Places API v1.
type MapsClient struct {
	apiKey         string
	searchEndpoint string
	placesEndpoint string
	photosEndpoint string
	httpClient     *http.Client
	retry          *RetryPolicy
	logger         *slog.Logger
}

// NewMapsClient creates a Places API client.
func NewMapsClient(apiKey, searchEndpoint, placesEndpoint, photosEndpoint string, retry *RetryPolicy, logger *slog.Logger) *MapsClient {
	return &MapsClient{
		apiKey:         apiKey,
		searchEndpoint: searchEndpoint,
		placesEndpoint: placesEndpoint,
		photosEndpoint: photosEndpoint,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		retry:          retry,
		logger:         logger.With("component", "maps"),
	}
}

type searchRequest struct {
	TextQuery    string        `json:"textQuery"`
	PageSize     int           `json:"pageSize"`
	PageToken    string        `json:"pageToken,omitempty"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circleBias `json:"circle"`
}

type circleBias struct {
	Center types.Location `json:"center"`
	Radius float64        `json:"radius"`
}

type searchResponse struct {
	Places        []json.RawMessage `json:"places"`
	NextPageToken string            `json:"nextPageToken"`
}

// SearchText runs a Places text search, walking forward through result
// pages until the requested page. Returns the raw place documents of
// that page.
func (c *MapsClient) SearchText(ctx context.Context, query string, radius float64, limit, page int, loc *types.Location) ([]json.RawMessage, error) {
	fieldMask := make([]string, 0, len(defaultSearchFields)+1)
	for _, f := range defaultSearchFields {
		fieldMask = append(fieldMask, "places."+f)
	}
	fieldMask = append(fieldMask, "nextPageToken")

	if limit < 1 {
		limit = 1
	} else if limit > 20 {
		limit = 20
	}
	if radius < 0 {
		radius = 0
	} else if radius > 50000 {
		radius = 50000
	}

	body := searchRequest{TextQuery: query, PageSize: limit}
	if loc != nil {
		body.LocationBias = &locationBias{
			Circle: circleBias{Center: *loc, Radius: radius},
		}
	}

	var resp searchResponse
	for current := 0; ; current++ {
		// Decode into a fresh value: a page that omits nextPageToken
		// must not inherit the previous page's token.
		resp = searchResponse{}
		if err := c.doJSON(ctx, http.MethodPost, c.searchEndpoint, fieldMask, body, &resp); err != nil {
			return nil, err
		}
		c.logger.Debug("search page fetched", "query", query, "page", current, "results", len(resp.Places))

		if current == page {
			break
		}
		if resp.NextPageToken == "" {
			c.logger.Warn("no next page token, returning current page", "query", query, "page", current)
			break
		}
		body.PageToken = resp.NextPageToken

		// Page tokens take a moment to become valid upstream.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return resp.Places, nil
}

// Details fetches the requested fields for one place.
func (c *MapsClient) Details(ctx context.Context, placeID string, fields []string) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	url := fmt.Sprintf("%s/%s", c.placesEndpoint, placeID)
	if err := c.doJSON(ctx, http.MethodGet, url, fields, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PhotoURL builds the media URL for a photo resource name.
func (c *MapsClient) PhotoURL(photoName string) string {
	return fmt.Sprintf("%s/%s/media?maxHeightPx=400&maxWidthPx=400&key=%s",
		c.photosEndpoint, photoName, c.apiKey)
}

func (c *MapsClient) doJSON(ctx context.Context, method, url string, fieldMask []string, body, out any) error {
	return c.retry.Do(ctx, "google_maps", func() error {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Goog-Api-Key", c.apiKey)
		if len(fieldMask) > 0 {
			req.Header.Set("X-Goog-FieldMask", joinComma(fieldMask))
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &UpstreamError{Service: "google_maps", Msg: err.Error()}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &UpstreamError{Service: "google_maps", Msg: err.Error()}
		}
		if resp.StatusCode != http.StatusOK {
			return &UpstreamError{Service: "google_maps", Status: resp.StatusCode, Msg: string(data)}
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		return nil
	})
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// SearchMapsTool is the search_google_maps tool: text search biased to
// the user's location, with results cached across conversations and the
// returned places upserted into the place store.
type SearchMapsTool struct {
	client        *MapsClient
	conversations types.ConversationStore
	places        types.PlaceStore
	cache         types.CacheStore
	logger        *slog.Logger
}

// NewSearchMapsTool wires the search tool.
func NewSearchMapsTool(client *MapsClient, conversations types.ConversationStore, places types.PlaceStore, cache types.CacheStore, logger *slog.Logger) *SearchMapsTool {
	return &SearchMapsTool{
		client:        client,
		conversations: conversations,
		places:        places,
		cache:         cache,
		logger:        logger.With("tool", "search_google_maps"),
	}
}

func (t *SearchMapsTool) Name() string { return "search_google_maps" }

func (t *SearchMapsTool) Description() string {
	return "Search Google Maps for a query. Include any relevant terms you think are necessary to get a better result"
}

func (t *SearchMapsTool) Notice() string { return "Searching Google Maps" }

func (t *SearchMapsTool) Parameters() *tool.Schema {
	return &tool.Schema{
		Properties: map[string]tool.Property{
			"query": {
				Type:        "string",
				Description: "The search query, e.g. 'pizza in new york'. The user's location will be attached to the query",
			},
			"radius": {
				Type:        "number",
				Description: "The search radius in meters (default: 5000). The radius must be between 0.0 and 50000.0, inclusive",
			},
			"limit": {
				Type:        "number",
				Description: "The maximum number of places to return (default: 5). The limit must be between 0 and 20, inclusive",
			},
			"page": {
				Type:        "number",
				Description: "The page of results to retrieve. The default is 0",
			},
		},
		Required: []string{"query"},
	}
}

type searchArgs struct {
	Query  string   `json:"query"`
	Radius *float64 `json:"radius"`
	Limit  *float64 `json:"limit"`
	Page   *float64 `json:"page"`
}

func (t *SearchMapsTool) Execute(ctx context.Context, conversationID types.ConversationID, raw json.RawMessage) (string, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	radius := 5000.0
	if args.Radius != nil {
		radius = *args.Radius
	}
	limit := 5
	if args.Limit != nil {
		limit = int(*args.Limit)
	}
	page := 0
	if args.Page != nil {
		page = int(*args.Page)
	}

	var loc *types.Location
	if conv, err := t.conversations.Get(ctx, conversationID); err == nil {
		loc = conv.Location
	}

	key := searchKey(args.Query, radius, limit, page, loc)

	var rawPlaces []json.RawMessage
	entry, hit, err := t.cache.Get(ctx, types.KindSearchResult, key)
	if err != nil {
		return "", err
	}
	if hit {
		if err := json.Unmarshal(entry.Value, &rawPlaces); err != nil {
			hit = false
		}
	}
	if !hit {
		rawPlaces, err = t.client.SearchText(ctx, args.Query, radius, limit, page, loc)
		if err != nil {
			return "", err
		}
		value, err := json.Marshal(rawPlaces)
		if err != nil {
			return "", fmt.Errorf("marshal search results: %w", err)
		}
		if err := t.cache.Put(ctx, types.KindSearchResult, key, value); err != nil {
			t.logger.Warn("failed to cache search results", "error", err)
		}
	}

	ids := make([]types.PlaceID, 0, len(rawPlaces))
	for _, rawPlace := range rawPlaces {
		var gp gmPlace
		if err := json.Unmarshal(rawPlace, &gp); err != nil || gp.ID == "" {
			continue
		}
		if err := t.places.Upsert(ctx, gp.toPlace()); err != nil {
			t.logger.Warn("failed to store place", "place_id", gp.ID, "error", err)
			continue
		}
		ids = append(ids, types.PlaceID(gp.ID))
	}
	if err := t.conversations.AddPlaces(ctx, conversationID, ids); err != nil {
		t.logger.Warn("failed to associate places", "conversation_id", conversationID, "error", err)
	}

	// Photos are bulky and the engine never needs them inline.
	trimmed := make([]map[string]json.RawMessage, 0, len(rawPlaces))
	for _, rawPlace := range rawPlaces {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(rawPlace, &m); err != nil {
			continue
		}
		delete(m, "photos")
		trimmed = append(trimmed, m)
	}
	out, err := json.Marshal(trimmed)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	return string(out), nil
}

func searchKey(query string, radius float64, limit, page int, loc *types.Location) string {
	locPart := ""
	if loc != nil {
		locPart = fmt.Sprintf("%.4f,%.4f", loc.Latitude, loc.Longitude)
	}
	return state.KeyHash("search", query, fmt.Sprintf("%.0f", radius),
		fmt.Sprintf("%d", limit), fmt.Sprintf("%d", page), locPart)
}

// DescribePlaceTool is the describe_place tool: fetches additional
// Places API fields for a known place, caching each field individually.
type DescribePlaceTool struct {
	client *MapsClient
	places types.PlaceStore
	cache  types.CacheStore
	logger *slog.Logger
}

// NewDescribePlaceTool wires the describe tool.
func NewDescribePlaceTool(client *MapsClient, places types.PlaceStore, cache types.CacheStore, logger *slog.Logger) *DescribePlaceTool {
	return &DescribePlaceTool{
		client: client,
		places: places,
		cache:  cache,
		logger: logger.With("tool", "describe_place"),
	}
}

func (t *DescribePlaceTool) Name() string { return "describe_place" }

func (t *DescribePlaceTool) Description() string {
	return "Use the google maps api to describe a place with the given place_id and fields to retrieve"
}

func (t *DescribePlaceTool) Notice() string { return "Getting more information from Google Maps" }

func (t *DescribePlaceTool) Parameters() *tool.Schema {
	return &tool.Schema{
		Properties: map[string]tool.Property{
			"place_id": {
				Type:        "string",
				Description: "The place id, e.g. 'ChIJj61dQgK6j4AR4GeTYWZsKWw'.",
			},
			"fields": {
				Type:        "array",
				Description: "A list of fields to return from the known available fields (e.g. takeout)",
				Items:       "string",
				ItemsEnum:   nonDefaultSearchFields(),
			},
		},
		Required: []string{"place_id", "fields"},
	}
}

type describeArgs struct {
	PlaceID string   `json:"place_id"`
	Fields  []string `json:"fields"`
}

func (t *DescribePlaceTool) Execute(ctx context.Context, conversationID types.ConversationID, raw json.RawMessage) (string, error) {
	var args describeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}

	for _, f := range args.Fields {
		if !availableSearchFields[f] {
			return "", fmt.Errorf("invalid field requested: %s", f)
		}
	}

	result := make(map[string]json.RawMessage, len(args.Fields))
	var missing []string
	for _, f := range args.Fields {
		entry, hit, err := t.cache.Get(ctx, types.KindMetadataField, state.KeyHash(args.PlaceID, f))
		if err != nil {
			return "", err
		}
		if hit {
			result[f] = entry.Value
		} else {
			missing = append(missing, f)
		}
	}

	if len(missing) > 0 {
		fetched, err := t.client.Details(ctx, args.PlaceID, missing)
		if err != nil {
			return "", err
		}
		for _, f := range missing {
			value, ok := fetched[f]
			if !ok {
				// Absent fields are cached as null so we don't refetch.
				value = json.RawMessage("null")
			}
			result[f] = value
			if err := t.cache.Put(ctx, types.KindMetadataField, state.KeyHash(args.PlaceID, f), value); err != nil {
				t.logger.Warn("failed to cache place field", "place_id", args.PlaceID, "field", f, "error", err)
			}
		}
		t.storeFields(ctx, types.PlaceID(args.PlaceID), fetched)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	return string(out), nil
}

// storeFields folds fetched detail fields into the stored place doc.
// Places described before ever being searched are skipped.
func (t *DescribePlaceTool) storeFields(ctx context.Context, id types.PlaceID, fetched map[string]json.RawMessage) {
	place, err := t.places.Get(ctx, id)
	if err != nil {
		return
	}
	if place.Fields == nil {
		place.Fields = make(map[string]json.RawMessage)
	}
	for k, v := range fetched {
		place.Fields[k] = v
	}
	if err := t.places.Update(ctx, place); err != nil {
		t.logger.Warn("failed to update place fields", "place_id", id, "error", err)
	}
}
