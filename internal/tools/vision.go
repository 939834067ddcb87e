// internal/tools/vision.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sachiniyer/meal-finder/internal/state"
	"github.com/sachiniyer/meal-finder/internal/tool"
	"github.com/sachiniyer/meal-finder/internal/types"
	"github.com/sachiniyer/meal-finder/pkg/llm"
)

const (
	describePrompt    = "Describe this image succinctly."
	maxVisionParallel = 5
)

// DescribeImagesTool is the describe_images tool: generates a short
// description for every photo of a place that does not have one yet,
// using the cheap vision tier. Descriptions are written back to the
// place doc so later calls skip already-described photos.
type DescribeImagesTool struct {
	vision llm.Vision
	model  string
	maps   *MapsClient
	places types.PlaceStore
	cache  types.CacheStore
	logger *slog.Logger
}

// NewDescribeImagesTool wires the batch image description tool.
func NewDescribeImagesTool(vision llm.Vision, model string, maps *MapsClient, places types.PlaceStore, cache types.CacheStore, logger *slog.Logger) *DescribeImagesTool {
	return &DescribeImagesTool{
		vision: vision,
		model:  model,
		maps:   maps,
		places: places,
		cache:  cache,
		logger: logger.With("tool", "describe_images"),
	}
}

func (t *DescribeImagesTool) Name() string { return "describe_images" }

func (t *DescribeImagesTool) Description() string {
	return "Apply a short description to each image (use this function to determine which images have menus associated)"
}

func (t *DescribeImagesTool) Notice() string { return "Analyzing images from Google Maps" }

func (t *DescribeImagesTool) Parameters() *tool.Schema {
	return &tool.Schema{
		Properties: map[string]tool.Property{
			"place_id": {
				Type:        "string",
				Description: "The place id, e.g. 'ChIJj61dQgK6j4AR4GeTYWZsKWw'.",
			},
		},
		Required: []string{"place_id"},
	}
}

type describeImagesArgs struct {
	PlaceID string `json:"place_id"`
}

// describedImage is one entry of the payload returned to the engine.
type describedImage struct {
	GoogleMapsURI string `json:"googleMapsUri,omitempty"`
	Description   string `json:"description,omitempty"`
	Index         int    `json:"index"`
}

func (t *DescribeImagesTool) Execute(ctx context.Context, conversationID types.ConversationID, raw json.RawMessage) (string, error) {
	var args describeImagesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}

	place, err := t.places.Get(ctx, types.PlaceID(args.PlaceID))
	if err != nil {
		return "", err
	}
	if len(place.Photos) == 0 {
		return "", fmt.Errorf("no photo data found for place_id: %s", args.PlaceID)
	}

	// Only photos still missing a description need work.
	var pending []int
	for idx, photo := range place.Photos {
		if photo.Description == "" && photo.Name != "" {
			pending = append(pending, idx)
		}
	}
	t.logger.Info("describing photos", "place_id", args.PlaceID, "pending", len(pending), "total", len(place.Photos))

	descriptions := make([]string, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxVisionParallel)
	for i, idx := range pending {
		photo := place.Photos[idx]
		g.Go(func() error {
			desc, err := t.describeOne(gctx, photo.Name)
			if err != nil {
				t.logger.Warn("failed to describe photo", "photo", photo.Name, "error", err)
				return nil
			}
			descriptions[i] = desc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	for i, idx := range pending {
		if descriptions[i] != "" {
			place.Photos[idx].Description = descriptions[i]
		}
	}
	if err := t.places.Update(ctx, place); err != nil {
		t.logger.Warn("failed to store photo descriptions", "place_id", args.PlaceID, "error", err)
	}

	out := make([]describedImage, len(place.Photos))
	for idx, photo := range place.Photos {
		out[idx] = describedImage{
			GoogleMapsURI: photo.GoogleMapsURI,
			Description:   photo.Description,
			Index:         idx,
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	return string(data), nil
}

// describeOne returns the description for one photo, consulting the
// cache before calling the vision model.
func (t *DescribeImagesTool) describeOne(ctx context.Context, photoName string) (string, error) {
	key := state.KeyHash(photoName)
	entry, hit, err := t.cache.Get(ctx, types.KindPhotoSet, key)
	if err == nil && hit {
		var desc string
		if json.Unmarshal(entry.Value, &desc) == nil && desc != "" {
			return desc, nil
		}
	}

	desc, err := t.vision.DescribeImage(ctx, t.model, t.maps.PhotoURL(photoName), describePrompt)
	if err != nil {
		return "", err
	}

	value, err := json.Marshal(desc)
	if err == nil {
		if err := t.cache.Put(ctx, types.KindPhotoSet, key, value); err != nil {
			t.logger.Warn("failed to cache photo description", "photo", photoName, "error", err)
		}
	}
	return desc, nil
}

// ExtractImageInfoTool is the extract_image_info tool: answers a
// specific question about one photo using the stronger vision tier,
// cached per (photo, question).
type ExtractImageInfoTool struct {
	vision llm.Vision
	model  string
	maps   *MapsClient
	places types.PlaceStore
	cache  types.CacheStore
	logger *slog.Logger
}

// NewExtractImageInfoTool wires the targeted image analysis tool.
func NewExtractImageInfoTool(vision llm.Vision, model string, maps *MapsClient, places types.PlaceStore, cache types.CacheStore, logger *slog.Logger) *ExtractImageInfoTool {
	return &ExtractImageInfoTool{
		vision: vision,
		model:  model,
		maps:   maps,
		places: places,
		cache:  cache,
		logger: logger.With("tool", "extract_image_info"),
	}
}

func (t *ExtractImageInfoTool) Name() string { return "extract_image_info" }

func (t *ExtractImageInfoTool) Description() string {
	return "Extract information from one of the images (use this function to tell what items a restaurant has)"
}

func (t *ExtractImageInfoTool) Notice() string {
	return "Extracting information from Google Maps images"
}

func (t *ExtractImageInfoTool) Parameters() *tool.Schema {
	return &tool.Schema{
		Properties: map[string]tool.Property{
			"image_index": {
				Type:        "number",
				Description: "The index of an image from the list of images associated with the place",
			},
			"place_id": {
				Type:        "string",
				Description: "The place id, e.g. 'ChIJj61dQgK6j4AR4GeTYWZsKWw'.",
			},
			"query": {
				Type:        "string",
				Description: "A question that you have about the image that you want answered. (e.g. what are all the items on the menu)",
			},
		},
		Required: []string{"image_index", "place_id", "query"},
	}
}

type extractImageArgs struct {
	ImageIndex float64 `json:"image_index"`
	PlaceID    string  `json:"place_id"`
	Query      string  `json:"query"`
}

type extractImageResult struct {
	Info string `json:"info"`
}

func (t *ExtractImageInfoTool) Execute(ctx context.Context, conversationID types.ConversationID, raw json.RawMessage) (string, error) {
	var args extractImageArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}

	place, err := t.places.Get(ctx, types.PlaceID(args.PlaceID))
	if err != nil {
		return "", err
	}
	idx := int(args.ImageIndex)
	if idx < 0 || idx >= len(place.Photos) {
		return "", fmt.Errorf("invalid image index: %d", idx)
	}
	photoName := place.Photos[idx].Name
	if photoName == "" {
		return "", fmt.Errorf("photo %d has no resource name", idx)
	}

	key := state.KeyHash(photoName, args.Query)
	entry, hit, err := t.cache.Get(ctx, types.KindImageExtraction, key)
	if err != nil {
		return "", err
	}
	if hit {
		return string(entry.Value), nil
	}

	info, err := t.vision.DescribeImage(ctx, t.model, t.maps.PhotoURL(photoName), args.Query)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(extractImageResult{Info: info})
	if err != nil {
		return "", fmt.Errorf("marshal response: %w", err)
	}
	if err := t.cache.Put(ctx, types.KindImageExtraction, key, out); err != nil {
		t.logger.Warn("failed to cache image info", "photo", photoName, "error", err)
	}
	return string(out), nil
}
