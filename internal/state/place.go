// internal/state/place.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sachiniyer/meal-finder/internal/types"
)

// ErrPlaceNotFound is returned for lookups of unknown place ids.
var ErrPlaceNotFound = errors.New("place not found")

// PlaceStore persists place documents as one JSON file per place under
// places/. Upsert never overwrites fields already present, so repeated
// searches that return the same place accrete detail instead of
// clobbering it.
type PlaceStore struct {
	root string
	mu   sync.Mutex
}

// NewPlaceStore creates a file-backed PlaceStore rooted at the given
// directory.
func NewPlaceStore(root string) *PlaceStore {
	return &PlaceStore{root: root}
}

func (s *PlaceStore) placePath(id types.PlaceID) string {
	return filepath.Join(s.root, "places", string(id)+".json")
}

func (s *PlaceStore) placesDir() string {
	return filepath.Join(s.root, "places")
}

// Upsert inserts the place if it is new, or merges only the fields the
// stored document does not yet have. Existing values always win.
func (s *PlaceStore) Upsert(_ context.Context, place *types.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read(place.PlaceID)
	if err != nil && !errors.Is(err, ErrPlaceNotFound) {
		return err
	}

	if existing == nil {
		place.UpdatedAt = time.Now()
		return s.write(place)
	}

	merged := mergePlace(existing, place)
	merged.UpdatedAt = time.Now()
	return s.write(merged)
}

// mergePlace fills gaps in dst from src without replacing anything dst
// already has.
func mergePlace(dst, src *types.Place) *types.Place {
	if dst.DisplayName == "" {
		dst.DisplayName = src.DisplayName
	}
	if dst.FormattedAddress == "" {
		dst.FormattedAddress = src.FormattedAddress
	}
	if dst.Location == nil {
		dst.Location = src.Location
	}
	if dst.WebsiteURI == "" {
		dst.WebsiteURI = src.WebsiteURI
	}
	if dst.EditorialSummary == "" {
		dst.EditorialSummary = src.EditorialSummary
	}
	if dst.Rating == 0 {
		dst.Rating = src.Rating
	}
	if len(dst.Photos) == 0 {
		dst.Photos = src.Photos
	}
	if len(dst.YelpData) == 0 {
		dst.YelpData = src.YelpData
	}
	for k, v := range src.Fields {
		if dst.Fields == nil {
			dst.Fields = make(map[string]json.RawMessage)
		}
		if _, ok := dst.Fields[k]; !ok {
			dst.Fields[k] = v
		}
	}
	return dst
}

// Get returns the stored place document.
func (s *PlaceStore) Get(_ context.Context, id types.PlaceID) (*types.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// Update replaces the stored document wholesale. Used by callers that
// read, modify, and write back (photo descriptions, Yelp data).
func (s *PlaceStore) Update(_ context.Context, place *types.Place) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(place.PlaceID); err != nil {
		return err
	}
	place.UpdatedAt = time.Now()
	return s.write(place)
}

// Summaries returns lightweight summaries for the given place ids.
// Unknown ids are skipped rather than failing the whole batch.
func (s *PlaceStore) Summaries(_ context.Context, ids []types.PlaceID) ([]*types.PlaceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]*types.PlaceSummary, 0, len(ids))
	for _, id := range ids {
		place, err := s.read(id)
		if err != nil {
			if errors.Is(err, ErrPlaceNotFound) {
				continue
			}
			return nil, err
		}
		summaries = append(summaries, &types.PlaceSummary{
			PlaceID:          place.PlaceID,
			DisplayName:      place.DisplayName,
			FormattedAddress: place.FormattedAddress,
			Location:         place.Location,
			EditorialSummary: place.EditorialSummary,
			Rating:           place.Rating,
		})
	}
	return summaries, nil
}

func (s *PlaceStore) read(id types.PlaceID) (*types.Place, error) {
	data, err := os.ReadFile(s.placePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPlaceNotFound, id)
		}
		return nil, fmt.Errorf("read place: %w", err)
	}
	var place types.Place
	if err := json.Unmarshal(data, &place); err != nil {
		return nil, fmt.Errorf("unmarshal place: %w", err)
	}
	return &place, nil
}

func (s *PlaceStore) write(place *types.Place) error {
	if err := os.MkdirAll(s.placesDir(), 0o755); err != nil {
		return fmt.Errorf("create places dir: %w", err)
	}

	data, err := json.MarshalIndent(place, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal place: %w", err)
	}

	tmp := s.placePath(place.PlaceID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp place: %w", err)
	}
	if err := os.Rename(tmp, s.placePath(place.PlaceID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp place: %w", err)
	}
	return nil
}
