// internal/state/cache.go
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sachiniyer/meal-finder/internal/types"
)

// CacheStore is a file-backed cross-conversation cache for upstream
// fetch results. Entries live at cache/<kind>/<sha256(key)>.json so that
// any conversation asking the same question of the same upstream reuses
// the stored answer.
type CacheStore struct {
	root string
	mu   sync.Mutex
}

// NewCacheStore creates a file-backed CacheStore rooted at the given
// directory.
func NewCacheStore(root string) *CacheStore {
	return &CacheStore{root: root}
}

// KeyHash builds a cache key from its parts, joined and hashed so that
// arbitrary query strings produce stable filenames.
func KeyHash(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}

func (s *CacheStore) entryPath(kind types.CacheKind, key string) string {
	return filepath.Join(s.root, "cache", string(kind), key+".json")
}

// Get returns the cached entry for (kind, key), or ok=false on a miss.
// A corrupt entry is treated as a miss.
func (s *CacheStore) Get(_ context.Context, kind types.CacheKind, key string) (*types.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.entryPath(kind, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Put stores a value under (kind, key), overwriting any prior entry.
func (s *CacheStore) Put(_ context.Context, kind types.CacheKind, key string, value json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &types.CacheEntry{
		Kind:      kind,
		Key:       key,
		Value:     value,
		FetchedAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	dir := filepath.Dir(s.entryPath(kind, key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp := s.entryPath(kind, key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp cache entry: %w", err)
	}
	if err := os.Rename(tmp, s.entryPath(kind, key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp cache entry: %w", err)
	}
	return nil
}

// PurgeExpired removes entries older than ttl and returns how many were
// deleted. A non-positive ttl is a no-op.
func (s *CacheStore) PurgeExpired(_ context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0

	cacheDir := filepath.Join(s.root, "cache")
	err := filepath.WalkDir(cacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var entry types.CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			// Corrupt entries are dead weight
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
			return nil
		}
		if entry.FetchedAt.Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep cache: %w", err)
	}
	return removed, nil
}
