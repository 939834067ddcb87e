// internal/state/conversation.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sachiniyer/meal-finder/internal/types"
)

// ErrConversationNotFound is returned for lookups of unknown conversation ids.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationStore is a JSON-file-backed conversation store. The index
// lives in conversations/conversations.json; each conversation's message
// history is an append-only JSONL log at conversations/<id>/messages.jsonl.
type ConversationStore struct {
	root  string
	mu    sync.RWMutex
	locks map[types.ConversationID]*sync.Mutex
}

// NewConversationStore creates a file-backed ConversationStore rooted at
// the given directory.
func NewConversationStore(root string) *ConversationStore {
	return &ConversationStore{
		root:  root,
		locks: make(map[types.ConversationID]*sync.Mutex),
	}
}

func (s *ConversationStore) indexPath() string {
	return filepath.Join(s.root, "conversations", "conversations.json")
}

func (s *ConversationStore) conversationsDir() string {
	return filepath.Join(s.root, "conversations")
}

func (s *ConversationStore) messagesPath(id types.ConversationID) string {
	return filepath.Join(s.root, "conversations", string(id), "messages.jsonl")
}

// messageLock returns the per-conversation append lock, creating one on
// first use. Caller must not hold s.mu.
func (s *ConversationStore) messageLock(id types.ConversationID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

// loadIndex reads conversations.json into a map keyed by ConversationID.
func (s *ConversationStore) loadIndex() (map[types.ConversationID]*types.ConversationIndex, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.ConversationID]*types.ConversationIndex), nil
		}
		return nil, fmt.Errorf("read conversation index: %w", err)
	}

	var records []*types.ConversationIndex
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal conversation index: %w", err)
	}

	index := make(map[types.ConversationID]*types.ConversationIndex, len(records))
	for _, rec := range records {
		index[rec.ConversationID] = rec
	}
	return index, nil
}

// saveIndex marshals the index and writes it atomically.
func (s *ConversationStore) saveIndex(index map[types.ConversationID]*types.ConversationIndex) error {
	records := make([]*types.ConversationIndex, 0, len(index))
	for _, rec := range index {
		records = append(records, rec)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation index: %w", err)
	}

	if err := os.MkdirAll(s.conversationsDir(), 0o755); err != nil {
		return fmt.Errorf("create conversations dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Create adds a new conversation with the given user location (which may
// be nil) and returns the full document.
func (s *ConversationStore) Create(_ context.Context, location *types.Location) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	id := types.NewConversationID()
	rec := &types.ConversationIndex{
		ConversationID: id,
		Location:       location,
		Places:         []types.PlaceID{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	index[id] = rec

	if err := s.saveIndex(index); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(s.conversationsDir(), string(id)), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}

	return &types.Conversation{ConversationIndex: *rec, Messages: []*types.Message{}}, nil
}

// Get returns the full conversation document including message history.
func (s *ConversationStore) Get(_ context.Context, id types.ConversationID) (*types.Conversation, error) {
	s.mu.RLock()
	index, err := s.loadIndex()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	rec, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	messages, err := s.readMessages(id)
	if err != nil {
		return nil, err
	}

	return &types.Conversation{ConversationIndex: *rec, Messages: messages}, nil
}

// List returns all conversation index records, newest first.
func (s *ConversationStore) List(_ context.Context) ([]*types.ConversationIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	records := make([]*types.ConversationIndex, 0, len(index))
	for _, rec := range index {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// AppendMessage adds a message to the conversation's log with an
// auto-incremented sequence number. Messages are immutable once appended.
func (s *ConversationStore) AppendMessage(_ context.Context, id types.ConversationID, msg *types.Message) error {
	lock := s.messageLock(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.readMessages(id)
	if err != nil {
		return err
	}
	msg.Seq = int64(len(existing)) + 1
	if msg.At.IsZero() {
		msg.At = time.Now()
	}

	dir := filepath.Dir(s.messagesPath(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(s.messagesPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return s.touch(id)
}

// AddPlaces associates the given place ids with the conversation,
// skipping ids already referenced.
func (s *ConversationStore) AddPlaces(_ context.Context, id types.ConversationID, places []types.PlaceID) error {
	if len(places) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}

	rec, ok := index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	known := make(map[types.PlaceID]bool, len(rec.Places))
	for _, pid := range rec.Places {
		known[pid] = true
	}
	for _, pid := range places {
		if !known[pid] {
			rec.Places = append(rec.Places, pid)
			known[pid] = true
		}
	}
	rec.UpdatedAt = time.Now()

	return s.saveIndex(index)
}

func (s *ConversationStore) readMessages(id types.ConversationID) ([]*types.Message, error) {
	f, err := os.Open(s.messagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var messages []*types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg types.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}
	return messages, nil
}

func (s *ConversationStore) touch(id types.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	rec, ok := index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	rec.UpdatedAt = time.Now()
	return s.saveIndex(index)
}
