// Package transcript persists saved dictation transcripts.
package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
)

// Entry is a saved transcript. Title holds the dictation text at save time.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the load/save boundary for transcripts.
type Store interface {
	Save(ctx context.Context, title string) (Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore keeps the newest maxSize entries in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	clock   func() time.Time
}

// NewStore creates a new in-memory transcript store.
func NewStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &MemoryStore{
		entries: make([]Entry, 0, min(maxEntries, 64)),
		maxSize: maxEntries,
		clock:   time.Now,
	}
}

// Save stores a new entry.
func (s *MemoryStore) Save(_ context.Context, title string) (Entry, error) {
	e, err := newEntry(title, s.clock())
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.mu.Unlock()
	return e, nil
}

// List returns up to limit entries, newest first. A non-positive limit returns all.
func (s *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Delete removes an entry by id.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	idx := -1
	for i, e := range s.entries {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.New(apperrors.CodeNotFound, "transcript not found").WithMetadata("id", id)
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func newEntry(title string, now time.Time) (Entry, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Entry{}, apperrors.New(apperrors.CodeInvalidArgument, "transcript title is empty")
	}
	return Entry{ID: uuid.NewString(), Title: title, CreatedAt: now.UTC()}, nil
}
