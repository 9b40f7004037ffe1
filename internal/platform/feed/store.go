package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a failed event does not exist.
var ErrNotFound = errors.New("feed: not found")

// Marker records how far a feed has been read.
type Marker struct {
	FeedURI         string    `json:"feed_uri"`
	LastReadEntryID string    `json:"last_read_entry_id"`
	LastReadPageURI string    `json:"last_read_page_uri"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FailedEvent is an event parked after a processing failure.
type FailedEvent struct {
	ID           uuid.UUID `json:"id"`
	FeedURI      string    `json:"feed_uri"`
	EventID      string    `json:"event_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	ErrorMessage string    `json:"error_message"`
	Retries      int       `json:"retries"`
	FailedAt     time.Time `json:"failed_at"`
}

// Event returns the parked event.
func (f *FailedEvent) Event() Event {
	return Event{ID: f.EventID, Title: f.Title, Content: f.Content}
}

// ---------------------------------------------------------------------------
// Store interfaces
// ---------------------------------------------------------------------------

// MarkerStore persists feed markers. Get returns (nil, nil) for a feed that
// was never read.
type MarkerStore interface {
	Get(ctx context.Context, feedURI string) (*Marker, error)
	Save(ctx context.Context, m *Marker) error
}

// FailedEventStore persists parked events.
type FailedEventStore interface {
	Add(ctx context.Context, ev *FailedEvent) error
	Get(ctx context.Context, id uuid.UUID) (*FailedEvent, error)
	List(ctx context.Context, limit, offset int) ([]*FailedEvent, int, error)
	// ListRetryable returns the feed's events with fewer than maxRetries
	// retries, oldest first.
	ListRetryable(ctx context.Context, feedURI string, maxRetries, limit int) ([]*FailedEvent, error)
	Update(ctx context.Context, ev *FailedEvent) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ---------------------------------------------------------------------------
// In-memory stores
// ---------------------------------------------------------------------------

// MemoryMarkerStore is a thread-safe, in-memory MarkerStore.
type MemoryMarkerStore struct {
	mu      sync.RWMutex
	markers map[string]Marker
}

func NewMemoryMarkerStore() *MemoryMarkerStore {
	return &MemoryMarkerStore{markers: make(map[string]Marker)}
}

func (s *MemoryMarkerStore) Get(_ context.Context, feedURI string) (*Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markers[feedURI]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryMarkerStore) Save(_ context.Context, m *Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.UpdatedAt = time.Now().UTC()
	s.markers[m.FeedURI] = cp
	return nil
}

// MemoryFailedEventStore is a thread-safe, in-memory FailedEventStore.
type MemoryFailedEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]FailedEvent
}

func NewMemoryFailedEventStore() *MemoryFailedEventStore {
	return &MemoryFailedEventStore{events: make(map[uuid.UUID]FailedEvent)}
}

func (s *MemoryFailedEventStore) Add(_ context.Context, ev *FailedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.FailedAt.IsZero() {
		ev.FailedAt = time.Now().UTC()
	}
	s.events[ev.ID] = *ev
	return nil
}

func (s *MemoryFailedEventStore) Get(_ context.Context, id uuid.UUID) (*FailedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ev, nil
}

func (s *MemoryFailedEventStore) sorted() []*FailedEvent {
	out := make([]*FailedEvent, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, &ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FailedAt.Equal(out[j].FailedAt) {
			return out[i].FailedAt.Before(out[j].FailedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *MemoryFailedEventStore) List(_ context.Context, limit, offset int) ([]*FailedEvent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.sorted()
	total := len(all)
	if offset >= total {
		return []*FailedEvent{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemoryFailedEventStore) ListRetryable(_ context.Context, feedURI string, maxRetries, limit int) ([]*FailedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*FailedEvent
	for _, ev := range s.sorted() {
		if ev.FeedURI != feedURI || ev.Retries >= maxRetries {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryFailedEventStore) Update(_ context.Context, ev *FailedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.ID]; !ok {
		return ErrNotFound
	}
	s.events[ev.ID] = *ev
	return nil
}

func (s *MemoryFailedEventStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return ErrNotFound
	}
	delete(s.events, id)
	return nil
}
