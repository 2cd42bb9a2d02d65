package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
)

// PresenceRecord is the persisted presence state of one user.
type PresenceRecord struct {
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"last_seen"`
}

// InMemoryStore is a dev-only fallback when no store is configured.
// Memberships are seeded with AddMember; presence writes are kept for inspection.
type InMemoryStore struct {
	mu       sync.Mutex
	members  map[string]map[string]struct{} // user -> rooms
	presence map[string]PresenceRecord
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		members:  make(map[string]map[string]struct{}),
		presence: make(map[string]PresenceRecord),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *InMemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// AddMember records userID as a member of roomID.
func (s *InMemoryStore) AddMember(userID, roomID string) {
	if userID == "" || roomID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := s.members[userID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		s.members[userID] = rooms
	}
	rooms[roomID] = struct{}{}
}

// ConversationsForUser returns the rooms seeded for userID.
func (s *InMemoryStore) ConversationsForUser(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Keys(s.members[userID]), nil
}

// SetUserPresence stores the latest presence state for userID.
func (s *InMemoryStore) SetUserPresence(ctx context.Context, userID string, status PresenceStatus, lastSeenAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = PresenceRecord{Status: status, LastSeen: lastSeenAt}
	return nil
}

// Presence returns the last presence state written for userID.
func (s *InMemoryStore) Presence(userID string) (PresenceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.presence[userID]
	return rec, ok
}
