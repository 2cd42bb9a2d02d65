package realtime

import (
	"context"
	"time"
)

// PresenceStatus is the persisted presence state of a user.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// MembershipLookup answers which conversations a user belongs to.
// The relay only reads memberships; conversations are managed by the application.
type MembershipLookup interface {
	ConversationsForUser(ctx context.Context, userID string) ([]string, error)
}

// PresenceStore persists presence transitions. Calls are best-effort.
type PresenceStore interface {
	SetUserPresence(ctx context.Context, userID string, status PresenceStatus, lastSeenAt time.Time) error
}

// Store is the persistence collaborator consumed by the relay.
//
// Requirements:
//   - ConversationsForUser returns room ids without duplicates, in any order
//   - SetUserPresence is idempotent; the last call for a user wins
//   - Close releases resources the store owns (never a caller-owned pool)
type Store interface {
	MembershipLookup
	PresenceStore
	Close() error
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
