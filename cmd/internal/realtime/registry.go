package realtime

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// DisplayMeta is the presentation data cached for an online user.
type DisplayMeta struct {
	FirstName string
	LastName  string
	AvatarURL string
}

// merge returns m with every non-empty field of next applied.
func (m DisplayMeta) merge(next DisplayMeta) DisplayMeta {
	if next.FirstName != "" {
		m.FirstName = next.FirstName
	}
	if next.LastName != "" {
		m.LastName = next.LastName
	}
	if next.AvatarURL != "" {
		m.AvatarURL = next.AvatarURL
	}
	return m
}

// OnlineUser is one row of a presence snapshot.
type OnlineUser struct {
	UserID   string
	Meta     DisplayMeta
	LastSeen time.Time
}

type presenceEntry struct {
	sessions map[string]*Client
	meta     DisplayMeta
	lastSeen time.Time
}

// Registry is the authoritative map from user identity to live sessions.
//
// An entry exists for a user if and only if at least one of the user's sessions is
// registered. Every mutation runs under one mutex and reports the presence transition
// it caused, so concurrent connects and disconnects of the same user observe exactly
// one 0->1 and one 1->0 transition.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*presenceEntry
	owners map[string]string // session id -> user id
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		users:  make(map[string]*presenceEntry),
		owners: make(map[string]string),
	}
}

// RegisterSession adds client to userID's session set.
// It returns true only when the user had no session before the call.
//
// A session is owned by exactly one user: registering a session that already belongs
// to another user is ignored.
func (r *Registry) RegisterSession(userID string, client *Client, meta DisplayMeta, now time.Time) (newlyOnline bool) {
	if userID == "" || client == nil || client.SessionID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.owners[client.SessionID]; ok && owner != userID {
		return false
	}

	e, existed := r.users[userID]
	if !existed {
		e = &presenceEntry{sessions: make(map[string]*Client, 1)}
		r.users[userID] = e
	}
	e.sessions[client.SessionID] = client
	e.meta = e.meta.merge(meta)
	e.lastSeen = now
	r.owners[client.SessionID] = userID

	return !existed
}

// RemoveSession removes sessionID from whichever user holds it.
// Unknown sessions are a no-op, so double disconnects are harmless.
func (r *Registry) RemoveSession(sessionID string) (userID string, nowOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[sessionID]
	if !ok {
		return "", false
	}
	delete(r.owners, sessionID)

	e := r.users[userID]
	if e == nil {
		return userID, false
	}
	delete(e.sessions, sessionID)
	if len(e.sessions) > 0 {
		return userID, false
	}

	delete(r.users, userID)
	return userID, true
}

// ListOnlineUsers returns one row per online user, sorted by user id.
func (r *Registry) ListOnlineUsers() []OnlineUser {
	r.mu.RLock()
	out := lo.MapToSlice(r.users, func(userID string, e *presenceEntry) OnlineUser {
		return OnlineUser{UserID: userID, Meta: e.meta, LastSeen: e.lastSeen}
	})
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b OnlineUser) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

// IsOnline reports whether userID has at least one live session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// User returns the snapshot row for userID.
func (r *Registry) User(userID string) (OnlineUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.users[userID]
	if !ok {
		return OnlineUser{}, false
	}
	return OnlineUser{UserID: userID, Meta: e.meta, LastSeen: e.lastSeen}, true
}

// UserOf returns the user owning sessionID.
func (r *Registry) UserOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[sessionID]
	return userID, ok
}

// Session resolves a live session handle.
func (r *Registry) Session(sessionID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.owners[sessionID]
	if !ok {
		return nil, false
	}
	c, ok := r.users[userID].sessions[sessionID]
	return c, ok
}

// SessionsOf returns every live session of userID.
func (r *Registry) SessionsOf(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.users[userID]
	if !ok {
		return nil
	}
	return lo.Values(e.sessions)
}

// AllSessions returns every live session.
func (r *Registry) AllSessions() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.owners))
	for _, e := range r.users {
		for _, c := range e.sessions {
			out = append(out, c)
		}
	}
	return out
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
