package realtime

import (
	"sync"

	"github.com/samber/lo"
)

// Rooms is the room membership table: room id -> subscribed session ids.
//
// A reverse index (session id -> room ids) keeps RemoveSessionFromAll proportional to
// the rooms the session joined. Rooms left without members are pruned.
type Rooms struct {
	mu       sync.RWMutex
	members  map[string]map[string]struct{} // room -> sessions
	sessions map[string]map[string]struct{} // session -> rooms
}

// NewRooms constructs an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{
		members:  make(map[string]map[string]struct{}),
		sessions: make(map[string]map[string]struct{}),
	}
}

// Join subscribes sessionID to roomID. It reports whether membership changed.
func (t *Rooms) Join(roomID, sessionID string) bool {
	if roomID == "" || sessionID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.members[roomID]
	if set == nil {
		set = make(map[string]struct{})
		t.members[roomID] = set
	}
	if _, ok := set[sessionID]; ok {
		return false
	}
	set[sessionID] = struct{}{}

	rooms := t.sessions[sessionID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		t.sessions[sessionID] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// Leave unsubscribes sessionID from roomID. It reports whether membership changed.
func (t *Rooms) Leave(roomID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.members[roomID]
	if !ok {
		return false
	}
	if _, ok := set[sessionID]; !ok {
		return false
	}
	t.unlinkLocked(roomID, sessionID)
	return true
}

// RemoveSessionFromAll drops sessionID from every room and returns the rooms it left.
func (t *Rooms) RemoveSessionFromAll(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	left := lo.Keys(rooms)
	for _, roomID := range left {
		t.unlinkLocked(roomID, sessionID)
	}
	return left
}

func (t *Rooms) unlinkLocked(roomID, sessionID string) {
	if set, ok := t.members[roomID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(t.members, roomID)
		}
	}
	if rooms, ok := t.sessions[sessionID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(t.sessions, sessionID)
		}
	}
}

// MembersOf returns the sessions currently subscribed to roomID.
func (t *Rooms) MembersOf(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Keys(t.members[roomID])
}

// IsMember reports whether sessionID is subscribed to roomID.
func (t *Rooms) IsMember(roomID, sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.members[roomID][sessionID]
	return ok
}

// RoomsOf returns the rooms sessionID is subscribed to.
func (t *Rooms) RoomsOf(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Keys(t.sessions[sessionID])
}

// RoomCount returns the number of rooms with at least one member.
func (t *Rooms) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// MembershipCount returns the total number of (room, session) pairs.
func (t *Rooms) MembershipCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, set := range t.members {
		n += len(set)
	}
	return n
}
