package realtime

import (
	"log/slog"

	v1 "github.com/nirjar1012/newChat/shared/contracts/realtime/v1"
)

// TargetKind selects how a Target resolves to sessions.
type TargetKind uint8

const (
	TargetRoom TargetKind = iota + 1
	TargetUser
	TargetAll
)

func (k TargetKind) String() string {
	switch k {
	case TargetRoom:
		return "room"
	case TargetUser:
		return "user"
	case TargetAll:
		return "all"
	default:
		return "unknown"
	}
}

// Target is a routing destination: one room, one user's sessions, or every session.
type Target struct {
	Kind   TargetKind
	ID     string
	except string
}

// ToRoom targets every session subscribed to roomID.
func ToRoom(roomID string) Target { return Target{Kind: TargetRoom, ID: roomID} }

// ToUser targets every live session of userID.
func ToUser(userID string) Target { return Target{Kind: TargetUser, ID: userID} }

// ToAll targets every identified session.
func ToAll() Target { return Target{Kind: TargetAll} }

// Except excludes one session from the target.
func (t Target) Except(sessionID string) Target {
	t.except = sessionID
	return t
}

// DispatchResult counts per-session outcomes of one Dispatch.
type DispatchResult struct {
	Delivered int
	Dropped   int // queue full
	Skipped   int // session gone between resolution and delivery
}

// Broadcaster resolves a Target through the Registry and Rooms and fans an envelope out.
//
// It keeps no state of its own. Delivery is best-effort and never blocks: a full
// session queue drops the envelope and a closed session is skipped.
type Broadcaster struct {
	log      *slog.Logger
	registry *Registry
	rooms    *Rooms
	metrics  *Metrics
}

// NewBroadcaster constructs a Broadcaster over registry and rooms.
func NewBroadcaster(log *slog.Logger, registry *Registry, rooms *Rooms, metrics *Metrics) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{log: log, registry: registry, rooms: rooms, metrics: metrics}
}

// Dispatch delivers env to every session t resolves to at call time.
func (b *Broadcaster) Dispatch(t Target, env v1.Envelope) DispatchResult {
	var res DispatchResult

	for _, c := range b.resolve(t, &res) {
		if c.SessionID == t.except {
			continue
		}
		if c.Closed() {
			res.Skipped++
			continue
		}
		if c.Deliver(env) {
			res.Delivered++
		} else {
			res.Dropped++
		}
	}

	if res.Dropped > 0 {
		b.log.Warn("broadcast.drop", "target", t.Kind.String(), "id", t.ID, "type", env.Type, "dropped", res.Dropped)
	}
	b.metrics.delivered(t.Kind, res)
	return res
}

func (b *Broadcaster) resolve(t Target, res *DispatchResult) []*Client {
	switch t.Kind {
	case TargetRoom:
		members := b.rooms.MembersOf(t.ID)
		out := make([]*Client, 0, len(members))
		for _, sid := range members {
			c, ok := b.registry.Session(sid)
			if !ok {
				res.Skipped++
				continue
			}
			out = append(out, c)
		}
		return out
	case TargetUser:
		return b.registry.SessionsOf(t.ID)
	case TargetAll:
		return b.registry.AllSessions()
	default:
		return nil
	}
}
