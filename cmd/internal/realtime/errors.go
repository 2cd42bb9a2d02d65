package realtime

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors returned by the lifecycle controller and the gateway.
// They map 1:1 onto wire error codes (see ErrorCode).
var (
	ErrNotIdentified    = errors.New("realtime: session not identified")
	ErrBadIdentity      = errors.New("realtime: malformed identity claim")
	ErrIdentityConflict = errors.New("realtime: session already identified as another user")
	ErrMissingRoom      = errors.New("realtime: missing room id")
	ErrMissingTarget    = errors.New("realtime: missing target user id")
	ErrBadPayload       = errors.New("realtime: invalid payload")
	ErrUnsupported      = errors.New("realtime: unsupported event type")
	ErrSessionClosed    = errors.New("realtime: session closed")
	ErrRateLimited      = errors.New("realtime: too many events")
)

// ErrorCode maps a controller error onto the code sent in an error envelope.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotIdentified):
		return "not_identified"
	case errors.Is(err, ErrBadIdentity):
		return "bad_identity"
	case errors.Is(err, ErrIdentityConflict):
		return "identity_conflict"
	case errors.Is(err, ErrMissingRoom):
		return "missing_room"
	case errors.Is(err, ErrMissingTarget):
		return "missing_target"
	case errors.Is(err, ErrBadPayload):
		return "bad_payload"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
