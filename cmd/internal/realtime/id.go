package realtime

import (
	"time"

	"github.com/nirjar1012/newChat/cmd/internal/ids"
)

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULIDs sort by creation time, which keeps log correlation simple.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
