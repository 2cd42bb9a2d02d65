package realtime

import "time"

// Transport limits and defaults. The app config may override the tunables.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	// How often WaitIdle re-checks the open connection count.
	idlePollInterval = 10 * time.Millisecond
)
