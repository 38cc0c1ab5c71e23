// Package cdp is a minimal Chrome DevTools Protocol client: HTTP target
// discovery plus a WebSocket session that matches replies to requests by id.
package cdp

import "time"

const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultHTTPTimeout    = 3 * time.Second
	DefaultEventBuffer    = 256

	// Screenshots of a full table arrive as one multi-megabyte frame.
	DefaultReadLimit = 64 << 20
)
