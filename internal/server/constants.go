// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-client write deadline for broadcasts; slow clients are dropped.
	WriteTimeout = 5 * time.Second

	// Upper bound on an on-demand drift check triggered over HTTP.
	DriftCheckTimeout = 30 * time.Second

	// How many recent table events /api/table/recent returns at most.
	RecentLimit = 50
)
