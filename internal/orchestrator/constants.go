// Package orchestrator runs the table-watching loops: extraction polling,
// drift checks and report housekeeping.
package orchestrator

import "time"

// Watcher configuration constants
const (
	// History sizes
	TableHistorySize = 200
	DriftHistorySize = 50

	// Channel buffer sizes
	TableEventBuffer = 100
	DriftEventBuffer = 20

	// Housekeeping
	PruneInterval = time.Hour

	// Recent table events returned by RecentTable
	RecentTableWindow = 5 * time.Minute
)
