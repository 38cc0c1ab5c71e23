package scraper

import "time"

// State is where the scraper is in its connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateTabDiscovery
	StateConnected
	StateExtracting
)

func (s State) String() string {
	switch s {
	case StateTabDiscovery:
		return "TAB_DISCOVERY"
	case StateConnected:
		return "CONNECTED"
	case StateExtracting:
		return "EXTRACTING"
	default:
		return "DISCONNECTED"
	}
}

// ConnectionStats is a point-in-time view of scraper health.
type ConnectionStats struct {
	State                 string        `json:"state"`
	Connected             bool          `json:"connected"`
	Endpoint              string        `json:"endpoint"`
	TabTitle              string        `json:"tab_title,omitempty"`
	TabURL                string        `json:"tab_url,omitempty"`
	WebSocketURL          string        `json:"websocket_url,omitempty"`
	BrowserPID            int           `json:"browser_pid,omitempty"`
	ConsecutiveFailures   int           `json:"consecutive_failures"`
	LastSuccess           time.Time     `json:"last_success"`
	TotalExtractions      int64         `json:"total_extractions"`
	SuccessfulExtractions int64         `json:"successful_extractions"`
	Reconnects            int64         `json:"reconnects"`
	AvgLatency            time.Duration `json:"avg_latency_ns"`
	DroppedEvents         int64         `json:"dropped_events"`
	LauncherState         string        `json:"launcher_state"`
}
