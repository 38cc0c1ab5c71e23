package cdp

import (
	"fmt"
	"testing"
)

func TestSelectTabBetfair(t *testing.T) {
	tabs := []Tab{
		{Title: "Google", URL: "https://google.com"},
		{Title: "Betfair Poker", URL: "https://poker-com-ngm.bfcdl.com/poker", WebSocketDebuggerURL: "ws://x"},
	}
	got, ok := SelectTab(tabs, "betfair")
	if !ok {
		t.Fatal("no tab selected")
	}
	if got.Title != "Betfair Poker" {
		t.Errorf("selected %q, want Betfair Poker", got.Title)
	}
}

func TestSelectTabRules(t *testing.T) {
	tests := []struct {
		name   string
		tabs   []Tab
		filter string
		want   string
		ok     bool
	}{
		{"url match case-insensitive", []Tab{{ID: "1", URL: "https://BETFAIR.com", WebSocketDebuggerURL: "ws://1"}}, "betfair", "1", true},
		{"title match", []Tab{{ID: "1", Title: "My Poker Table", WebSocketDebuggerURL: "ws://1"}}, "POKER", "1", true},
		{"no debugger url", []Tab{{ID: "1", URL: "https://betfair.com"}}, "betfair", "", false},
		{"non-page target", []Tab{{ID: "1", Type: "service_worker", URL: "https://betfair.com/sw.js", WebSocketDebuggerURL: "ws://1"}}, "betfair", "", false},
		{"first match wins", []Tab{
			{ID: "1", URL: "https://betfair.com/a", WebSocketDebuggerURL: "ws://1"},
			{ID: "2", URL: "https://betfair.com/b", WebSocketDebuggerURL: "ws://2"},
		}, "betfair", "1", true},
		{"no match", []Tab{{ID: "1", URL: "https://google.com", WebSocketDebuggerURL: "ws://1"}}, "betfair", "", false},
		{"empty list", nil, "betfair", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectTab(tt.tabs, tt.filter)
			if ok != tt.ok || got.ID != tt.want {
				t.Errorf("SelectTab() = %q, %v; want %q, %v", got.ID, ok, tt.want, tt.ok)
			}
		})
	}
}

// Whenever exactly one tab matches and has a debugger URL, it is selected.
func TestSelectTabSingleMatchProperty(t *testing.T) {
	for n := 1; n <= 6; n++ {
		for match := 0; match < n; match++ {
			tabs := make([]Tab, n)
			for i := range tabs {
				tabs[i] = Tab{ID: fmt.Sprint(i), Title: fmt.Sprintf("Lobby %d", i), URL: fmt.Sprintf("https://site%d.example", i), WebSocketDebuggerURL: fmt.Sprintf("ws://%d", i)}
			}
			tabs[match].URL = "https://poker.betfair.com/table"
			got, ok := SelectTab(tabs, "betfair")
			if !ok || got.ID != fmt.Sprint(match) {
				t.Errorf("n=%d match=%d: got %q, %v", n, match, got.ID, ok)
			}
		}
	}
}

func TestEndpoint(t *testing.T) {
	if got := Endpoint("localhost", 9222); got != "http://localhost:9222" {
		t.Errorf("Endpoint = %q", got)
	}
	if got := Endpoint("::1", 9222); got != "http://[::1]:9222" {
		t.Errorf("Endpoint(ipv6) = %q", got)
	}
}
