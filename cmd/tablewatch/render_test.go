package main

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"

	"github.com/GriffinCanCode/tablewatch/internal/baseline"
	"github.com/GriffinCanCode/tablewatch/internal/detector"
	"github.com/GriffinCanCode/tablewatch/internal/extract"
)

func init() {
	pterm.DisableStyling()
}

func TestRenderTable(t *testing.T) {
	vpip := 23.0
	state := &extract.TableState{
		PotSize:    4.5,
		BoardCards: []string{"As", "Kd", "Qh"},
		HeroCards:  []string{"Jc", "Tc"},
		Players: map[int]extract.Player{
			3: {Name: "Carol", Stack: 80, Status: "folded"},
			1: {Name: "Alice", Stack: 100, Bet: 1, VPIP: &vpip, IsDealer: true, IsTurn: true, Status: "active"},
		},
		SmallBlind:     0.5,
		BigBlind:       1,
		TournamentName: "Sunday Special",
		Stage:          extract.StreetFlop,
	}

	out, err := renderTable(state)
	if err != nil {
		t.Fatalf("renderTable: %v", err)
	}
	for _, want := range []string{"Sunday Special", "flop", "4.50", "A♠", "K♦", "Alice", "Carol", "to act", "23"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Alice") > strings.Index(out, "Carol") {
		t.Error("seats are not in order")
	}
}

func TestRenderComparison(t *testing.T) {
	res := &detector.ComparisonResult{
		Site:       "betfair",
		Theme:      "default",
		Resolution: "1920x1080",
		MatchScore: 0.81,
		RegionScores: []detector.RegionScore{
			{Name: "pot_area", Score: 0.95, Threshold: 0.85, Critical: true},
			{Name: "action_buttons", Score: 0.75, Threshold: 0.80},
		},
	}

	out, err := renderComparison(res, detector.LevelWarning)
	if err != nil {
		t.Fatalf("renderComparison: %v", err)
	}
	for _, want := range []string{"DRIFT", "WARNING", "none", "pot_area", "pass", "action_buttons", "fail"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderBaselines(t *testing.T) {
	out, err := renderBaselines(nil)
	if err != nil || !strings.Contains(out, "No baselines") {
		t.Errorf("empty list = %q, %v", out, err)
	}

	out, err = renderBaselines([]baseline.Baseline{{
		ID: "abc123", Site: "betfair", Resolution: "800x600", Theme: "dark",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("renderBaselines: %v", err)
	}
	for _, want := range []string{"abc123", "800x600", "dark", "2024-05-01 12:00:00"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrettyCard(t *testing.T) {
	tests := map[string]string{"Ah": "A♥", "Tc": "T♣", "x": "x", "9z": "9z"}
	for in, want := range tests {
		if got := prettyCard(in); got != want {
			t.Errorf("prettyCard(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"table=7", " theme = dark "})
	if err != nil {
		t.Fatalf("parseMeta: %v", err)
	}
	if meta["table"] != "7" || meta["theme"] != "dark" {
		t.Errorf("meta = %v", meta)
	}

	if _, err := parseMeta([]string{"novalue"}); err == nil {
		t.Error("parseMeta accepted a pair without =")
	}
	if m, _ := parseMeta(nil); m == nil {
		t.Error("parseMeta(nil) returned a nil map")
	}
}

func TestPtermLevel(t *testing.T) {
	tests := []struct {
		in   slog.Level
		want pterm.LogLevel
	}{
		{slog.LevelDebug, pterm.LogLevelDebug},
		{slog.LevelInfo, pterm.LogLevelInfo},
		{slog.LevelWarn, pterm.LogLevelWarn},
		{slog.LevelError, pterm.LogLevelError},
	}
	for _, tt := range tests {
		if got := ptermLevel(tt.in); got != tt.want {
			t.Errorf("ptermLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
