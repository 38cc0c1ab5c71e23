package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/tablewatch/internal/detector"
	apperrors "github.com/GriffinCanCode/tablewatch/internal/errors"
	"github.com/GriffinCanCode/tablewatch/internal/extract"
	"github.com/GriffinCanCode/tablewatch/internal/orchestrator"
	"github.com/GriffinCanCode/tablewatch/internal/scraper"
)

// mockWatcher for testing.
type mockWatcher struct {
	mu       sync.Mutex
	latest   *extract.TableState
	recent   []orchestrator.TableEvent
	trusted  bool
	last     *detector.ComparisonResult
	checkErr error
	checks   int
	misses   int
	tableCh  chan orchestrator.TableEvent
	driftCh  chan orchestrator.DriftEvent
}

func newMockWatcher() *mockWatcher {
	return &mockWatcher{
		trusted: true,
		tableCh: make(chan orchestrator.TableEvent, 10),
		driftCh: make(chan orchestrator.DriftEvent, 10),
	}
}

func (m *mockWatcher) Latest() *extract.TableState                { return m.latest }
func (m *mockWatcher) RecentTable() []orchestrator.TableEvent     { return m.recent }
func (m *mockWatcher) Trusted() bool                              { return m.trusted }
func (m *mockWatcher) LastComparison() *detector.ComparisonResult { return m.last }
func (m *mockWatcher) Misses() int                                { return m.misses }
func (m *mockWatcher) TableEvents() <-chan orchestrator.TableEvent {
	return m.tableCh
}
func (m *mockWatcher) DriftEvents() <-chan orchestrator.DriftEvent {
	return m.driftCh
}

func (m *mockWatcher) CheckDrift(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if m.checkErr != nil {
		return false, m.checkErr
	}
	m.last = &detector.ComparisonResult{Site: "betfair", IsMatch: true, MatchScore: 0.97}
	return true, nil
}

type mockScraper struct{ stats scraper.ConnectionStats }

func (m mockScraper) Stats() scraper.ConnectionStats { return m.stats }

type mockDetector struct{ stats detector.Stats }

func (m mockDetector) Stats() detector.Stats { return m.stats }

func newTestServer(t *testing.T, w *mockWatcher, scr ScraperStats, det DetectorStats) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, w, scr, det)
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (body %q)", path, err, rec.Body.String())
		}
	}
	return rec
}

func sampleState() *extract.TableState {
	dealer := 1
	return &extract.TableState{
		PotSize:    12.5,
		BoardCards: []string{"Ts", "Js", "Qs", "2d", "3c"},
		HeroCards:  []string{"As", "Ks"},
		Players: map[int]extract.Player{
			1: {Name: "Alice", Stack: 100, Status: "active", IsDealer: true},
		},
		DealerSeat: &dealer,
		SmallBlind: 0.5,
		BigBlind:   1,
		Stage:      extract.StreetRiver,
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin on GET = %q, want %q", v, "*")
	}
}

func TestTableEndpoint(t *testing.T) {
	w := newMockWatcher()
	s := newTestServer(t, w, nil, nil)
	h := s.Handler()

	var empty TableResponse
	rec := get(t, h, "/api/table", &empty)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if empty.Table != nil || !empty.Trusted {
		t.Errorf("before first read: %+v", empty)
	}
	if rec.Header().Get("x-trace-id") == "" {
		t.Error("trace middleware did not set x-trace-id")
	}

	w.latest = sampleState()
	w.trusted = false
	var resp TableResponse
	get(t, h, "/api/table", &resp)
	if resp.Table == nil || resp.Table.PotSize != 12.5 {
		t.Fatalf("table = %+v", resp.Table)
	}
	if resp.Trusted {
		t.Error("trusted = true, want false")
	}
	if !strings.Contains(strings.ToLower(resp.Hand), "flush") {
		t.Errorf("hero_hand = %q, want a flush description", resp.Hand)
	}
}

func TestRecentEndpointLimits(t *testing.T) {
	w := newMockWatcher()
	for i := range RecentLimit + 5 {
		w.recent = append(w.recent, orchestrator.TableEvent{Digest: string(rune('a' + i%26))})
	}
	s := newTestServer(t, w, nil, nil)

	var events []orchestrator.TableEvent
	get(t, s.Handler(), "/api/table/recent", &events)
	if len(events) != RecentLimit {
		t.Errorf("len = %d, want %d", len(events), RecentLimit)
	}

	w.recent = nil
	rec := get(t, s.Handler(), "/api/table/recent", &events)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty body = %q, want []", rec.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	w := newMockWatcher()
	w.misses = 3
	scr := mockScraper{stats: scraper.ConnectionStats{State: "CONNECTED", Connected: true, TotalExtractions: 7}}
	det := mockDetector{stats: detector.Stats{TotalComparisons: 4, Matches: 3, Baselines: 2}}
	s := newTestServer(t, w, scr, det)

	var resp StatsResponse
	get(t, s.Handler(), "/api/stats", &resp)
	if resp.Misses != 3 {
		t.Errorf("misses = %d, want 3", resp.Misses)
	}
	if resp.Scraper == nil || resp.Scraper.State != "CONNECTED" || resp.Scraper.TotalExtractions != 7 {
		t.Errorf("scraper = %+v", resp.Scraper)
	}
	if resp.Detector == nil || resp.Detector.Baselines != 2 {
		t.Errorf("detector = %+v", resp.Detector)
	}

	// Without a scraper or detector those sections are omitted.
	bare := newTestServer(t, w, nil, nil)
	rec := get(t, bare.Handler(), "/api/stats", nil)
	if strings.Contains(rec.Body.String(), "\"scraper\"") || strings.Contains(rec.Body.String(), "\"detector\"") {
		t.Errorf("body = %s, want no scraper/detector", rec.Body.String())
	}
}

func TestDriftEndpoints(t *testing.T) {
	w := newMockWatcher()
	s := newTestServer(t, w, nil, nil)
	h := s.Handler()

	var resp DriftResponse
	get(t, h, "/api/drift", &resp)
	if resp.Last != nil || !resp.Trusted {
		t.Errorf("before any check: %+v", resp)
	}

	req := httptest.NewRequest("POST", "/api/drift/check", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("check status = %d, body %s", rec.Code, rec.Body.String())
	}
	if w.checks != 1 {
		t.Errorf("checks = %d, want 1", w.checks)
	}

	get(t, h, "/api/drift", &resp)
	if resp.Last == nil || !resp.Last.IsMatch {
		t.Errorf("last = %+v", resp.Last)
	}

	// GET on the check route is not allowed.
	rec = get(t, h, "/api/drift/check", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET check status = %d, want 405", rec.Code)
	}
}

func TestDriftCheckErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.New(apperrors.CodeConnectionFailed, "no browser"), http.StatusServiceUnavailable},
		{apperrors.New(apperrors.CodeTimeout, "screenshot"), http.StatusGatewayTimeout},
		{apperrors.New(apperrors.CodeInvalidPayload, "bad png"), http.StatusBadRequest},
		{apperrors.New(apperrors.CodeStorageFailed, "disk"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := newMockWatcher()
		w.checkErr = tt.err
		s := newTestServer(t, w, nil, nil)

		req := httptest.NewRequest("POST", "/api/drift/check", http.NoBody)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if body.Code != string(apperrors.CodeOf(tt.err)) {
			t.Errorf("code = %q, want %q", body.Code, apperrors.CodeOf(tt.err))
		}
	}
}

func TestDriftCheckErrorCarriesStatusDetails(t *testing.T) {
	w := newMockWatcher()
	w.checkErr = fmt.Errorf("drift check: %w",
		apperrors.New(apperrors.CodeTabNotFound, "no poker tab").WithMetadata("filter", "betfair"))
	s := newTestServer(t, w, nil, nil)

	req := httptest.NewRequest("POST", "/api/drift/check", http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != string(apperrors.CodeTabNotFound) {
		t.Errorf("code = %q, want %q", body.Code, apperrors.CodeTabNotFound)
	}
	if body.GRPCCode != "Unavailable" {
		t.Errorf("grpc_code = %q, want Unavailable", body.GRPCCode)
	}
	if body.Metadata["filter"] != "betfair" {
		t.Errorf("metadata = %v, want filter=betfair", body.Metadata)
	}
	if !strings.Contains(body.Message, "no poker tab") {
		t.Errorf("message = %q, want it to mention the cause", body.Message)
	}
}

func TestPlainErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != string(apperrors.CodeInternal) || body.Message != "boom" {
		t.Errorf("body = %+v", body)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	w := newMockWatcher()
	s := newTestServer(t, w, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "") }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.tableCh <- orchestrator.TableEvent{State: sampleState(), Digest: "abc", Trusted: true}

	var tbl struct {
		Type  string `json:"type"`
		Event struct {
			Digest  string `json:"digest"`
			Trusted bool   `json:"trusted"`
		} `json:"event"`
	}
	if err := wsjson.Read(ctx, c, &tbl); err != nil {
		t.Fatalf("read table message: %v", err)
	}
	if tbl.Type != "table" || tbl.Event.Digest != "abc" || !tbl.Event.Trusted {
		t.Errorf("table message = %+v", tbl)
	}

	w.driftCh <- orchestrator.DriftEvent{Result: &detector.ComparisonResult{Site: "betfair", IsMatch: false}}

	var base Message
	if err := wsjson.Read(ctx, c, &base); err != nil {
		t.Fatalf("read drift message: %v", err)
	}
	if base.Type != "drift" {
		t.Errorf("type = %q, want drift", base.Type)
	}
}

func TestWebSocketClientRemovedOnClose(t *testing.T) {
	w := newMockWatcher()
	s := newTestServer(t, w, nil, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = c.Close(websocket.StatusNormalClosure, "bye")

	deadline = time.Now().Add(2 * time.Second)
	for s.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d after close, want 0", s.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code apperrors.ErrorCode
		want int
	}{
		{apperrors.CodeInvalidArgument, http.StatusBadRequest},
		{apperrors.CodeNotFound, http.StatusNotFound},
		{apperrors.CodeTabNotFound, http.StatusServiceUnavailable},
		{apperrors.CodeUnavailableDependency, http.StatusServiceUnavailable},
		{apperrors.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpStatus(tt.code); got != tt.want {
			t.Errorf("httpStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
