// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/tablewatch/internal/detector"
	apperrors "github.com/GriffinCanCode/tablewatch/internal/errors"
	"github.com/GriffinCanCode/tablewatch/internal/extract"
	"github.com/GriffinCanCode/tablewatch/internal/orchestrator"
	"github.com/GriffinCanCode/tablewatch/internal/scraper"
	"github.com/GriffinCanCode/tablewatch/internal/syncx"
	"github.com/GriffinCanCode/tablewatch/internal/trace"
)

// Watcher is the part of the watch loop the server reads from.
type Watcher interface {
	Latest() *extract.TableState
	RecentTable() []orchestrator.TableEvent
	Trusted() bool
	LastComparison() *detector.ComparisonResult
	CheckDrift(ctx context.Context) (bool, error)
	Misses() int
	TableEvents() <-chan orchestrator.TableEvent
	DriftEvents() <-chan orchestrator.DriftEvent
}

// ScraperStats reports browser connection health.
type ScraperStats interface {
	Stats() scraper.ConnectionStats
}

// DetectorStats reports drift detector counters.
type DetectorStats interface {
	Stats() detector.Stats
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type TableMessage struct {
	Type  string                  `json:"type"`
	Event orchestrator.TableEvent `json:"event"`
}

type DriftMessage struct {
	Type  string                  `json:"type"`
	Event orchestrator.DriftEvent `json:"event"`
}

type TableResponse struct {
	Table   *extract.TableState `json:"table"`
	Hand    string              `json:"hero_hand,omitempty"`
	Trusted bool                `json:"trusted"`
}

type DriftResponse struct {
	Last    *detector.ComparisonResult `json:"last"`
	Trusted bool                       `json:"trusted"`
}

type StatsResponse struct {
	Scraper  *scraper.ConnectionStats `json:"scraper,omitempty"`
	Detector *detector.Stats          `json:"detector,omitempty"`
	Misses   int                      `json:"consecutive_misses"`
	Clients  int                      `json:"ws_clients"`
}

type ErrorResponse struct {
	Code     string            `json:"code"`
	GRPCCode string            `json:"grpc_code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	watcher  Watcher
	scraper  ScraperStats
	detector DetectorStats
	conns    *syncx.Set[*websocket.Conn]
}

// New creates a server and starts broadcasting watcher events to WebSocket
// clients until ctx ends. scr and det may be nil.
func New(ctx context.Context, w Watcher, scr ScraperStats, det DetectorStats) *Server {
	s := &Server{
		watcher:  w,
		scraper:  scr,
		detector: det,
		conns:    syncx.NewSet[*websocket.Conn](),
	}

	go s.broadcastTable(ctx)
	go s.broadcastDrift(ctx)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/table", s.handleTable)
	mux.HandleFunc("GET /api/table/recent", s.handleRecent)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/drift", s.handleDrift)
	mux.HandleFunc("POST /api/drift/check", s.handleDriftCheck)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	return s.conns.Len()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.conns.Add(conn)
	defer s.conns.Remove(conn)

	log := trace.Logger(r.Context())
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Clients only listen; CloseRead discards anything they send and ends
	// the context when the connection goes away.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	log.Debug("websocket disconnected", "remote", r.RemoteAddr)
}

func (s *Server) broadcastTable(ctx context.Context) {
	events := s.watcher.TableEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ctx, TableMessage{Type: "table", Event: evt})
		}
	}
}

func (s *Server) broadcastDrift(ctx context.Context) {
	events := s.watcher.DriftEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ctx, DriftMessage{Type: "drift", Event: evt})
		}
	}
}

func (s *Server) broadcast(ctx context.Context, msg any) {
	for _, conn := range s.conns.Snapshot() {
		go func(c *websocket.Conn) {
			wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
			defer cancel()
			if err := wsjson.Write(wctx, c, msg); err != nil {
				slog.Debug("websocket write failed, dropping client", "error", err)
				s.conns.Remove(c)
				_ = c.Close(websocket.StatusGoingAway, "write failed")
			}
		}(conn)
	}
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	resp := TableResponse{Table: s.watcher.Latest(), Trusted: s.watcher.Trusted()}
	if resp.Table != nil {
		resp.Hand, _ = resp.Table.HeroHand()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	events := s.watcher.RecentTable()
	if len(events) > RecentLimit {
		events = events[len(events)-RecentLimit:]
	}
	if events == nil {
		events = []orchestrator.TableEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Misses: s.watcher.Misses(), Clients: s.conns.Len()}
	if s.scraper != nil {
		st := s.scraper.Stats()
		resp.Scraper = &st
	}
	if s.detector != nil {
		st := s.detector.Stats()
		resp.Detector = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DriftResponse{
		Last:    s.watcher.LastComparison(),
		Trusted: s.watcher.Trusted(),
	})
}

func (s *Server) handleDriftCheck(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "drift_check")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, DriftCheckTimeout)
	defer cancel()

	checked, err := s.watcher.CheckDrift(ctx)
	if err != nil {
		span.SetAttr("error", err.Error())
		trace.Logger(ctx).Warn("drift check failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Checked bool                       `json:"checked"`
		Last    *detector.ComparisonResult `json:"last"`
		Trusted bool                       `json:"trusted"`
	}{checked, s.watcher.LastComparison(), s.watcher.Trusted()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err through its gRPC status so the code and metadata
// carried in the status details reach the client.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	app := apperrors.FromStatus(st)
	writeJSON(w, httpStatus(app.Code), ErrorResponse{
		Code:     string(app.Code),
		GRPCCode: st.Code().String(),
		Message:  st.Message(),
		Metadata: app.Metadata,
	})
}

func httpStatus(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeInvalidPayload:
		return http.StatusBadRequest
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeConnectionFailed, apperrors.CodeTabNotFound, apperrors.CodeProtocol, apperrors.CodeUnavailableDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
