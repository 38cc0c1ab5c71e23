// Package cdptest runs an in-process fake of Chrome's debugging endpoint:
// the /json HTTP routes plus per-tab WebSocket sessions with scripted
// replies.
package cdptest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/GriffinCanCode/tablewatch/internal/cdp"
)

// NoReply makes the server swallow a command, for timeout tests.
var NoReply = &struct{ noReply bool }{true}

// Handler answers one command. Returning a non-nil *cdp.RPCError sends an
// error reply; returning NoReply sends nothing.
type Handler func(method string, params json.RawMessage) (any, *cdp.RPCError)

// Server is a fake debugging endpoint.
type Server struct {
	*httptest.Server

	handler Handler
	// Noise sends an unsolicited event before every reply.
	Noise atomic.Bool
	// Down makes every /json route answer 503, as if no browser listened.
	Down atomic.Bool

	mu       sync.Mutex
	tabs     []cdp.Tab
	opened   []string
	sessions map[*websocket.Conn]struct{}
	dials    atomic.Int64
	lists    atomic.Int64
	calls    map[string]int
}

// NewServer starts a fake endpoint answering commands with h.
func NewServer(h Handler) *Server {
	s := &Server{handler: h, sessions: make(map[*websocket.Conn]struct{}), calls: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /json/version", s.handleVersion)
	mux.HandleFunc("GET /json", s.handleList)
	mux.HandleFunc("GET /json/list", s.handleList)
	mux.HandleFunc("/json/new", s.handleNew)
	mux.HandleFunc("/devtools/page/{id}", s.handleSession)
	s.Server = httptest.NewServer(mux)
	return s
}

// AddTab registers a page target and returns it with its debugger URL.
func (s *Server) AddTab(id, title, pageURL string) cdp.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := cdp.Tab{ID: id, Type: "page", Title: title, URL: pageURL, WebSocketDebuggerURL: s.wsURL(id)}
	s.tabs = append(s.tabs, t)
	return t
}

// SetTabs replaces the target list verbatim.
func (s *Server) SetTabs(tabs []cdp.Tab) {
	s.mu.Lock()
	s.tabs = tabs
	s.mu.Unlock()
}

// WSURL is the debugger URL the fake would advertise for id.
func (s *Server) WSURL(id string) string { return s.wsURL(id) }

func (s *Server) wsURL(id string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/devtools/page/" + id
}

// Opened lists URLs requested through /json/new.
func (s *Server) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.opened...)
}

// Dials counts accepted WebSocket sessions.
func (s *Server) Dials() int { return int(s.dials.Load()) }

// Lists counts tab listings served.
func (s *Server) Lists() int { return int(s.lists.Load()) }

// Live counts sessions currently open.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Calls counts commands received for method.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// DropSessions closes every open WebSocket from the server side.
func (s *Server) DropSessions() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.sessions))
	for c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}

func (s *Server) unavailable(w http.ResponseWriter) bool {
	if s.Down.Load() {
		http.Error(w, "no browser", http.StatusServiceUnavailable)
		return true
	}
	return false
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if s.unavailable(w) {
		return
	}
	writeJSON(w, cdp.VersionInfo{
		Browser:              "HeadlessChrome/126.0.0.0",
		ProtocolVersion:      "1.3",
		WebSocketDebuggerURL: "ws" + strings.TrimPrefix(s.URL, "http") + "/devtools/browser/fake",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.unavailable(w) {
		return
	}
	s.lists.Add(1)
	s.mu.Lock()
	tabs := append([]cdp.Tab{}, s.tabs...)
	s.mu.Unlock()
	writeJSON(w, tabs)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	if s.unavailable(w) {
		return
	}
	target := r.URL.RawQuery
	if t, err := url.QueryUnescape(target); err == nil {
		target = t
	}
	s.mu.Lock()
	s.opened = append(s.opened, target)
	s.mu.Unlock()
	writeJSON(w, cdp.Tab{ID: "new", Type: "page", URL: target})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	c.SetReadLimit(1 << 24)
	s.dials.Add(1)
	s.mu.Lock()
	s.sessions[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, c)
		s.mu.Unlock()
		_ = c.CloseNow()
	}()

	ctx := context.Background()
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var req struct {
			ID     int64           `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.mu.Lock()
		s.calls[req.Method]++
		s.mu.Unlock()

		if s.Noise.Load() {
			ev, _ := json.Marshal(map[string]any{"method": "Runtime.consoleAPICalled", "params": map[string]any{"type": "log"}})
			if err := c.Write(ctx, websocket.MessageText, ev); err != nil {
				return
			}
		}

		var result any = map[string]any{}
		var rpcErr *cdp.RPCError
		if s.handler != nil {
			result, rpcErr = s.handler(req.Method, req.Params)
		}
		if result == NoReply {
			continue
		}
		reply := map[string]any{"id": req.ID}
		if rpcErr != nil {
			reply["error"] = rpcErr
		} else {
			if result == nil {
				result = map[string]any{}
			}
			reply["result"] = result
		}
		out, _ := json.Marshal(reply)
		if err := c.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// EvaluateResult builds a Runtime.evaluate reply carrying value by value.
func EvaluateResult(value any) map[string]any {
	return map[string]any{"result": map[string]any{"type": "object", "value": value}}
}
