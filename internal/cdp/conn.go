package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

// RPCError is a CDP-level error object.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return e.Message + ": " + e.Data
	}
	return e.Message
}

// Event is an unsolicited message from the browser.
type Event struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *RPCError       `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// DialOptions tunes a session.
type DialOptions struct {
	CommandTimeout time.Duration
	EventBuffer    int
	ReadLimit      int64
}

// Conn is one WebSocket session to a tab. A single reader goroutine routes
// replies to their callers by id and everything else to Events.
type Conn struct {
	ws      *websocket.Conn
	timeout time.Duration

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan message

	events  chan Event
	dropped atomic.Int64

	cancelRead context.CancelFunc
	readerDone chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	err        error
}

// Dial opens a session to wsURL. ctx bounds the handshake only.
func Dial(ctx context.Context, wsURL string, opts DialOptions) (*Conn, error) {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}

	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrapf(err, apperr.CodeTimeout, "dial %s", wsURL)
		}
		return nil, apperr.Wrapf(err, apperr.CodeConnectionFailed, "dial %s", wsURL)
	}
	ws.SetReadLimit(opts.ReadLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:         ws,
		timeout:    opts.CommandTimeout,
		pending:    make(map[int64]chan message),
		events:     make(chan Event, opts.EventBuffer),
		cancelRead: cancel,
		readerDone: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go c.readLoop(readCtx)
	return c, nil
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.readerDone)
	defer close(c.events)
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.shutdown(apperr.Wrap(err, apperr.CodeConnectionFailed, "cdp session closed"))
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("discarding malformed cdp frame", "error", err)
			continue
		}
		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			} else {
				slog.Debug("reply for unknown request", "id", msg.ID)
			}
			continue
		}
		if msg.Method == "" {
			continue
		}
		select {
		case c.events <- Event{Method: msg.Method, Params: msg.Params, SessionID: msg.SessionID}:
		default:
			c.dropped.Add(1)
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = make(map[int64]chan message)
		c.mu.Unlock()
		close(c.closed)
	})
}

// Call sends method with params and decodes the reply's result into result
// (which may be nil). The call fails after the command timeout unless ctx
// ends first.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return apperr.Wrapf(err, apperr.CodeInvalidArgument, "encode %s params", method)
		}
		raw = b
	}

	id := c.nextID.Add(1)
	ch := make(chan message, 1)
	c.mu.Lock()
	if c.isClosed() {
		err := c.err
		c.mu.Unlock()
		return apperr.Wrapf(err, apperr.CodeConnectionFailed, "%s on closed session", method)
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	frame, err := json.Marshal(message{ID: id, Method: method, Params: raw})
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "encode frame")
	}
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		return c.ctxErr(ctx, err, method)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return apperr.Wrapf(msg.Error, apperr.CodeProtocol, "%s failed", method).
				WithMetadata("cdp_code", strconv.FormatInt(msg.Error.Code, 10))
		}
		if result != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, result); err != nil {
				return apperr.Wrapf(err, apperr.CodeInvalidPayload, "decode %s result", method)
			}
		}
		return nil
	case <-ctx.Done():
		return c.ctxErr(ctx, ctx.Err(), method)
	case <-c.closed:
		return apperr.Wrapf(c.Err(), apperr.CodeConnectionFailed, "%s interrupted", method)
	}
}

func (c *Conn) ctxErr(ctx context.Context, err error, method string) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.Wrapf(err, apperr.CodeTimeout, "%s timed out", method)
	case errors.Is(ctx.Err(), context.Canceled):
		return apperr.Wrapf(err, apperr.CodeCancelled, "%s cancelled", method)
	default:
		return apperr.Wrapf(err, apperr.CodeConnectionFailed, "%s write failed", method)
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Events delivers unsolicited messages. When the buffer is full new events
// are dropped; the channel closes with the session.
func (c *Conn) Events() <-chan Event { return c.events }

// DroppedEvents counts events discarded because nobody was reading.
func (c *Conn) DroppedEvents() int64 { return c.dropped.Load() }

// Done is closed when the session ends for any reason.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Alive reports whether the session is still open.
func (c *Conn) Alive() bool { return !c.isClosed() }

// Err is why the session ended, nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the session and fails pending calls. It is idempotent.
func (c *Conn) Close() error {
	wasOpen := !c.isClosed()
	c.shutdown(apperr.New(apperr.CodeConnectionFailed, "session closed by client"))
	if wasOpen {
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}
	_ = c.ws.CloseNow()
	c.cancelRead()
	<-c.readerDone
	return nil
}
