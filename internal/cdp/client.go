package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperr "github.com/GriffinCanCode/tablewatch/internal/errors"
)

// VersionInfo is the /json/version document.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	V8Version            string `json:"V8-Version"`
	WebKitVersion        string `json:"WebKit-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Tab is one debuggable target from /json.
type Tab struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl,omitempty"`
}

// Client talks to the browser's HTTP debugging endpoint.
type Client struct {
	base string
	http *http.Client
}

// Endpoint formats the debugging base URL for host and port.
func Endpoint(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// NewClient targets baseURL (e.g. http://localhost:9222).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) BaseURL() string { return c.base }

// Version fetches /json/version; success means the endpoint is alive.
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	err := c.getJSON(ctx, http.MethodGet, "/json/version", &v)
	return v, err
}

// Tabs lists debuggable targets.
func (c *Client) Tabs(ctx context.Context) ([]Tab, error) {
	var tabs []Tab
	err := c.getJSON(ctx, http.MethodGet, "/json", &tabs)
	return tabs, err
}

// NewTab opens target in a new tab. Newer Chrome builds reject GET here, so
// a 405 is retried as PUT.
func (c *Client) NewTab(ctx context.Context, target string) (Tab, error) {
	path := "/json/new?" + url.QueryEscape(target)
	var tab Tab
	err := c.getJSON(ctx, http.MethodGet, path, &tab)
	if apperr.IsCode(err, apperr.CodeProtocol) && strings.Contains(err.Error(), "405") {
		err = c.getJSON(ctx, http.MethodPut, path, &tab)
	}
	return tab, err
}

func (c *Client) getJSON(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInvalidArgument, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return apperr.Wrapf(err, apperr.CodeTimeout, "%s %s", method, path)
		}
		return apperr.Wrapf(err, apperr.CodeConnectionFailed, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeConnectionFailed, "read %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return apperr.Newf(apperr.CodeProtocol, "%s %s: status %d", method, path, resp.StatusCode).
			WithMetadata("body", truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Wrapf(err, apperr.CodeInvalidPayload, "decode %s", path)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...(%d bytes)", s[:n], len(s))
}

// SelectTab returns the first page target with a debugger URL whose URL or
// title contains filter, case-insensitively.
func SelectTab(tabs []Tab, filter string) (Tab, bool) {
	f := strings.ToLower(filter)
	for _, t := range tabs {
		if t.WebSocketDebuggerURL == "" {
			continue
		}
		if t.Type != "" && t.Type != "page" {
			continue
		}
		if strings.Contains(strings.ToLower(t.URL), f) || strings.Contains(strings.ToLower(t.Title), f) {
			return t, true
		}
	}
	return Tab{}, false
}
