// Package client is a Go model of the explorer widget. It keeps the local
// control state, coalesces high-frequency input and speaks the session
// protocol of the tdtpexplore HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/pkg/coalesce"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
	"github.com/ruslano69/tdtp-explorer/pkg/reconcile"
)

// Debounce delays for the high-frequency controls.
const (
	SearchDelay = 500 * time.Millisecond
	RangeDelay  = 400 * time.Millisecond
)

var (
	// ErrNoSession is returned before Open succeeds.
	ErrNoSession = errors.New("client: no open session")
	// ErrRejected is returned when the backend discards a message.
	ErrRejected = errors.New("client: message rejected")
	// ErrUnavailable wraps transport failures.
	ErrUnavailable = errors.New("client: backend unavailable")
)

// Response is the backend's answer to one state message.
type Response struct {
	Decision  reconcile.Decision `json:"decision"`
	Fallbacks []string           `json:"fallbacks,omitempty"`
	Payload   *reconcile.Payload `json:"payload,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithLogger sets the logger for background emissions.
func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// OnPayload registers a callback run after every received payload.
func OnPayload(fn func(*reconcile.Payload)) Option { return func(c *Client) { c.onPayload = fn } }

// WithDelays overrides the search and range debounce delays.
func WithDelays(search, ranges time.Duration) Option {
	return func(c *Client) { c.searchDelay, c.rangeDelay = search, ranges }
}

// Client is one widget instance bound to one backend session.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      zerolog.Logger
	onPayload   func(*reconcile.Payload)
	searchDelay time.Duration
	rangeDelay  time.Duration
	co          *coalesce.Coalescer

	mu        sync.Mutex
	sessionID string
	local     state.Snapshot
	bounds    state.Ranges
	parents   map[string]string // subcategory -> category
	last      *reconcile.Payload
	lastErr   error
	sent      int
}

// New returns a client for the API at baseURL, e.g. "http://localhost:8501".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      zerolog.Nop(),
		searchDelay: SearchDelay,
		rangeDelay:  RangeDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.co = coalesce.New(c.emit)
	return c
}

// Open starts a session and adopts its initial payload.
func (c *Client) Open(ctx context.Context) (*reconcile.Payload, error) {
	var resp struct {
		SessionID string             `json:"session_id"`
		Payload   *reconcile.Payload `json:"payload"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/sessions", nil, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" || resp.Payload == nil {
		return nil, fmt.Errorf("%w: empty session response", ErrUnavailable)
	}

	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.mu.Unlock()
	c.apply(resp.Payload, true)
	return resp.Payload, nil
}

// Session returns the backend session id.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// State returns the local control state.
func (c *Client) State() state.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Payload returns the last payload received.
func (c *Client) Payload() *reconcile.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Sent returns how many state messages were posted.
func (c *Client) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// Err returns and clears the last error of a background emission.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.lastErr
	c.lastErr = nil
	return err
}

// ────────────────────────────────────────────────────────────────────────────
// Controls
// ────────────────────────────────────────────────────────────────────────────

// SetSearch updates the search text. Emission is debounced.
func (c *Client) SetSearch(text string) {
	c.update(func(s *state.Snapshot) { s.Filters.Search = strings.TrimSpace(text) })
	c.co.Debounce("search", c.searchDelay, nil)
}

// SetRange updates one numeric range ("pledged", "goal" or "raised").
// Emission is debounced per range.
func (c *Client) SetRange(name string, lo, hi float64) error {
	if lo > hi {
		lo, hi = hi, lo
	}
	r := state.NumericRange{Min: lo, Max: hi}
	var err error
	c.update(func(s *state.Snapshot) {
		switch name {
		case "pledged":
			s.Filters.Ranges.Pledged = r
		case "goal":
			s.Filters.Ranges.Goal = r
		case "raised":
			s.Filters.Ranges.Raised = r
		default:
			err = fmt.Errorf("client: unknown range %q", name)
		}
	})
	if err != nil {
		return err
	}
	c.co.Debounce("range."+name, c.rangeDelay, nil)
	return nil
}

// SetCategories replaces the category selection.
func (c *Client) SetCategories(ctx context.Context, values ...string) (*Response, error) {
	c.update(func(s *state.Snapshot) {
		s.Filters.Categories = state.NewSelection(state.AllCategories, values...)
	})
	return c.immediate(ctx, "categories")
}

// SetSubcategories replaces the subcategory selection. Picking a subcategory
// whose parent category is not selected adds that parent.
func (c *Client) SetSubcategories(ctx context.Context, values ...string) (*Response, error) {
	c.mu.Lock()
	sel := state.NewSelection(state.AllSubcategories, values...)
	c.local.Filters.Subcategories = sel
	cats := c.local.Filters.Categories.Values(state.AllCategories)
	for _, sub := range sel.Values(state.AllSubcategories) {
		parent, ok := c.parents[sub]
		if ok && !c.local.Filters.Categories.Contains(parent) {
			cats = append(cats, parent)
			c.local.Filters.Categories = state.NewSelection(state.AllCategories, cats...)
		}
	}
	c.local.Page = 1
	c.mu.Unlock()
	return c.immediate(ctx, "subcategories")
}

// SetCountries replaces the country selection.
func (c *Client) SetCountries(ctx context.Context, values ...string) (*Response, error) {
	c.update(func(s *state.Snapshot) {
		s.Filters.Countries = state.NewSelection(state.AllCountries, values...)
	})
	return c.immediate(ctx, "countries")
}

// SetStates replaces the project state selection.
func (c *Client) SetStates(ctx context.Context, values ...string) (*Response, error) {
	c.update(func(s *state.Snapshot) {
		s.Filters.States = state.NewSelection(state.AllStates, values...)
	})
	return c.immediate(ctx, "states")
}

// SetDate selects a date range.
func (c *Client) SetDate(ctx context.Context, d state.DateRange) (*Response, error) {
	c.update(func(s *state.Snapshot) { s.Filters.Date = d })
	return c.immediate(ctx, "date")
}

// SetSort selects a sort order.
func (c *Client) SetSort(ctx context.Context, o state.SortOrder) (*Response, error) {
	c.update(func(s *state.Snapshot) { s.SortOrder = o })
	return c.immediate(ctx, "sort")
}

// SetPage moves to page n without touching the filters.
func (c *Client) SetPage(ctx context.Context, n int) (*Response, error) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.local.Page = n
	c.mu.Unlock()
	return c.immediate(ctx, "page")
}

// NextPage moves forward one page if there is one.
func (c *Client) NextPage(ctx context.Context) (*Response, error) {
	c.mu.Lock()
	next := c.local.Page + 1
	if c.last != nil && next > c.last.TotalPages {
		c.mu.Unlock()
		return nil, nil
	}
	c.mu.Unlock()
	return c.SetPage(ctx, next)
}

// PrevPage moves back one page if there is one.
func (c *Client) PrevPage(ctx context.Context) (*Response, error) {
	c.mu.Lock()
	prev := c.local.Page - 1
	c.mu.Unlock()
	if prev < 1 {
		return nil, nil
	}
	return c.SetPage(ctx, prev)
}

// ResetFilters restores every control to its default and emits at once.
func (c *Client) ResetFilters(ctx context.Context) (*Response, error) {
	c.mu.Lock()
	size := 0
	if c.last != nil {
		size = c.last.PageSize
	}
	c.local = state.Defaults(c.bounds, size).Snapshot()
	c.mu.Unlock()
	return c.immediate(ctx, "reset")
}

// Flush sends pending debounced input now.
func (c *Client) Flush() { c.co.Flush() }

// Close drops pending input and ends the backend session.
func (c *Client) Close(ctx context.Context) error {
	c.co.Stop()
	id := c.Session()
	if id == "" {
		return nil
	}
	_, err := c.do(ctx, http.MethodDelete, "/api/sessions/"+id, nil, http.StatusNoContent, nil)
	return err
}

// Export downloads the committed query as XLSX into w and returns the number
// of bytes written.
func (c *Client) Export(ctx context.Context, w io.Writer) (int64, error) {
	id := c.Session()
	if id == "" {
		return 0, ErrNoSession
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sessions/"+id+"/export.xlsx", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}
	return io.Copy(w, resp.Body)
}

// ────────────────────────────────────────────────────────────────────────────
// Emission
// ────────────────────────────────────────────────────────────────────────────

// update applies a filter or sort change. Any such change returns to page 1.
func (c *Client) update(fn func(*state.Snapshot)) {
	c.mu.Lock()
	fn(&c.local)
	c.local.Page = 1
	c.mu.Unlock()
}

type immediateResult struct {
	resp *Response
	err  error
}

func (c *Client) immediate(ctx context.Context, control string) (*Response, error) {
	ch := make(chan immediateResult, 1)
	c.co.Immediate(control, immediateCall{ctx: ctx, result: ch})
	select {
	case r := <-ch:
		return r.resp, r.err
	default:
		// Stopped coalescers emit nothing.
		return nil, ErrNoSession
	}
}

type immediateCall struct {
	ctx    context.Context
	result chan immediateResult
}

// emit is the coalescer callback. Debounced emissions run on timer
// goroutines and report failures through Err.
func (c *Client) emit(control string, value any) {
	if call, ok := value.(immediateCall); ok {
		resp, err := c.send(call.ctx)
		call.result <- immediateResult{resp, err}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout+time.Second)
	defer cancel()
	if _, err := c.send(ctx); err != nil {
		c.logger.Warn().Err(err).Str("control", control).Msg("state message failed")
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
	}
}

// send posts the whole local state.
func (c *Client) send(ctx context.Context) (*Response, error) {
	c.mu.Lock()
	id := c.sessionID
	body, err := json.Marshal(c.local)
	c.mu.Unlock()
	if id == "" {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	var resp Response
	status, err := c.do(ctx, http.MethodPost, "/api/sessions/"+id+"/state", body, 0, &resp)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.sent++
	c.mu.Unlock()

	if status == http.StatusUnprocessableEntity {
		return &resp, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	if resp.Payload != nil {
		c.apply(resp.Payload, false)
	}
	return &resp, nil
}

// apply syncs the local state with a payload. The page always follows the
// backend; filters and sort follow only when no local input is pending.
func (c *Client) apply(p *reconcile.Payload, initial bool) {
	pending := c.co.Pending() > 0

	c.mu.Lock()
	c.last = p
	c.local.Page = p.CurrentPage
	if initial || !pending {
		c.local.Filters = p.Filters
		c.local.SortOrder = p.SortOrder
	}
	c.bounds = p.MinMaxValues
	c.parents = parentsOf(p.CategorySubcategoryMap)
	c.mu.Unlock()

	if c.onPayload != nil {
		c.onPayload(p)
	}
}

// parentsOf inverts the category map. A subcategory listed under several
// categories maps to the alphabetically first one.
func parentsOf(m state.CategoryMap) map[string]string {
	cats := make([]string, 0, len(m))
	for cat := range m {
		if cat != state.AllCategories {
			cats = append(cats, cat)
		}
	}
	sort.Strings(cats)

	parents := make(map[string]string)
	for _, cat := range cats {
		for _, sub := range m[cat] {
			if sub == state.AllSubcategories {
				continue
			}
			if _, seen := parents[sub]; !seen {
				parents[sub] = cat
			}
		}
	}
	return parents
}

// do runs one JSON request. want == 0 accepts 200 and 422.
func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == want
	if want == 0 {
		ok = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnprocessableEntity
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, ErrNoSession
	}
	if !ok {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("%w: HTTP %d: %s", ErrUnavailable, resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
