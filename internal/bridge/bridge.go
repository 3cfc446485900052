// Package bridge speaks the warden's JSON protocol to the browser
// extension bridge over a WebSocket. The bridge side owns the real
// chrome.tabs / chrome.tabGroups mutations and forwards tab lifecycle
// events; this side correlates requests with responses and fans events
// out to registered handlers.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/tab_warden/internal/blocklist"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client is a WebSocket client for the extension bridge. It implements
// tabs.Resource.
type Client struct {
	wsURL string

	mu    sync.Mutex
	conn  net.Conn
	rw    io.ReadWriter
	queue *eventQueue
	seq   atomic.Int64

	pending   map[int64]chan envelope
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[tabs.EventKind][]eventHandler
}

// readWriter splits the read and write halves of the connection so the
// read side can go through the handshake's buffered reader.
type readWriter struct {
	io.Reader
	io.Writer
}

type eventHandler struct {
	id int64
	fn func(tabs.Event)
}

// envelope is the wire frame in both directions. Requests carry id,
// method, params; responses echo id with result or error; events arrive
// id-less with method "event".
type envelope struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient creates a bridge client for the given ws:// URL.
func NewClient(wsURL string) *Client {
	return &Client{
		wsURL:         wsURL,
		pending:       make(map[int64]chan envelope),
		eventHandlers: make(map[tabs.EventKind][]eventHandler),
	}
}

// Connect dials the bridge endpoint and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	slog.Debug("bridge connecting", "ws_url", c.wsURL)
	conn, br, _, err := ws.Dial(ctx, c.wsURL)
	if err != nil {
		return fmt.Errorf("bridge: dial: %w", err)
	}

	c.conn = conn
	// The bridge starts pushing events immediately; frames that arrived
	// in the same flight as the handshake response sit in br and must
	// not be discarded.
	if br != nil {
		c.rw = readWriter{Reader: br, Writer: conn}
	} else {
		c.rw = conn
	}
	c.pending = make(map[int64]chan envelope)
	c.queue = newEventQueue()
	go c.readLoop()
	go c.eventLoop(c.queue)
	return nil
}

// Close drops the connection. In-flight calls fail with BRIDGE_GONE.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return nil
}

// readLoop routes responses to waiters and queues events. Events are
// never dispatched here: a handler is free to issue bridge calls, and
// those calls wait on responses only this loop can read.
func (c *Client) readLoop() {
	c.mu.Lock()
	rw, queue := c.rw, c.queue
	c.mu.Unlock()

	for {
		c.mu.Lock()
		alive := c.conn != nil
		c.mu.Unlock()
		if !alive {
			queue.close()
			return
		}

		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			slog.Debug("bridge read loop exit", "error", err)
			c.closeAllPending()
			queue.close()
			return
		}

		var msg envelope
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		} else if msg.Method == "event" {
			queue.push(msg.Params)
		}
	}
}

// eventLoop drains queued events in arrival order, one handler at a
// time, off the read loop.
func (c *Client) eventLoop(queue *eventQueue) {
	for {
		raw, ok := queue.pop()
		if !ok {
			return
		}
		c.dispatchEvent(raw)
	}
}

// eventQueue is an unbounded FIFO between the read loop and the event
// loop. Unbounded on purpose: the read loop must never block on a slow
// handler, or in-flight calls stall behind it.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []json.RawMessage
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(raw json.RawMessage) {
	q.mu.Lock()
	if !q.closed {
		q.items = append(q.items, raw)
	}
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an item is available or the queue closes.
func (q *eventQueue) pop() (json.RawMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	raw := q.items[0]
	q.items = q.items[1:]
	return raw, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (c *Client) closeAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) deletePending(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// call sends a request and decodes the matching response's result into
// out (when out is non-nil). Bridge-reported failures come back as
// *tabs.BridgeError.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return tabs.NewBridgeError(tabs.CodeBridgeGone, "not connected")
	}

	id := c.seq.Add(1)
	req := envelope{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("bridge: marshal %s params: %w", method, err)
		}
		req.Params = raw
	}

	ch := make(chan envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		c.deletePending(id)
		return fmt.Errorf("bridge: marshal %s: %w", method, err)
	}

	c.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	c.mu.Unlock()
	if err != nil {
		c.deletePending(id)
		return tabs.NewBridgeError(tabs.CodeBridgeGone, err.Error())
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return tabs.NewBridgeError(tabs.CodeBridgeGone, "connection closed")
		}
		if resp.Error != nil {
			return tabs.NewBridgeError(resp.Error.Code, resp.Error.Message)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("bridge: unmarshal %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.deletePending(id)
		return ctx.Err()
	}
}

// --- tabs.Resource ---

func (c *Client) QueryTabs(ctx context.Context, q tabs.Query) ([]tabs.Tab, error) {
	var out struct {
		Tabs []tabs.Tab `json:"tabs"`
	}
	if err := c.call(ctx, "tabs.query", q, &out); err != nil {
		return nil, err
	}
	return out.Tabs, nil
}

func (c *Client) GetTab(ctx context.Context, tabID int) (tabs.Tab, error) {
	params := struct {
		TabID int `json:"tab_id"`
	}{TabID: tabID}

	var out tabs.Tab
	if err := c.call(ctx, "tabs.get", params, &out); err != nil {
		return tabs.Tab{}, err
	}
	return out, nil
}

func (c *Client) GroupTabs(ctx context.Context, tabIDs []int, groupID int) (int, error) {
	params := struct {
		TabIDs  []int `json:"tab_ids"`
		GroupID int   `json:"group_id"`
	}{TabIDs: tabIDs, GroupID: groupID}

	var out struct {
		GroupID int `json:"group_id"`
	}
	if err := c.call(ctx, "tabs.group", params, &out); err != nil {
		return 0, err
	}
	return out.GroupID, nil
}

func (c *Client) UngroupTabs(ctx context.Context, tabIDs []int) error {
	params := struct {
		TabIDs []int `json:"tab_ids"`
	}{TabIDs: tabIDs}
	return c.call(ctx, "tabs.ungroup", params, nil)
}

func (c *Client) GetGroup(ctx context.Context, groupID int) (tabs.Group, error) {
	params := struct {
		GroupID int `json:"group_id"`
	}{GroupID: groupID}

	var out tabs.Group
	if err := c.call(ctx, "groups.get", params, &out); err != nil {
		return tabs.Group{}, err
	}
	return out, nil
}

func (c *Client) QueryGroups(ctx context.Context, q tabs.GroupQuery) ([]tabs.Group, error) {
	var out struct {
		Groups []tabs.Group `json:"groups"`
	}
	if err := c.call(ctx, "groups.query", q, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (c *Client) UpdateGroup(ctx context.Context, groupID int, u tabs.GroupUpdate) error {
	params := struct {
		GroupID int     `json:"group_id"`
		Title   *string `json:"title,omitempty"`
		Color   *string `json:"color,omitempty"`
	}{GroupID: groupID, Title: u.Title, Color: u.Color}
	return c.call(ctx, "groups.update", params, nil)
}

func (c *Client) CreateWindow(ctx context.Context, url string) (tabs.Window, error) {
	params := struct {
		URL string `json:"url"`
	}{URL: url}

	var out tabs.Window
	if err := c.call(ctx, "windows.create", params, &out); err != nil {
		return tabs.Window{}, err
	}
	return out, nil
}

// GetCategory asks the bridge's safety service to classify a URL. It
// satisfies blocklist.CategoryResolver.
func (c *Client) GetCategory(ctx context.Context, url string) (blocklist.Category, error) {
	params := struct {
		URL string `json:"url"`
	}{URL: url}

	var out struct {
		Category string `json:"category"`
	}
	if err := c.call(ctx, "safety.classify", params, &out); err != nil {
		return blocklist.CategoryUnset, err
	}
	return blocklist.Category(out.Category), nil
}

// --- event dispatch ---

// RegisterHandler registers a handler for a tab event kind. Returns an
// unregister function. The hub is the only expected caller; it keeps
// one handler per kind and reference-counts its own subscriptions.
func (c *Client) RegisterHandler(kind tabs.EventKind, fn func(tabs.Event)) func() {
	id := c.seq.Add(1)
	c.eventMu.Lock()
	c.eventHandlers[kind] = append(c.eventHandlers[kind], eventHandler{id: id, fn: fn})
	c.eventMu.Unlock()
	return func() {
		c.eventMu.Lock()
		defer c.eventMu.Unlock()
		handlers := c.eventHandlers[kind]
		for i, h := range handlers {
			if h.id == id {
				c.eventHandlers[kind] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (c *Client) dispatchEvent(params json.RawMessage) {
	var ev tabs.Event
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("bridge: bad event payload", "error", err)
		return
	}

	c.eventMu.RLock()
	handlers := make([]eventHandler, len(c.eventHandlers[ev.Kind]))
	copy(handlers, c.eventHandlers[ev.Kind])
	c.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(ev)
	}
}
