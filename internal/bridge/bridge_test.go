package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dgnsrekt/tab_warden/internal/blocklist"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
	"github.com/gobwas/ws/wsutil"
)

// pipeClient wires a Client to an in-process fake bridge over net.Pipe.
func pipeClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	c := NewClient("ws://test")
	c.conn = clientConn
	c.rw = clientConn
	c.queue = newEventQueue()
	go c.readLoop()
	go c.eventLoop(c.queue)
	t.Cleanup(func() {
		_ = c.Close()
		_ = serverConn.Close()
	})
	return c, serverConn
}

// serveOne reads one request off the server side and replies with the
// given result or error.
func serveOne(t *testing.T, server net.Conn, result any, wireErr *wireError) {
	t.Helper()

	go func() {
		data, err := wsutil.ReadClientText(server)
		if err != nil {
			return
		}
		var req envelope
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		resp := envelope{ID: req.ID, Error: wireErr}
		if result != nil {
			raw, _ := json.Marshal(result)
			resp.Result = raw
		}
		out, _ := json.Marshal(resp)
		_ = wsutil.WriteServerText(server, out)
	}()
}

func TestGetTabDecodesResult(t *testing.T) {
	c, server := pipeClient(t)
	serveOne(t, server, tabs.Tab{ID: 7, GroupID: 3, URL: "https://example.com"}, nil)

	tab, err := c.GetTab(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetTab() failed: %v", err)
	}
	if tab.ID != 7 || tab.GroupID != 3 {
		t.Fatalf("GetTab() = %+v; want id 7 group 3", tab)
	}
}

func TestCallClassifiesBridgeErrors(t *testing.T) {
	c, server := pipeClient(t)
	serveOne(t, server, nil, &wireError{Code: tabs.CodeTabDragging, Message: "drag in progress"})

	_, err := c.GroupTabs(context.Background(), []int{1}, tabs.GroupIDNone)
	if err == nil {
		t.Fatal("GroupTabs() succeeded; want dragging error")
	}
	if !tabs.IsDragging(err) {
		t.Fatalf("IsDragging(%v) = false; want true", err)
	}
	if tabs.IsTransient(err) {
		t.Fatalf("IsTransient(%v) = true; want false", err)
	}
}

func TestCallFailsWhenNotConnected(t *testing.T) {
	c := NewClient("ws://test")
	_, err := c.GetTab(context.Background(), 1)
	if err == nil {
		t.Fatal("GetTab() succeeded without a connection")
	}
	var be *tabs.BridgeError
	if !asBridgeError(err, &be) || be.Code != tabs.CodeBridgeGone {
		t.Fatalf("GetTab() = %v; want BRIDGE_GONE", err)
	}
}

func TestEventDispatchAndUnregister(t *testing.T) {
	c, server := pipeClient(t)

	got := make(chan tabs.Event, 2)
	unreg := c.RegisterHandler(tabs.EventUpdated, func(ev tabs.Event) {
		got <- ev
	})

	writeEvent := func(ev tabs.Event) {
		params, _ := json.Marshal(ev)
		out, _ := json.Marshal(envelope{Method: "event", Params: params})
		_ = wsutil.WriteServerText(server, out)
	}

	writeEvent(tabs.Event{Kind: tabs.EventUpdated, TabID: 12, GroupID: 4})

	select {
	case ev := <-got:
		if ev.TabID != 12 || ev.GroupID != 4 {
			t.Fatalf("event = %+v; want tab 12 group 4", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	unreg()
	writeEvent(tabs.Event{Kind: tabs.EventUpdated, TabID: 13})

	select {
	case ev := <-got:
		t.Fatalf("received event %+v after unregister", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGetCategoryDecodesResult(t *testing.T) {
	c, server := pipeClient(t)
	serveOne(t, server, map[string]string{"category": "org-blocked"}, nil)

	cat, err := c.GetCategory(context.Background(), "https://blocked.example")
	if err != nil {
		t.Fatalf("GetCategory() failed: %v", err)
	}
	if cat != blocklist.CategoryOrgBlocked {
		t.Fatalf("GetCategory() = %q; want org-blocked", cat)
	}
}

func TestHandlerCanCallBackOverSameConnection(t *testing.T) {
	c, server := pipeClient(t)

	// The handler issues a bridge call of its own; that only completes
	// when events are dispatched off the read loop.
	done := make(chan error, 1)
	c.RegisterHandler(tabs.EventUpdated, func(ev tabs.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := c.GetTab(ctx, ev.TabID)
		done <- err
	})

	go func() {
		params, _ := json.Marshal(tabs.Event{Kind: tabs.EventUpdated, TabID: 4})
		out, _ := json.Marshal(envelope{Method: "event", Params: params})
		if err := wsutil.WriteServerText(server, out); err != nil {
			return
		}

		data, err := wsutil.ReadClientText(server)
		if err != nil {
			return
		}
		var req envelope
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		raw, _ := json.Marshal(tabs.Tab{ID: 4})
		resp, _ := json.Marshal(envelope{ID: req.ID, Result: raw})
		_ = wsutil.WriteServerText(server, resp)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("call from event handler failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for handler's call")
	}
}

func TestFrameBufferedAtHandshakeIsDispatched(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	c := NewClient("ws://test")

	// A frame already sitting in the handshake's buffered reader, as
	// when the bridge pushes an event in the same flight as the
	// upgrade response.
	var buffered bytes.Buffer
	params, _ := json.Marshal(tabs.Event{Kind: tabs.EventUpdated, TabID: 21})
	frame, _ := json.Marshal(envelope{Method: "event", Params: params})
	if err := wsutil.WriteServerText(&buffered, frame); err != nil {
		t.Fatalf("write buffered frame: %v", err)
	}

	got := make(chan tabs.Event, 1)
	c.RegisterHandler(tabs.EventUpdated, func(ev tabs.Event) { got <- ev })

	c.conn = clientConn
	c.rw = readWriter{
		Reader: bufio.NewReader(io.MultiReader(&buffered, clientConn)),
		Writer: clientConn,
	}
	c.queue = newEventQueue()
	go c.readLoop()
	go c.eventLoop(c.queue)
	t.Cleanup(func() {
		_ = c.Close()
		_ = serverConn.Close()
	})

	select {
	case ev := <-got:
		if ev.TabID != 21 {
			t.Fatalf("event = %+v; want tab 21", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("buffered event never dispatched")
	}
}

func asBridgeError(err error, target **tabs.BridgeError) bool {
	be, ok := err.(*tabs.BridgeError)
	if ok {
		*target = be
	}
	return ok
}
