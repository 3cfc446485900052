// Package messenger delivers warden messages to a tab's in-page agent
// over CDP. The bridge knows tabs by extension id; CDP knows them by
// target id. The two are correlated by URL at send time, which is good
// enough for best-effort delivery and avoids holding a per-tab session
// open for every tracked tab.
package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// URLResolver maps a bridge tab id to its current URL.
type URLResolver func(ctx context.Context, tabID int) (string, error)

// CDPMessenger sends messages into pages via Runtime.evaluate.
type CDPMessenger struct {
	resolve URLResolver

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// New creates a CDPMessenger against the given CDP HTTP endpoint.
func New(cdpURL string, resolve URLResolver) *CDPMessenger {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	return &CDPMessenger{
		resolve:     resolve,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// Close releases the allocator.
func (m *CDPMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
	}
	return nil
}

// Send posts the message into the tab's page via window.postMessage.
// Failures are returned for logging but callers treat them as
// non-fatal.
func (m *CDPMessenger) Send(ctx context.Context, tabID int, message map[string]any) error {
	url, err := m.resolve(ctx, tabID)
	if err != nil {
		return fmt.Errorf("messenger: resolve tab %d: %w", tabID, err)
	}

	targetID, err := m.findTarget(ctx, url)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("messenger: marshal: %w", err)
	}

	m.mu.Lock()
	allocCtx := m.allocCtx
	m.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(targetID))
	defer cancel()

	js := fmt.Sprintf("window.postMessage(%s, '*'); true", payload)
	var ok bool
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("messenger: evaluate on tab %d: %w", tabID, err)
	}

	slog.Debug("messenger: delivered", "tab_id", tabID, "target_id", targetID)
	return nil
}

// findTarget locates the page target currently showing the URL.
func (m *CDPMessenger) findTarget(ctx context.Context, url string) (target.ID, error) {
	m.mu.Lock()
	allocCtx := m.allocCtx
	m.mu.Unlock()

	tempCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return "", fmt.Errorf("messenger: enumerate targets: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.URL == url {
			return t.TargetID, nil
		}
	}
	return "", fmt.Errorf("messenger: no page target for %q", url)
}
