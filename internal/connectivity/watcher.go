// Package connectivity tells the agent whether the remote is reachable.
// The Watcher keeps a websocket open to the remote update feed and uses
// the connection itself as the network signal.
package connectivity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// Static is a fixed connectivity answer
type Static bool

// Online returns the fixed value
func (s Static) Online() bool { return bool(s) }

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = time.Minute
	handshakeTimeout  = 10 * time.Second
)

// Watcher maintains the feed connection and reports transitions
type Watcher struct {
	url    string
	apiKey string
	dialer *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration

	online      atomic.Bool
	reconnected chan struct{}
	updates     chan struct{}
}

// NewWatcher creates a watcher for the feed at url (ws:// or wss://)
func NewWatcher(url, apiKey string) *Watcher {
	return &Watcher{
		url:         url,
		apiKey:      apiKey,
		dialer:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		reconnected: make(chan struct{}, 1),
		updates:     make(chan struct{}, 1),
	}
}

// WithBackoff sets the reconnect delay bounds
func (w *Watcher) WithBackoff(min, max time.Duration) *Watcher {
	w.minBackoff = min
	w.maxBackoff = max
	return w
}

// Online reports whether the feed connection is currently up
func (w *Watcher) Online() bool {
	return w.online.Load()
}

// Reconnected receives each time the connection is (re)established
func (w *Watcher) Reconnected() <-chan struct{} {
	return w.reconnected
}

// Updates receives when the remote announces stored changes
func (w *Watcher) Updates() <-chan struct{} {
	return w.updates
}

// Run connects and reconnects until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	slog.Info("connectivity watcher started", "url", w.url)
	backoff := w.minBackoff

	for {
		connected := w.session(ctx)
		if ctx.Err() != nil {
			slog.Info("connectivity watcher stopped")
			return
		}
		if connected {
			backoff = w.minBackoff
		}

		slog.Debug("feed reconnect scheduled", "in", backoff)
		select {
		case <-ctx.Done():
			slog.Info("connectivity watcher stopped")
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}
	}
}

// session runs one connection; it reports whether the dial succeeded
func (w *Watcher) session(ctx context.Context) bool {
	header := http.Header{}
	if w.apiKey != "" {
		header.Set("X-API-Key", w.apiKey)
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		slog.Debug("feed dial failed", "error", err, "status", status)
		return false
	}
	defer conn.Close()

	w.online.Store(true)
	defer w.online.Store(false)
	slog.Info("remote reachable")
	signal(w.reconnected)

	// Unblock the read loop on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("remote unreachable", "error", err)
			}
			return true
		}

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("ignoring malformed feed message", "error", err)
			continue
		}
		if ev.Type == models.EventAssessmentsUpdated {
			slog.Debug("remote update announced", "ids", ev.IDs)
			signal(w.updates)
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
