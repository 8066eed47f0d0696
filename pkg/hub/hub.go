// Package hub implements the Broadcast Hub (spec.md §4.6): a loopback
// WebSocket server that accepts subscribers, sends each a hello + recent
// history, then streams TranscriptionEvents to all connected subscribers,
// degrading slow subscribers to drops and then disconnection rather than
// ever back-pressuring the pipeline. Grounded on the teacher's server-side
// websocket.Accept + wsjson usage in pkg/providers/tts/lokutor_test.go
// (the teacher itself is a client, not a server, so the Accept-side idiom
// is taken from its own test harness).
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// Config controls subscriber queueing and disconnect policy.
type Config struct {
	BindAddress       string
	HistoryCap        int           // default 100
	SubscriberQueue   int           // default 256
	SlowClientGrace   time.Duration // default 30s
	MaxSubscribers    int           // default 32
	ShutdownDrainWait time.Duration // default 3s
}

// DefaultConfig returns spec.md's named defaults.
func DefaultConfig(bindAddress string) Config {
	return Config{
		BindAddress:       bindAddress,
		HistoryCap:        100,
		SubscriberQueue:   256,
		SlowClientGrace:   30 * time.Second,
		MaxSubscribers:    32,
		ShutdownDrainWait: 3 * time.Second,
	}
}

// Counters tracks the session-summary statistics this stage contributes.
type Counters struct {
	SlowClientDrops uint64
	Disconnected    uint64
}

// subscriber is a single connected client's send-side state, per spec.md's
// SubscriberState.
type subscriber struct {
	id          uint64
	connectedAt time.Time
	conn        *websocket.Conn
	queue       chan eventEnvelope
	slowMark    bool
	fullSince   time.Time
	closeOnce   sync.Once
	done        chan struct{}
}

// Hub holds the live subscriber set and recent event history.
type Hub struct {
	cfg   Config
	sess  *session.State

	mu          sync.Mutex
	subscribers map[uint64]*subscriber
	nextSubID   uint64
	history     []session.TranscriptionEvent
	counters    Counters

	httpServer *http.Server
}

// New builds a Hub bound to sess's session metadata, not yet listening.
func New(cfg Config, sess *session.State) *Hub {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 100
	}
	if cfg.SubscriberQueue <= 0 {
		cfg.SubscriberQueue = 256
	}
	if cfg.SlowClientGrace <= 0 {
		cfg.SlowClientGrace = 30 * time.Second
	}
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = 32
	}
	return &Hub{
		cfg:         cfg,
		sess:        sess,
		subscribers: make(map[uint64]*subscriber),
	}
}

// Counters returns a snapshot of this stage's session-summary statistics.
func (h *Hub) Counters() Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counters
}

// ListenAndServe starts the HTTP/WebSocket listener and blocks until ctx is
// cancelled, at which point it gives each subscriber up to ShutdownDrainWait
// to drain its queued events, sends it bye, closes it, and then closes the
// listener.
func (h *Hub) ListenAndServe(ctx context.Context) error {
	h.httpServer = &http.Server{Addr: h.cfg.BindAddress, Handler: h.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.httpServer.ListenAndServe()
	}()
	go h.watchSlowClients(ctx)

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		h.shutdown()
		return nil
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			deadline := time.Now().Add(h.cfg.ShutdownDrainWait)
			for len(s.queue) > 0 && time.Now().Before(deadline) {
				select {
				case <-s.done:
					return
				case <-time.After(10 * time.Millisecond):
				}
			}
			h.sendBye(s)
			h.disconnect(s)
		}(s)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(h.cfg.ShutdownDrainWait):
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.httpServer.Shutdown(shutdownCtx)
}

// Handler returns the HTTP handler that accepts subscriber connections,
// exposed so tests (and ListenAndServe) can mount it on any http.Server.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(h.handleWS)
}

// handleWS accepts one subscriber connection, runs its hello/history
// handshake, and starts its writer loop until it disconnects.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	if len(h.subscribers) >= h.cfg.MaxSubscribers {
		h.mu.Unlock()
		conn.Close(websocket.StatusPolicyViolation, "too many subscribers")
		return
	}
	h.nextSubID++
	sub := &subscriber{
		id:          h.nextSubID,
		connectedAt: time.Now(),
		conn:        conn,
		queue:       make(chan eventEnvelope, h.cfg.SubscriberQueue),
		done:        make(chan struct{}),
	}
	h.subscribers[sub.id] = sub
	historySnapshot := append([]session.TranscriptionEvent(nil), h.history...)
	h.mu.Unlock()

	ctx := r.Context()
	if err := wsjson.Write(ctx, conn, helloEnvelope{
		Type:        "hello",
		SessionID:   h.sess.ID,
		StartedAt:   h.sess.StartedAt,
		PrivacyMode: "local_only",
	}); err != nil {
		h.disconnect(sub)
		return
	}
	if len(historySnapshot) > 0 {
		if err := wsjson.Write(ctx, conn, historyEnvelope{Type: "history", Events: historySnapshot}); err != nil {
			h.disconnect(sub)
			return
		}
	}

	h.writeLoop(sub)
}

// writeLoop drains sub's outbound queue onto its connection until the
// connection errors, the hub closes it, or the queue has been stuck full
// past SlowClientGrace.
func (h *Hub) writeLoop(sub *subscriber) {
	defer h.disconnect(sub)

	for {
		select {
		case env, ok := <-sub.queue:
			if !ok {
				return
			}
			if err := wsjson.Write(context.Background(), sub.conn, env); err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

func (h *Hub) sendBye(sub *subscriber) {
	_ = wsjson.Write(context.Background(), sub.conn, byeEnvelope{Type: "bye"})
}

func (h *Hub) disconnect(sub *subscriber) {
	sub.closeOnce.Do(func() {
		close(sub.done)
		sub.conn.Close(websocket.StatusNormalClosure, "")
		h.mu.Lock()
		if _, ok := h.subscribers[sub.id]; ok {
			delete(h.subscribers, sub.id)
			h.counters.Disconnected++
		}
		h.mu.Unlock()
	})
}

// Broadcast delivers ev to every connected subscriber and appends it to
// the bounded history. Never blocks on a slow subscriber: a full queue is
// recorded as a drop and, once full for longer than SlowClientGrace, the
// subscriber is disconnected.
func (h *Hub) Broadcast(ev session.TranscriptionEvent) {
	h.mu.Lock()
	h.history = append(h.history, ev)
	if len(h.history) > h.cfg.HistoryCap {
		h.history = h.history[len(h.history)-h.cfg.HistoryCap:]
	}
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	env := eventEnvelope{Type: "event", TranscriptionEvent: ev}
	now := time.Now()
	for _, s := range subs {
		select {
		case s.queue <- env:
			h.markResponsive(s)
		default:
			h.mu.Lock()
			h.counters.SlowClientDrops++
			h.mu.Unlock()
			if h.markFullAndCheckGrace(s, now) {
				h.disconnect(s)
			}
		}
	}
}

// markResponsive clears s's slow-queue bookkeeping after a successful send.
func (h *Hub) markResponsive(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s.slowMark = false
}

// markFullAndCheckGrace records that s's queue was observed full at now,
// starting the grace clock on the first observation, and reports whether s
// has now been full for longer than SlowClientGrace.
func (h *Hub) markFullAndCheckGrace(s *subscriber, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !s.slowMark {
		s.slowMark = true
		s.fullSince = now
		return false
	}
	return now.Sub(s.fullSince) > h.cfg.SlowClientGrace
}

// watchSlowClients disconnects subscribers whose queue has been full for
// longer than SlowClientGrace even when no new event arrives to trigger the
// check inside Broadcast, so a subscriber that goes silent mid-backlog still
// gets dropped instead of lingering until the next event.
func (h *Hub) watchSlowClients(ctx context.Context) {
	interval := h.cfg.SlowClientGrace / 4
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.mu.Lock()
			var expired []*subscriber
			for _, s := range h.subscribers {
				if s.slowMark && now.Sub(s.fullSince) > h.cfg.SlowClientGrace {
					expired = append(expired, s)
				}
			}
			h.mu.Unlock()
			for _, s := range expired {
				h.disconnect(s)
			}
		}
	}
}

// SubscriberCount returns the number of currently connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// SubscribersAccepted returns the cumulative number of subscribers accepted
// for the life of the session, including ones that have since disconnected.
// Unlike SubscriberCount, this never drops back to zero once subscribers
// have disconnected at shutdown, so the end-of-session summary reports the
// session total rather than whoever happens to still be connected.
func (h *Hub) SubscribersAccepted() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSubID
}
