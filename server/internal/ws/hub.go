package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/pulse/server/internal/api"
	"github.com/obsidianstack/pulse/server/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// queueDepth is how many frames a slow subscriber may lag before it is dropped.
	queueDepth = 16

	// maxRecordsPerTick caps the records event; a burst larger than this
	// only streams its newest records.
	maxRecordsPerTick = 200
)

// Event names carried in Message.Event.
const (
	EventStats   = "stats"
	EventRecords = "records"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Any origin is accepted; apply CORS at the reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is the JSON frame sent to subscribers.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub streams collector activity to WebSocket subscribers. On every tick that
// follows new batches it sends a stats frame and a records frame holding the
// records accepted since the previous tick.
type Hub struct {
	store    *store.Store
	interval time.Duration

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	// Owned by Run.
	lastBatches uint64
	lastSeq     uint64
}

// subscriber is one connected client. types restricts the records frame to
// the listed record types; nil means all.
type subscriber struct {
	conn  *websocket.Conn
	out   chan []byte
	types map[string]bool
}

// New creates a Hub over st that checks for activity every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:       st,
		interval:    interval,
		subs:        make(map[*subscriber]struct{}),
		lastBatches: st.Stats().Batches,
		lastSeq:     st.LastSeq(),
	}
}

// Run publishes activity until ctx is cancelled, then disconnects every
// subscriber. Idle ticks publish nothing; ping frames keep connections open.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.dropAll()
			return
		case <-t.C:
			h.publish()
		}
	}
}

// ServeHTTP upgrades the request and streams to the client until it
// disconnects. The optional ?types=a,b query restricts the records frames.
// The current stats are sent straight away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := &subscriber{
		conn:  conn,
		out:   make(chan []byte, queueDepth),
		types: parseTypes(r.URL.Query().Get("types")),
	}
	if frame, err := encode(EventStats, api.BuildStats(h.store)); err == nil {
		s.out <- frame
	}
	h.add(s)
	defer h.remove(s)

	go s.writeLoop()
	s.readLoop()
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) publish() {
	batches := h.store.Stats().Batches
	if batches == h.lastBatches {
		return
	}
	h.lastBatches = batches

	entries := h.store.After(h.lastSeq, maxRecordsPerTick)
	h.lastSeq = h.store.LastSeq()

	stats, err := encode(EventStats, api.BuildStats(h.store))
	if err != nil {
		slog.Error("ws: encode stats", "err", err)
		return
	}
	records := api.BuildRecords(entries)

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !h.offer(s, stats) {
			continue
		}
		picked := s.filter(records)
		if len(picked) == 0 {
			continue
		}
		frame, err := encode(EventRecords, picked)
		if err != nil {
			slog.Error("ws: encode records", "err", err)
			continue
		}
		h.offer(s, frame)
	}
}

// offer queues frame for s, dropping the subscriber if it has fallen behind.
// The read lock keeps remove from closing s.out mid-send.
func (h *Hub) offer(s *subscriber, frame []byte) bool {
	h.mu.RLock()
	_, live := h.subs[s]
	if live {
		select {
		case s.out <- frame:
			h.mu.RUnlock()
			return true
		default:
		}
	}
	h.mu.RUnlock()

	if live {
		slog.Warn("ws: dropping slow subscriber", "remote_addr", s.conn.RemoteAddr().String())
		h.remove(s)
	}
	return false
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

// remove unregisters s and closes its queue; safe to call more than once.
func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.out)
	}
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		close(s.out)
	}
}

func (s *subscriber) filter(recs []api.RecordResponse) []api.RecordResponse {
	if s.types == nil {
		return recs
	}
	var out []api.RecordResponse
	for _, r := range recs {
		if s.types[r.Type] {
			out = append(out, r)
		}
	}
	return out
}

// writeLoop sends queued frames and pings. It exits when the queue is closed
// or a write fails.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes control frames until the peer goes away.
func (s *subscriber) readLoop() {
	defer s.conn.Close()
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data})
}

// parseTypes splits a comma-separated list; an empty list means no filter.
func parseTypes(raw string) map[string]bool {
	var set map[string]bool
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		if set == nil {
			set = make(map[string]bool)
		}
		set[t] = true
	}
	return set
}
