package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"hostlink-platform/internal/signaling"
)

// eventsChannel is the Redis pub/sub channel that fans call events out to
// every API instance, so a client connected to instance A still hears about
// a transition committed on instance B.
const eventsChannel = "relay:events"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// Envelope is the wire frame pushed to clients and carried over Redis.
type Envelope struct {
	Type    string                 `json:"type"`
	UserID  string                 `json:"-"`
	Request *signaling.CallRequest `json:"request,omitempty"`
	Session *signaling.CallSession `json:"session,omitempty"`
}

// busFrame wraps an Envelope with its addressee for the Redis hop.
type busFrame struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks live websocket connections per user and delivers call events
// to whichever of them are local. Delivery is best-effort: a slow or absent
// client loses the frame and recovers through the REST status endpoint.
type Hub struct {
	rdb *redis.Client
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

func NewHub(rdb *redis.Client, log *slog.Logger) *Hub {
	return &Hub{
		rdb:     rdb,
		log:     log,
		clients: make(map[string]map[*client]struct{}),
	}
}

// NotifyCallEvent publishes a call event for one user. With Redis wired the
// frame goes through pub/sub so all instances see it; without, it is
// delivered to local connections only.
func (h *Hub) NotifyCallEvent(ctx context.Context, ev signaling.CallEvent) {
	env := Envelope{
		Type:    ev.Type,
		UserID:  ev.UserID,
		Request: ev.Request,
		Session: ev.Session,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		h.log.Error("relay: marshal event", "error", err)
		return
	}

	if h.rdb == nil {
		h.deliverLocal(ev.UserID, payload)
		return
	}

	frame, err := json.Marshal(busFrame{UserID: ev.UserID, Payload: payload})
	if err != nil {
		h.log.Error("relay: marshal bus frame", "error", err)
		return
	}
	if err := h.rdb.Publish(ctx, eventsChannel, frame).Err(); err != nil {
		// Degrade to local delivery rather than dropping the event outright.
		h.log.Warn("relay: publish failed, delivering locally", "error", err)
		h.deliverLocal(ev.UserID, payload)
	}
}

// Run consumes the Redis event channel until ctx is cancelled. No-op when
// Redis is not configured.
func (h *Hub) Run(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	sub := h.rdb.Subscribe(ctx, eventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame busFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				h.log.Warn("relay: bad bus frame", "error", err)
				continue
			}
			h.deliverLocal(frame.UserID, frame.Payload)
		}
	}
}

func (h *Hub) deliverLocal(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop the frame, never block the caller.
		}
	}
}

// ConnectionCount reports how many local connections a user holds.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
}
