package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
)

const (
	writeWait = 2 * time.Second

	// sendQueue is how many messages a subscriber may fall behind before
	// it is dropped.
	sendQueue = 16
)

// subscriber owns one connection. Only its writer goroutine writes to conn.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Hub fans live snapshot messages out to websocket subscribers.
type Hub struct {
	subs     cmap.ConcurrentMap[string, *subscriber]
	upgrader websocket.Upgrader
	next     atomic.Uint64
	logger   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs: cmap.New[*subscriber](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

// ServeHTTP upgrades the request and registers the connection until the
// peer goes away. Inbound messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Upgrade failed")
		return
	}

	id := strconv.FormatUint(h.next.Add(1), 10)
	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendQueue),
		done: make(chan struct{}),
	}
	h.subs.Set(id, sub)
	h.logger.Debug().Str("id", id).Str("remote", r.RemoteAddr).Msg("Subscriber joined")

	go h.writer(id, sub)
	go func() {
		defer h.drop(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast queues v as JSON for every subscriber and returns without
// waiting for the network. A subscriber whose queue is full is dropped.
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("Encode broadcast")
		return
	}

	for item := range h.subs.IterBuffered() {
		select {
		case item.Val.send <- data:
		case <-item.Val.done:
		default:
			h.logger.Debug().Str("id", item.Key).Msg("Dropping slow subscriber")
			h.drop(item.Key)
		}
	}
}

func (h *Hub) writer(id string, sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case data := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Str("id", id).Err(err).Msg("Dropping subscriber")
				h.drop(id)
				return
			}
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	return h.subs.Count()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	for _, id := range h.subs.Keys() {
		h.drop(id)
	}
}

func (h *Hub) drop(id string) {
	if sub, ok := h.subs.Pop(id); ok {
		sub.stop()
	}
}
