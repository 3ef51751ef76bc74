package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/glovelink/internal/bridge"
	"github.com/danmuck/glovelink/internal/link"
	"github.com/danmuck/glovelink/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// Hub fans link output out to websocket clients. A client may narrow pose
// frames to one hand with ?side=left|right. Slow clients lose frames.
type Hub struct {
	upgrader websocket.Upgrader
	buffer   int
	dropped  atomic.Uint64

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	side protocol.Laterality
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer:  buffer,
		clients: make(map[*streamClient]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	side := protocol.LateralityUnknown
	if raw := r.URL.Query().Get("side"); raw != "" {
		parsed, err := protocol.ParseLaterality(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		side = parsed
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("server: websocket upgrade failed")
		return
	}
	c := &streamClient{conn: conn, send: make(chan []byte, h.buffer), side: side}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Debug().Int("clients", n).Str("side", side.String()).Msg("server: stream client connected")

	go h.writePump(c)
	h.readPump(c)
}

// readPump only services control frames; client messages are ignored.
func (h *Hub) readPump(c *streamClient) {
	defer h.unregister(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

// Broadcast queues msg for every interested client without blocking.
func (h *Hub) Broadcast(msg bridge.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("server: stream encode failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.side != protocol.LateralityUnknown && msg.Side != "" && msg.Side != c.side.String() {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Listener() link.Listener {
	return link.Listener{
		Joint: func(f protocol.JointFrame, side protocol.Laterality) {
			h.Broadcast(bridge.JointMessage(f, side, time.Now()))
		},
		Raw: func(f protocol.RawFrame, side protocol.Laterality) {
			h.Broadcast(bridge.RawMessage(f, side, time.Now()))
		},
		DeviceInfo: func(info protocol.DeviceInfo) {
			h.Broadcast(bridge.DeviceInfoMessage(info, time.Now()))
		},
		State: func(from, to link.State) {
			h.Broadcast(bridge.StateMessage(from.String(), to.String(), time.Now()))
		},
	}
}

func (h *Hub) Name() string {
	return "stream"
}

func (h *Hub) Status() (any, error) {
	return map[string]uint64{
		"clients": uint64(h.Clients()),
		"dropped": h.Dropped(),
	}, nil
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
