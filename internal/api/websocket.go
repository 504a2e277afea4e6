package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"forex-signal-engine/internal/logging"
	"forex-signal-engine/internal/signal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSClient represents one WebSocket subscriber.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans signal events out to all connected clients.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a hub. Run must be started for it to do anything.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 1024),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run pumps registrations and broadcasts until Stop is called. Meant to run
// as a goroutine for the server's lifetime.
func (h *WSHub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client: drop it rather than block the hub.
					go func(c *WSClient) {
						select {
						case h.unregister <- c:
						case <-h.stop:
						}
					}(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends the Run loop and closes every connected client's send channel.
// Safe to call more than once; returns after the loop has exited.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// wsEvent is the wire envelope for hub messages.
type wsEvent struct {
	Type      string         `json:"type"`
	Signal    *signal.Signal `json:"signal"`
	Timestamp time.Time      `json:"timestamp"`
}

// BroadcastSignal pushes a newly emitted signal to every subscriber.
func (h *WSHub) BroadcastSignal(s *signal.Signal) {
	h.broadcastEvent(wsEvent{Type: "signal_emitted", Signal: s, Timestamp: time.Now().UTC()})
}

// BroadcastClose pushes a signal that just reached a terminal state.
func (h *WSHub) BroadcastClose(s *signal.Signal) {
	h.broadcastEvent(wsEvent{Type: "signal_closed", Signal: s, Timestamp: time.Now().UTC()})
}

func (h *WSHub) broadcastEvent(e wsEvent) {
	log := logging.Component("api")
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("marshal ws event failed")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Warn().Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.hub,
	}
	select {
	case s.hub.register <- client:
	case <-s.hub.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains client frames so pings are answered; subscribers do not
// send application messages.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
