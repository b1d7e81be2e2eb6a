package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the web UI may be served from another local origin
	},
}

// wsClient is one streaming WebSocket. Clients only listen; anything they
// send is read and discarded so pongs and close frames are processed.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, 256)}
}

// readPump reads until the client goes away, then calls cancel.
func (c *wsClient) readPump(cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("[Server] websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump writes queued messages and pings until ctx is done or a write
// fails, then closes the connection.
func (c *wsClient) writePump(ctx context.Context, source <-chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message, ok := <-source:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSensorStream streams a session's sensor packets as JSON, one
// message per packet, until the client leaves or the session is removed.
func (s *Server) handleSensorStream(w http.ResponseWriter, r *http.Request) {
	e, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !e.Session.IsConnected() {
		writeError(w, errNotConnected(e))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Server] websocket upgrade error", "error", err)
		return
	}
	slog.Info("[Server] sensor client connected", "session", e.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	c := newWSClient(conn)
	go c.readPump(cancel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx, c.send)
	}()

	for ev := range e.Session.SensorStream(ctx) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		case <-ctx.Done():
		}
	}
	cancel()
	<-done
	slog.Info("[Server] sensor client disconnected", "session", e.ID)
}

// handleLogStream forwards server log records to the client.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusNotFound, response{Message: "log streaming disabled"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Server] websocket upgrade error", "error", err)
		return
	}

	records, unsubscribe := s.logs.subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	c := newWSClient(conn)
	go c.readPump(cancel)
	go func() {
		defer unsubscribe()
		defer cancel()
		c.writePump(ctx, records)
	}()
	slog.Info("[Server] log client connected")
}
