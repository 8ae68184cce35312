package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsReadLimit    = 512 * 1024
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsClient is one connected reporting subscriber. It has nothing to send
// upstream beyond subscribe/unsubscribe and ping, since this server never
// accepts commands that would drive a backtest.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		id:   newEventID(),
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[string]bool),
	}

	s.mu.Lock()
	s.clients[client.id] = client
	s.mu.Unlock()

	s.logger.Info("reporting client connected", zap.String("id", client.id))

	go s.writePump(client)
	go s.readPump(client)
}

// readPump only exists to detect disconnects and record subscribe /
// unsubscribe requests in client.subs; it never dispatches commands that
// mutate a run. broadcast does not consult client.subs: every client
// receives every message.
func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.id)
		s.mu.Unlock()
		client.conn.Close()
		s.logger.Info("reporting client disconnected", zap.String("id", client.id))
	}()

	client.conn.SetReadLimit(wsReadLimit)
	client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Method != "subscribe" && msg.Method != "unsubscribe" {
			continue
		}

		payload, _ := msg.Payload.(map[string]any)
		channel, _ := payload["channel"].(string)
		if channel == "" {
			continue
		}

		if msg.Method == "subscribe" {
			client.subs[channel] = true
		} else {
			delete(client.subs, channel)
		}
	}
}

func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast fans out a Message to every connected client with a full send
// buffer skipped rather than blocked on.
func (s *Server) broadcast(method string, payload any) {
	msg := Message{
		ID:        newEventID(),
		Type:      "event",
		Method:    method,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients {
		select {
		case c.send <- raw:
		default:
		}
	}
}
