package eventbus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// incomingMessage is the shape of a message the UI publishes on the
// connection: a named topic ("ssh-input-<id>" or "ssh-resize-<id>") with
// its JSON data, matching the "incoming named events" surface in §6.
type incomingMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Dispatcher routes incoming named events to their handlers. The router
// is populated once at wiring time with the ssh-input/ssh-resize handlers.
type Dispatcher interface {
	HandleIncoming(topic string, data json.RawMessage)
}

// ServeWS upgrades the connection and bridges it to the bus: every topic
// the UI subscribes to (via a "subscribe" control message) is forwarded to
// its socket, and every "publish" message the UI sends is routed through
// disp. Messages with any other action are ignored.
func (b *Bus) ServeWS(disp Dispatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			b.log.Warn("eventbus: websocket upgrade failed", zap.Error(err))
			return
		}

		done := make(chan struct{})
		outbound := make(chan Envelope, 256)
		unsubscribes := make(map[string]func())

		go b.writePump(conn, outbound, done)
		b.readPump(conn, disp, outbound, unsubscribes, done)
	}
}

func (b *Bus) readPump(conn *websocket.Conn, disp Dispatcher, outbound chan Envelope, unsubscribes map[string]func(), done chan struct{}) {
	defer func() {
		for _, unsub := range unsubscribes {
			unsub()
		}
		close(done)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			Action string          `json:"action"` // "subscribe" | "publish"
			Topic  string          `json:"topic"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			b.log.Debug("eventbus: dropping malformed message", zap.Error(err))
			continue
		}

		switch envelope.Action {
		case "subscribe":
			if _, exists := unsubscribes[envelope.Topic]; exists {
				continue
			}
			ch, unsub := b.Subscribe(envelope.Topic, 256)
			unsubscribes[envelope.Topic] = unsub
			go forward(ch, outbound, done)
		case "publish":
			if disp != nil {
				disp.HandleIncoming(envelope.Topic, envelope.Data)
			}
		}
	}
}

func forward(src <-chan Envelope, dst chan Envelope, done chan struct{}) {
	for {
		select {
		case env, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- env:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

func (b *Bus) writePump(conn *websocket.Conn, outbound chan Envelope, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
