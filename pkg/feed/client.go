package feed

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func (c *client) enqueue(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump reads commands from the WebSocket
func (c *client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read error", zap.String("client", c.id), zap.Error(err))
			}
			break
		}

		var cmd Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.log.Debug("invalid command", zap.String("client", c.id), zap.Error(err))
			continue
		}
		c.hub.handleCommand(c, cmd)
	}
}

// writePump sends events to the WebSocket
func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.hub.log.Debug("websocket write error", zap.String("client", c.id), zap.Error(err))
			return
		}
	}
}
