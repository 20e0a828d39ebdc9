package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live client connection as the registry sees it. A Send
// error means the connection is broken and should be pruned.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

const writeTimeout = 10 * time.Second

// WSConn wraps a gorilla websocket connection with a write lock. Gorilla
// allows only one concurrent writer, and sends arrive both from the
// bridge's delivery goroutines and from the session's own error replies.
type WSConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *WSConn) Close() error {
	return c.ws.Close()
}
