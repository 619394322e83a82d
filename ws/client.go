package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-meeting/types"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id  string
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. It is never closed, writers
	// check done instead.
	send chan []byte

	identity types.Identity

	// only touched by the goroutine running ReadLoop
	roomId string

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, identity types.Identity, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendChannelSize
	}
	return &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		identity: identity,
		done:     make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Identity() types.Identity {
	return c.identity
}

// Send queues data without blocking. It returns false if the connection is
// closed or its queue is full.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the write loop and closes the connection, which ends the read
// loop. It is safe to call Close more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) sendError(code, message, event string) {
	data, err := types.NewWireMessage(types.MessageTypeError, types.ErrorMessage{
		Code:    code,
		Message: message,
		Event:   event,
	})
	if err != nil {
		c.hub.logger.Error("could not marshal error message", "error", err)
		return
	}
	c.Send(data)
}

// ReadLoop pumps messages from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	logger := c.hub.logger.With("conn", c.id, "participant", c.identity.Id)
	defer func() {
		c.hub.disconnect(c)
		_ = c.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("ws closed unexpectedly", "error", err)
			} else {
				logger.Debug("read loop done", "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			logger.Debug("could not unmarshal ws message", "error", err)
			c.sendError(types.ErrorCodeBadRequest, "message is not a JSON envelope", "")
			continue
		}
		c.hub.Dispatch(c, &message)
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("could not write to ws connection, exiting write loop", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("could not send ping message, exiting write loop", "conn", c.id)
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
