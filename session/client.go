package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-meeting/types"
)

const (
	// Time allowed to write a message to the server.
	writeWait = 10 * time.Second

	// The server pings every minute.
	pingWait = 2 * time.Minute

	defaultSendBuffer = 64
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Client runs a Session over a websocket connection to the meeting server
// and reconnects with a growing backoff when the connection drops. After the
// first successful join, joins are sent as resume so the server keeps the
// participant's role.
type Client struct {
	url         string
	header      http.Header
	dialer      *websocket.Dialer
	session     *Session
	logger      hclog.Logger
	sendBuffer  int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	sessionOpts []Option

	mu     sync.Mutex
	send   chan []byte
	conn   *websocket.Conn
	closed bool
}

type ClientOption func(*Client)

func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		c.header = header
	}
}

func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

func WithBackoff(min, max time.Duration) ClientOption {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

func WithClientLogger(l hclog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithSessionOptions passes options to the Session created by NewClient.
func WithSessionOptions(opts ...Option) ClientOption {
	return func(c *Client) {
		c.sessionOpts = append(c.sessionOpts, opts...)
	}
}

// NewClient creates a client for the meeting endpoint at rawURL, e.g.
// ws://localhost:8000/meeting. The identity is added to the query unless
// the URL already carries one.
func NewClient(rawURL string, identity types.Identity, navigator Navigator, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	vals := u.Query()
	if vals.Get("user_id") == "" && identity.Id != "" {
		vals.Set("user_id", identity.Id)
	}
	if vals.Get("name") == "" && identity.Name != "" {
		vals.Set("name", identity.Name)
	}
	u.RawQuery = vals.Encode()

	c := &Client{
		url:        u.String(),
		dialer:     websocket.DefaultDialer,
		logger:     hclog.NewNullLogger(),
		sendBuffer: defaultSendBuffer,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = NewSession(identity, navigator, c, append([]Option{WithLogger(c.logger)}, c.sessionOpts...)...)
	return c, nil
}

func (c *Client) Session() *Session {
	return c.session
}

// Send implements Sender.
func (c *Client) Send(event string, data interface{}) error {
	raw, err := types.NewWireMessage(event, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Leave leaves the room and stops Run.
func (c *Client) Leave() error {
	err := c.session.Leave()
	c.Close()
	return err
}

// Close stops Run without leaving the room. The server keeps the
// participant for the grace period.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.send == nil {
		return
	}
	// nil asks the write loop to close the connection after the queued messages
	select {
	case c.send <- nil:
	default:
		_ = c.conn.Close()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Run joins roomId and keeps the session connected until ctx is done, the
// client is closed or the server ends the session.
func (c *Client) Run(ctx context.Context, roomId string, requestedLeader bool) error {
	backoff := c.minBackoff
	resume := false
	for {
		if c.isClosed() {
			return nil
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err == nil {
			backoff = c.minBackoff
			c.serve(ctx, conn, roomId, requestedLeader, resume)
			// a participant that made it into the room resumes from now on
			resume = resume || c.session.State().InRoom()
		} else if ctx.Err() == nil {
			c.logger.Info("could not connect", "url", c.url, "error", err, "retry_in", backoff)
		}

		switch {
		case c.session.State() == Ended:
			return ErrSessionEnded
		case ctx.Err() != nil:
			return ctx.Err()
		case c.isClosed():
			return nil
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// serve runs one connection until it fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, roomId string, requestedLeader, resume bool) {
	send := make(chan []byte, c.sendBuffer)
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.send = send
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.send = nil
		c.mu.Unlock()
		close(done)
		_ = conn.Close()
	}()

	go c.writeLoop(conn, send, done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	logger := c.logger.With("room", roomId, "resume", resume)
	if err := c.session.Join(roomId, requestedLeader, resume); err != nil {
		logger.Error("could not send join", "error", err)
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pingWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("connection lost", "error", err)
			return
		}
		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			logger.Warn("could not unmarshal ws message", "error", err)
			continue
		}
		if err := c.session.Handle(&message); err != nil {
			logger.Debug("could not handle message", "event", message.Event, "error", err)
		}
		if c.session.State() == Ended {
			return
		}
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case message := <-send:
			if message == nil {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
