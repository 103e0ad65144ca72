package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dayuer/msgbridge-go/internal/logging"
	"github.com/dayuer/msgbridge-go/internal/transport"
)

var ErrClientClosed = errors.New("ws: client closed")

// Client is a transport.Transport over one connection to a Hub.
type Client struct {
	conn *conn
	url  string
	log  zerolog.Logger
	subs transport.Subscribers

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ transport.Transport = (*Client)(nil)

// Dial connects to the hub at url (ws:// or wss://, path /ws). A non-empty
// token is sent as a bearer Authorization header.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	raw, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}

	c := &Client{
		conn: &conn{Conn: raw},
		url:  url,
		log:  logging.Component("ws-client").With().Str("url", url).Logger(),
		done: make(chan struct{}),
	}
	go c.readLoop()
	c.log.Debug().Msg("connected")
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.conn.Close()
	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read failed")
			}
			c.markClosed()
			return
		}
		if kind == websocket.TextMessage {
			c.subs.Deliver(message)
		}
	}
}

// Send writes frame to the hub, which relays it to every other client.
func (c *Client) Send(frame []byte) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if err := c.conn.writeText(frame); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Subscribe registers fn for frames relayed by the hub.
func (c *Client) Subscribe(fn func([]byte)) func() {
	return c.subs.Add(fn)
}

// Done is closed when the connection's read loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close sends a close frame and releases the connection. Idempotent.
func (c *Client) Close() error {
	if !c.markClosed() {
		return nil
	}
	_ = c.conn.writeClose(websocket.CloseNormalClosure, "bye")
	err := c.conn.Close()
	<-c.done
	c.subs.Clear()
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// markClosed flips the closed flag and reports whether this call did it.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}
