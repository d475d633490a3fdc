package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/logger"
	"github.com/wndlink/wndlink/pkg/wire"
)

// Client is the companion side of a websocket link.
type Client struct {
	self  message.Endpoint
	codec wire.Codec
	peer  *peer

	mu      sync.RWMutex
	handler func(message.Envelope)
}

// Dial connects to a Hub at url. header carries credentials such as the
// gateway bearer token.
func Dial(ctx context.Context, url string, header http.Header, self message.Endpoint, codec wire.Codec) (*Client, error) {
	if codec == nil {
		codec = wire.JSONCodec{}
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	logger.InfoCF("ws", "Connected to app", map[string]interface{}{"url": url, "codec": codec.Name()})
	return &Client{self: self, codec: codec, peer: newPeer(conn, codec)}, nil
}

// Run pumps the connection until it fails or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.peer.writePump()
	go func() {
		select {
		case <-ctx.Done():
			c.peer.close()
		case <-c.peer.done:
		}
	}()
	c.peer.readPump(c.receive)
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.peer.done }

func (c *Client) receive(frame []byte) {
	env, err := c.codec.Unmarshal(frame)
	if err != nil {
		logger.WarnCF("ws", "Dropping undecodable frame", map[string]interface{}{"error": err.Error()})
		return
	}
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(env)
	}
}

// SendTo encodes env and queues it on the connection.
func (c *Client) SendTo(_ context.Context, to message.Endpoint, env message.Envelope) error {
	if to == c.self {
		return message.ErrNoPeer
	}
	frame, err := c.codec.Marshal(env)
	if err != nil {
		return err
	}
	return c.peer.enqueue(frame)
}

// OnMessage sets the receive callback.
func (c *Client) OnMessage(handler func(message.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.peer.close()
	return nil
}

var _ message.Transport = (*Client)(nil)
