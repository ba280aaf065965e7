//go:build linux

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vsocky/vsocky/codec"
	"github.com/vsocky/vsocky/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client drives an agent over its websocket transport. It exists for
// development and tests; production hosts speak the framed vsock protocol
// directly.
type Client struct {
	Logger *zap.SugaredLogger

	url          string
	waitInterval time.Duration

	conn *websocket.Conn
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("agent_client").Sugar()
	}
}

// NewClient builds a client for the agent's websocket transport at addr
// (host:port). It does not connect; the first request or WaitForServer does.
func NewClient(log *zap.SugaredLogger, addr string, opts ...ClientOption) *Client {
	c := &Client{
		Logger:       log.Named("agent_client"),
		url:          fmt.Sprintf("ws://%s/session", addr),
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	c.Logger.Debugw("dialing websocket", "URL", c.url)
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}
	c.conn = conn
	return nil
}

// Do sends one request and waits for its response.
func (c *Client) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	resp := &protocol.Response{}
	if err := wsjson.Read(ctx, c.conn, resp); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return resp, nil
}

// Ping round-trips a ping request.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Do(ctx, &protocol.Request{Type: protocol.TypePing, ID: uuid.NewString()})
	if err != nil {
		return err
	}
	if resp.Type != protocol.TypePong {
		return fmt.Errorf("unexpected response type %q", resp.Type)
	}
	return nil
}

// Exec submits source code for execution and returns the agent's response.
// Code and stdin are plain bytes; the client applies the wire encoding.
func (c *Client) Exec(ctx context.Context, language string, code, stdin []byte, timeout time.Duration) (*protocol.Response, error) {
	req := &protocol.Request{
		Type:      protocol.TypeExec,
		ID:        uuid.NewString(),
		Language:  language,
		Code:      codec.Encode(code),
		TimeoutMS: timeout.Milliseconds(),
	}
	if len(stdin) > 0 {
		req.Stdin = codec.Encode(stdin)
	}
	return c.Do(ctx, req)
}

// WaitForServer polls until the agent answers a ping or the context ends.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.Ping(ctx)
			if err == nil {
				c.Logger.Debug("ping succeeded, done waiting for server")
				return nil
			}
			// a failed dial leaves no usable connection behind
			c.conn = nil
			c.Logger.Debugf("got ping error: %s", err)
		}
	}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}
