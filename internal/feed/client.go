// Package feed owns the early-warning feed connection: a websocket client
// that reconnects forever, classifies inbound frames and hands normalized
// events to a Handler.
package feed

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	logx "quakepush/pkg/logx"
)

// State is the connection lifecycle phase. The loop cycles
// Disconnected -> Connecting -> Streaming and never reaches a terminal
// state; only context cancellation ends it.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

type Config struct {
	URL string
	// ReconnectDelay is the fixed pause after a broken connection.
	// No backoff: the feed contract is at-most-once with silent loss
	// while disconnected.
	ReconnectDelay time.Duration
}

// Client consumes the feed single-threaded: frames are decoded and
// dispatched one at a time, preserving arrival order.
type Client struct {
	cfg     Config
	handler Handler
	log     logx.Logger
	dialer  *websocket.Dialer

	state atomic.Int32
}

func NewClient(cfg Config, handler Handler, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		log:     log,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// State returns the current connection phase.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Run connects and consumes the feed until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	defer c.setState(StateDisconnected)

	for {
		c.setState(StateConnecting)
		c.log.Info("connecting to feed", logx.String("url", c.cfg.URL))

		if err := c.stream(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("feed connection failed", logx.Err(err))
		} else {
			c.log.Warn("feed connection closed by peer")
		}

		c.setState(StateDisconnected)
		c.log.Info("reconnecting after delay", logx.Duration("delay", c.cfg.ReconnectDelay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) stream(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.setState(StateStreaming)
	c.log.Info("feed connected", logx.String("url", c.cfg.URL))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handleFrame(ctx, data)
	}
}

// handleFrame never fails the connection: malformed payloads are logged
// and dropped.
func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	ev, ok, err := Decode(raw)
	if err != nil {
		c.log.Warn("dropping undecodable frame", logx.Err(err))
		return
	}
	if !ok {
		c.log.Debug("control frame", logx.String("type", ev.SourceType))
		return
	}

	c.log.Info("earthquake warning received",
		logx.String("source", ev.SourceType),
		logx.Float64("magnitude", ev.Magnitude),
		logx.Float64("depth_km", ev.Depth),
		logx.Float64("lat", ev.Latitude),
		logx.Float64("lon", ev.Longitude),
		logx.String("region", ev.Region))

	if err := c.handler.HandleEvent(ctx, ev); err != nil {
		c.log.Error("event dispatch failed", logx.Err(err))
	}
}
