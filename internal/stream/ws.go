// Package stream implements the push channel over a WebSocket connection
// with automatic reconnection.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"nhooyr.io/websocket"

	"github.com/Kumarsunkad/realtime-fraud-analytics/internal/ingest"
)

// ErrAlreadyConnected is returned by Connect while a previous connection is
// still open.
var ErrAlreadyConnected = errors.New("stream: already connected")

const (
	defaultReconnectInitial = 500 * time.Millisecond
	defaultReconnectMax     = 15 * time.Second
	defaultReadLimit        = 1 << 20
	defaultPingInterval     = 30 * time.Second
)

// Options configures a WSChannel.
type Options struct {
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	ReadLimit        int64
	PingInterval     time.Duration
	Logger           *slog.Logger
}

// WSChannel subscribes to a topic on a WebSocket endpoint. After a dropped
// connection it redials with exponential backoff until closed.
type WSChannel struct {
	url  string
	opts Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ ingest.Channel = (*WSChannel)(nil)

// NewWSChannel returns a channel for rawURL. ws, wss, http and https schemes
// are accepted.
func NewWSChannel(rawURL string, opts Options) (*WSChannel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("unsupported stream url scheme %q", u.Scheme)
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = defaultReconnectInitial
	}
	if opts.ReconnectMax < opts.ReconnectInitial {
		opts.ReconnectMax = max(defaultReconnectMax, opts.ReconnectInitial)
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WSChannel{url: rawURL, opts: opts}, nil
}

// Connect starts the connection goroutine and returns immediately; progress
// is reported through h. The connection outlives ctx's cancellation and
// ends only on Close.
func (c *WSChannel) Connect(ctx context.Context, topic string, h ingest.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, topic, h, c.done)
	return nil
}

// Close stops the connection goroutine. It does not wait for the goroutine
// to exit; any callback it still makes belongs to a closed session.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.cancel = nil
	return nil
}

func (c *WSChannel) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInitial
	b.MaxInterval = c.opts.ReconnectMax
	b.Reset()
	return b
}

func (c *WSChannel) run(ctx context.Context, topic string, h ingest.Handler, done chan struct{}) {
	defer close(done)
	b := c.newBackOff()
	log := c.opts.Logger.With("url", c.url, "topic", topic)

	for {
		h.Connecting()
		err := c.session(ctx, topic, h, b)
		h.Disconnected(err)
		if ctx.Err() != nil {
			return
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = c.opts.ReconnectMax
		}
		log.Debug("stream reconnecting", "err", err, "in", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (c *WSChannel) session(ctx context.Context, topic string, h ingest.Handler, b *backoff.ExponentialBackOff) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(c.opts.ReadLimit)

	sub, err := json.Marshal(subscribeFrame{Type: "subscribe", Topics: []string{topic}})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	b.Reset()
	h.Connected()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pingLoop(sessCtx, conn)

	for {
		_, data, err := conn.Read(sessCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		if payload, ok := Unwrap(topic, data); ok {
			h.Message(payload)
		}
	}
}

func (c *WSChannel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

type subscribeFrame struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Unwrap extracts the event payload from a frame. Frames may be an envelope
// {"topic": ..., "data": ...} or a bare event. Envelopes for other topics
// are skipped.
func Unwrap(topic string, frame []byte) ([]byte, bool) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		// not an object; let the decoder reject it
		return frame, true
	}
	if env.Topic == "" || len(env.Data) == 0 {
		return frame, true
	}
	if env.Topic != topic {
		return nil, false
	}
	return env.Data, true
}
