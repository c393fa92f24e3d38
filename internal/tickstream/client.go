// Package tickstream maintains the streaming connection to the upstream
// trade-tick provider and normalizes its wire messages into model.Tick.
package tickstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"sentimentengine/internal/model"
)

// Sentinel errors signaled upward by a session. The supervisor inspects
// these to pick a reconnect policy.
var (
	ErrAuthenticationFailed = errors.New("tickstream: authentication failed")
	ErrRateLimited          = errors.New("tickstream: rate limited")
	ErrStreamClosed         = errors.New("tickstream: stream closed")
)

const (
	pingInterval = 15 * time.Second
	pongWait     = 5 * time.Second
)

// Config holds connection parameters for a single streaming session.
type Config struct {
	URL    string
	APIKey string
	Symbol string

	// TOTPSecret, when set, generates a rotating auth code per connection
	// attempt for upstreams that require one alongside the API key.
	TOTPSecret string
}

// wireTick is the upstream JSON tick shape: {s, p, v, t}.
type wireTick struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
	EpochMS int64  `json:"t"`
}

type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Client manages one websocket connection lifecycle: connect, subscribe,
// ping/pong keepalive, and delivery of parsed ticks. A Client is single-use;
// the supervisor creates a fresh one per connection attempt.
type Client struct {
	cfg Config
	log *slog.Logger

	conn      *websocket.Conn
	lastPong  time.Time
	mu        sync.Mutex
	gotTick   bool // whether at least one tick was received this session
	closeOnce sync.Once

	lastTickNano atomic.Int64
}

// New creates a Client for the given session config.
func New(cfg Config, log *slog.Logger) *Client {
	c := &Client{cfg: cfg, log: log}
	c.lastTickNano.Store(time.Now().UnixNano())
	return c
}

// EstablishedWithData reports whether this session both connected and
// received at least one tick — the supervisor uses this to pick between
// the fast-lane and exponential-backoff reconnect policies.
func (c *Client) EstablishedWithData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gotTick
}

// LastTickAt returns the wall-clock time the most recent tick was parsed,
// or the client's creation time if none has arrived yet. Polled by the
// supervisor's health monitor to detect a stalled connection.
func (c *Client) LastTickAt() time.Time {
	return time.Unix(0, c.lastTickNano.Load())
}

// Run connects, subscribes, and streams ticks into tickCh until ctx is
// cancelled or the connection is lost. It returns one of the sentinel
// errors (or ctx.Err()) describing why the session ended.
func (c *Client) Run(ctx context.Context, tickCh chan<- model.Tick) error {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
		if err != nil {
			return fmt.Errorf("%w: totp generation: %v", ErrAuthenticationFailed, err)
		}
		header.Set("X-Auth-Code", code)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return fmt.Errorf("tickstream: dial: %w", err)
	}
	c.conn = conn
	defer c.closeConn()

	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	if err := c.conn.WriteJSON(subscribeRequest{Action: "subscribe", Symbols: []string{c.cfg.Symbol}}); err != nil {
		return fmt.Errorf("tickstream: subscribe: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go c.heartbeatLoop(sessionCtx, errCh)

	return c.readLoop(sessionCtx, tickCh, errCh)
}

func (c *Client) readLoop(ctx context.Context, tickCh chan<- model.Tick, heartbeatErr <-chan error) error {
	msgCh := make(chan []byte, 1)
	readErrCh := make(chan error, 1)

	go func() {
		for {
			_, msg, err := c.conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-heartbeatErr:
			return err
		case err := <-readErrCh:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamClosed
			}
			return fmt.Errorf("%w: %v", ErrStreamClosed, err)
		case msg := <-msgCh:
			tick, ok := c.parseTick(msg)
			if !ok {
				continue
			}
			c.mu.Lock()
			c.gotTick = true
			c.mu.Unlock()
			c.lastTickNano.Store(time.Now().UnixNano())

			select {
			case tickCh <- tick:
			default:
				if c.log != nil {
					c.log.Warn("tick channel full, dropping tick", "symbol", tick.Symbol)
				}
			}
		}
	}
}

func (c *Client) parseTick(msg []byte) (model.Tick, bool) {
	var wt wireTick
	if err := json.Unmarshal(msg, &wt); err != nil {
		if c.log != nil {
			c.log.Warn("tick parse error", "error", err)
		}
		return model.Tick{}, false
	}
	if wt.Symbol == "" {
		return model.Tick{}, false
	}
	tick := model.Tick{
		Symbol: wt.Symbol,
		Price:  wt.Price,
		Volume: wt.Volume,
		TickTS: time.Now().UTC(),
	}
	if wt.EpochMS != 0 {
		tick.EventTS = time.UnixMilli(wt.EpochMS).UTC()
	}
	return tick, true
}

// heartbeatLoop sends pings every pingInterval and requires a pong within
// pongWait, else it signals a stall by pushing onto errCh.
func (c *Client) heartbeatLoop(ctx context.Context, errCh chan<- error) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sentAt := time.Now()
			deadline := sentAt.Add(pongWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				select {
				case errCh <- fmt.Errorf("%w: ping write failed: %v", ErrStreamClosed, err):
				default:
				}
				return
			}

			time.Sleep(pongWait)
			c.mu.Lock()
			stale := c.lastPong.Before(sentAt)
			c.mu.Unlock()
			if stale {
				select {
				case errCh <- fmt.Errorf("%w: pong not received within deadline", ErrStreamClosed):
				default:
				}
				return
			}
		}
	}
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.conn.Close()
		}
	})
}
