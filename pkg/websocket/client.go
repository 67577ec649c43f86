// Package websocket provides a reconnecting websocket feed client
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles one inbound frame
type MessageHandler func(message []byte)

// Options configures a Client. Zero durations take the defaults below.
type Options struct {
	URL           string
	Header        http.Header
	ReconnectWait time.Duration
	PingInterval  time.Duration
	PingWait      time.Duration
	PongWait      time.Duration

	// OnConnected runs after every successful dial, typically to send a subscription
	OnConnected func(c *Client) error
}

const (
	defaultReconnectWait = 5 * time.Second
	defaultPingInterval  = 30 * time.Second
	defaultPingWait      = 10 * time.Second
	defaultPongWait      = 60 * time.Second
)

// Client keeps one connection open, redialing after any failure until Stop
type Client struct {
	opts    Options
	handler MessageHandler
	dialer  *websocket.Dialer

	conn      *websocket.Conn
	mu        sync.Mutex
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

func NewClient(opts Options, handler MessageHandler, logger core.ILogger) *Client {
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = defaultReconnectWait
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingWait <= 0 {
		opts.PingWait = defaultPingWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	meter := telemetry.GetMeter("ws-client")
	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of websocket frames received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of websocket dials"))

	return &Client{
		opts:        opts,
		handler:     handler,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.WithField("component", "ws_client").WithField("url", opts.URL),
		tracer:      telemetry.GetTracer("ws-client"),
		msgCounter:  msgCounter,
		connCounter: connCounter,
	}
}

// Connected reports whether a connection is currently open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send writes v as JSON on the current connection
func (c *Client) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.PingWait))
	return c.conn.WriteJSON(v)
}

func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and waits for every goroutine to exit
func (c *Client) Stop() {
	c.cancel()
	c.closeConn()
	c.wg.Wait()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		if err := c.connect(); err != nil {
			c.logger.Warn("Websocket dial failed", "error", err)
			if !c.sleep(c.opts.ReconnectWait) {
				return
			}
			continue
		}

		if c.opts.OnConnected != nil {
			if err := c.opts.OnConnected(c); err != nil {
				c.logger.Warn("Websocket subscription failed", "error", err)
				c.closeConn()
				if !c.sleep(c.opts.ReconnectWait) {
					return
				}
				continue
			}
		}

		hbCtx, hbCancel := context.WithCancel(c.ctx)
		if c.opts.PingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(hbCtx)
		}
		c.readLoop()
		hbCancel()

		if !c.sleep(c.opts.ReconnectWait) {
			return
		}
	}
}

// sleep waits d and returns false when the client was stopped meanwhile
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.PingWait)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect", trace.WithAttributes(attribute.String("ws.url", c.opts.URL)))
	defer span.End()
	c.connCounter.Add(ctx, 1)

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		span.RecordError(err)
		return err
	}

	pongWait := c.opts.PongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	if err := c.ctx.Err(); err != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return err
	}
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.logger.Info("Websocket connected")
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

func (c *Client) readLoop() {
	defer c.closeConn()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("Websocket read failed, reconnecting", "error", err)
			}
			return
		}
		c.msgCounter.Add(c.ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
	}
}
