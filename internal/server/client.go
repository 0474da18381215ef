package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// FrameHandler processes one inbound frame of an open connection.
type FrameHandler interface {
	HandleFrame(ctx context.Context, c *Client, raw []byte)
}

// Client is one user's live WebSocket connection. Outbound events pass
// through a bounded FIFO queue drained by the write pump.
type Client struct {
	id     string
	userID int64
	conn   *websocket.Conn
	hub    *Hub
	addr   string
	frames FrameHandler
	log    *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for userID over conn. conn may be nil for a
// connection that is only driven through its send queue.
func NewClient(conn *websocket.Conn, hub *Hub, cfg *Config, userID int64, addr string, frames FrameHandler) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		userID:         userID,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		frames:         frames,
		log:            hub.log.With(zap.String("conn_id", id), zap.Int64("user_id", userID)),
		send:           make(chan []byte, queueSize),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the random connection id used in logs.
func (c *Client) ID() string { return c.id }

// UserID returns the user that owns the connection.
func (c *Client) UserID() int64 { return c.userID }

// GetSendChan returns the client's outbound queue. It is closed when the
// connection is unregistered.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// enqueue appends payload to the outbound queue without blocking. It returns
// false if the queue is closed or full.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", zap.Error(err))
	}
}

// sendEvent queues a payload to this connection only.
func (c *Client) sendEvent(payload []byte) {
	if !c.enqueue(payload) {
		c.log.Warn("outbound queue full, dropping connection")
		c.hub.release(c)
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("frame exceeded maximum size", zap.Int64("max_bytes", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded, discarding frame",
			zap.Int("burst", c.rateLimit.Burst), zap.Duration("interval", c.rateLimit.RefillInterval))
		return false
	}
	return true
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.release(c)
		c.closeConn()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		c.frames.HandleFrame(ctx, c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload, ok := <-c.send:
		return c.handleMessage(payload, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) handleMessage(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}
	if !ok {
		return c.writeCloseMessage()
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error writing close message", zap.Error(err))
	}
	return false
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping", zap.Error(err))
		return false
	}
	return true
}
