package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Overflow policies applied when a member's outbound queue is full
const (
	DropOldest = "drop_oldest"
	DropNewest = "drop_newest"
)

// ConnectionOptions tunes one connection's outbound side
type ConnectionOptions struct {
	BufferSize     int
	OverflowPolicy string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// DefaultConnectionOptions matches the server defaults
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		BufferSize:     100,
		OverflowPolicy: DropOldest,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Connection implements interfaces.Member over a gorilla websocket.
// All frame writes happen on one goroutine (writeLoop). Send only enqueues,
// so a slow peer can never stall the broadcaster.
type Connection struct {
	id             string
	conversationID string
	userID         string

	conn    *websocket.Conn
	writeCh chan []byte
	opts    ConnectionOptions
	logger  *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	sendMu    sync.Mutex
	dropped   atomic.Uint64
}

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn, conversationID, userID string, opts ConnectionOptions, logger *zap.Logger) *Connection {
	c := newConnection(conn, conversationID, userID, opts, logger)
	go c.writeLoop()
	return c
}

// newConnection builds the wrapper without starting writeLoop, which lets
// tests observe the queue directly
func newConnection(conn *websocket.Conn, conversationID, userID string, opts ConnectionOptions, logger *zap.Logger) *Connection {
	defaults := DefaultConnectionOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.OverflowPolicy != DropNewest {
		opts.OverflowPolicy = DropOldest
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:             id,
		conversationID: conversationID,
		userID:         userID,
		conn:           conn,
		writeCh:        make(chan []byte, opts.BufferSize),
		opts:           opts,
		logger: logger.With(
			zap.String("connection_id", id),
			zap.String("conversation_id", conversationID),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) ConversationID() string { return c.conversationID }
func (c *Connection) UserID() string         { return c.userID }

// Dropped counts payloads discarded by the overflow policy
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

// Done is closed once the connection starts shutting down
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Context is cancelled when the connection closes
func (c *Connection) Context() context.Context { return c.ctx }

// Send enqueues payload without blocking. When the queue is full the
// configured policy decides: drop_newest rejects payload with ErrQueueFull,
// drop_oldest evicts the head of the queue to make room.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	// Producers are serialized so an eviction always frees a slot for the
	// payload that caused it.
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case c.writeCh <- payload:
		return nil
	default:
	}

	c.dropped.Add(1)
	if c.opts.OverflowPolicy == DropNewest {
		return ErrQueueFull
	}

	select {
	case <-c.writeCh:
	default:
	}
	select {
	case c.writeCh <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// writeLoop is the only goroutine that writes data frames. It also emits
// heartbeat pings so they interleave with data frames without a second writer.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("set write deadline failed", zap.Error(err))
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed, closing connection", zap.Error(err))
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("ping failed, closing connection", zap.Error(err))
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Close cancels the connection, sends a best-effort close frame and releases
// the socket. Safe to call concurrently and more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if c.conn != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second),
			)
			err = c.conn.Close()
		}
	})
	return err
}
