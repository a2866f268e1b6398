package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnectionOptions tunes a Connection's writer.
type ConnectionOptions struct {
	SendBuffer   int
	WriteWait    time.Duration
	PingInterval time.Duration
}

// DefaultConnectionOptions matches the relay's default websocket settings.
var DefaultConnectionOptions = ConnectionOptions{
	SendBuffer:   256,
	WriteWait:    10 * time.Second,
	PingInterval: 30 * time.Second,
}

// Connection implements interfaces.Connection over a gorilla websocket.
// Frames and pings are written only by writeLoop, which also owns closing
// the socket.
type Connection struct {
	id       string
	conn     *websocket.Conn
	writeCh  chan []byte
	opts     ConnectionOptions
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	closeErr error
}

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultConnectionOptions.SendBuffer
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultConnectionOptions.WriteWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	var pings <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	// A failed write leaves the socket unusable; closing it ends the read pump,
	// which reports the disconnect.
	defer func() {
		c.cancel()
		c.closeErr = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-pings:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

// ID returns the identifier assigned when the connection was accepted.
func (c *Connection) ID() string {
	return c.id
}

// WriteJSON marshals v and queues it without blocking. A full queue drops the
// frame and returns ErrSendBufferFull.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close asks the writer to send a close frame and waits until it has closed
// the socket. It is safe to call repeatedly.
func (c *Connection) Close() error {
	c.cancel()
	<-c.done
	return c.closeErr
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
