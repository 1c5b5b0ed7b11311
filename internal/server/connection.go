package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const closeCodeOverflow = websocket.CloseTryAgainLater

type outbound struct {
	frame   []byte
	durable bool
}

// Connection is one client websocket. Frames reach the socket through a
// bounded buffer drained by a single writer goroutine.
type Connection struct {
	id           string
	socket       *websocket.Conn
	buffer       chan outbound
	writeTimeout time.Duration
	openedAt     time.Time

	userID      string
	displayName string

	authenticated atomic.Bool
	acknowledged  atomic.Bool

	closed     chan struct{}
	closeOnce  sync.Once
	readerDone chan struct{}
	writerDone chan struct{}
	writerOnce sync.Once
	cleanup    sync.Once

	mu     sync.Mutex
	failed *outbound
}

func newConnection(id string, socket *websocket.Conn, bufferSize int, writeTimeout time.Duration, now time.Time) *Connection {
	return &Connection{
		id:           id,
		socket:       socket,
		buffer:       make(chan outbound, bufferSize),
		writeTimeout: writeTimeout,
		openedAt:     now,
		closed:       make(chan struct{}),
		readerDone:   make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
}

// ID returns the connection's session id.
func (c *Connection) ID() string {
	return c.id
}

// UserID returns the authenticated user, or "" before authentication.
func (c *Connection) UserID() string {
	return c.userID
}

// offer queues a frame without blocking and reports whether it fit.
func (c *Connection) offer(item outbound) bool {
	select {
	case c.buffer <- item:
		return true
	default:
		return false
	}
}

// deliver queues a frame, waiting for buffer space until the connection closes.
func (c *Connection) deliver(item outbound) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.buffer <- item:
		return true
	case <-c.closed:
		return false
	}
}

// writeDirect writes before the writer goroutine starts.
func (c *Connection) writeDirect(frame []byte) error {
	_ = c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.socket.WriteMessage(websocket.TextMessage, frame)
}

func (c *Connection) ping() error {
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *Connection) startWriter(onDelivered func(), onFailure func(error)) {
	c.writerOnce.Do(func() {
		go c.writeLoop(onDelivered, onFailure)
	})
}

func (c *Connection) writeLoop(onDelivered func(), onFailure func(error)) {
	defer close(c.writerDone)
	for {
		select {
		case <-c.closed:
			return
		case item := <-c.buffer:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.socket.WriteMessage(websocket.TextMessage, item.frame); err != nil {
				c.mu.Lock()
				c.failed = &item
				c.mu.Unlock()
				onFailure(err)
				return
			}
			onDelivered()
		}
	}
}

// waitWriter blocks until the writer goroutine has exited, if it ever started.
func (c *Connection) waitWriter() {
	started := true
	c.writerOnce.Do(func() {
		started = false
		close(c.writerDone)
	})
	if started {
		<-c.writerDone
	}
}

// unsent removes and returns every frame that did not reach the socket,
// oldest first. Call only after the writer has exited.
func (c *Connection) unsent() []outbound {
	c.mu.Lock()
	var items []outbound
	if c.failed != nil {
		items = append(items, *c.failed)
		c.failed = nil
	}
	c.mu.Unlock()
	for {
		select {
		case item := <-c.buffer:
			items = append(items, item)
		default:
			return items
		}
	}
}

func (c *Connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.socket.Close()
	})
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
