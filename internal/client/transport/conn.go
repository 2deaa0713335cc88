package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one live socket. A reconnect always creates a fresh conn.
type conn struct {
	ws   *websocket.Conn
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once
	local    atomic.Bool

	readDone  chan struct{}
	writeDone chan struct{}
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

func (c *conn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// shutdown sends a close frame best-effort and closes the socket, once.
func (c *conn) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

func (c *conn) closeLocally() {
	c.local.Store(true)
	c.shutdown()
}

func (c *conn) wasClosedLocally() bool { return c.local.Load() }

func (c *conn) readerDone() { close(c.readDone) }
func (c *conn) writerDone() { close(c.writeDone) }

// wait blocks until both pumps have exited.
func (c *conn) wait() {
	<-c.readDone
	<-c.writeDone
}
