package webgui

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// Transport carries whole messages to and from one frontend. ReadMessage is only called from
// one goroutine and WriteMessage from another; Close may be called at any time and must
// unblock both.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Pinger is implemented by transports that keep idle connections alive.
type Pinger interface {
	Ping() error
}

type callMessage struct {
	Call        int64  `json:"call"`
	Name        string `json:"name"`
	Args        []any  `json:"args"`
	SkipResults bool   `json:"skip_results,omitempty"`
}

type returnMessage struct {
	Return int64 `json:"return"`
	Value  any   `json:"value"`
}

type incomingMessage struct {
	Call        *int64 `json:"call"`
	Return      *int64 `json:"return"`
	Name        string `json:"name"`
	Args        []any  `json:"args"`
	Value       any    `json:"value"`
	Error       string `json:"error"`
	SkipResults bool   `json:"skip_results"`
}

// Connection is one frontend attached to a session. Every incoming message is handled on its
// own goroutine; outgoing messages are queued and written by a single writer.
type Connection struct {
	ID      string
	Created time.Time

	session   *Session
	transport Transport
	queue     chan []byte
	ready     atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newConnection(s *Session, t Transport) *Connection {
	return &Connection{
		ID:        ulid.Make().String(),
		Created:   time.Now(),
		session:   s,
		transport: t,
		queue:     make(chan []byte, s.settings.SendQueueSize),
		done:      make(chan struct{}),
	}
}

func (c *Connection) fatal(fmsg string, p ...any) {
	msg := fmt.Sprintf(fmsg, p...)
	glog.Errorf("webgui: connection %s: FATAL: %s", c.ID, msg)
	c.closeWith(errors.Wrap(ErrConnectionClosed, msg))
}

func (c *Connection) warn(fmsg string, p ...any) {
	glog.Warningf("webgui: connection %s: %s", c.ID, fmt.Sprintf(fmsg, p...))
}

func (c *Connection) closeWith(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.transport.Close()
	})
}

// Close closes the connection. The session notices and detaches it.
func (c *Connection) Close() error {
	c.closeWith(ErrConnectionClosed)
	return nil
}

// Err returns why the connection closed, or nil while it is open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Ready reports whether the frontend completed its handshake.
func (c *Connection) Ready() bool {
	return c.ready.Load()
}

func (c *Connection) Session() *Session {
	return c.session
}

func (c *Connection) sendMessage(msg any) error {
	buf, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "message encoding failed")
	}
	return c.send(buf)
}

// send queues buf, blocking while the queue is full.
func (c *Connection) send(buf []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.queue <- buf:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

// write runs in an internal goroutine and is the only writer of the transport.
func (c *Connection) write() {
	var tick <-chan time.Time
	pinger, canPing := c.transport.(Pinger)
	if canPing && c.session.settings.PingInterval > 0 {
		ticker := time.NewTicker(c.session.settings.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case buf := <-c.queue:
			if glog.V(2) {
				glog.Infof("webgui: connection %s: send %s", c.ID, buf)
			}
			if err := c.transport.WriteMessage(buf); err != nil {
				c.fatal("write error: %s", err)
				return
			}
		case <-tick:
			if err := pinger.Ping(); err != nil {
				c.fatal("ping error: %s", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// run reads messages until the transport fails or ctx is done. Each message is handled on
// its own goroutine, so a slow handler never stalls reading.
func (c *Connection) run(ctx context.Context) error {
	go c.write()
	go func() {
		select {
		case <-ctx.Done():
			c.closeWith(ctx.Err())
		case <-c.done:
		}
	}()

	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			c.closeWith(errors.Wrap(ErrConnectionClosed, err.Error()))
			break
		}
		if glog.V(2) {
			glog.Infof("webgui: connection %s: received %s", c.ID, data)
		}
		go c.session.handleMessage(c, data)
	}
	return c.Err()
}
