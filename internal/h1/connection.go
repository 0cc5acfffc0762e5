package h1

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"
)

var (
	// ErrReadTimeout is returned when a connection stays idle in the READ
	// state for longer than the configured read timeout.
	ErrReadTimeout = errors.New("h1: read timeout")
	// ErrMalformedRequest marks a framed message whose start line or headers
	// cannot be parsed.
	ErrMalformedRequest = errors.New("h1: malformed request")
	// ErrOverloaded is reported when the worker pool refuses a dispatch.
	ErrOverloaded = errors.New("h1: worker pool overloaded")
)

// overloadResponse is sent when no worker is free to dispatch a request.
var overloadResponse = []byte("HTTP/1.1 503 Service Unavailable\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Length: 19\r\n" +
	"Connection: close\r\n" +
	"\r\n" +
	"Service Unavailable")

// State is a connection's position in its single request/response cycle.
type State uint8

const (
	StateRead State = iota
	StateWrite
	StateSend
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRead:
		return "READ"
	case StateWrite:
		return "WRITE"
	case StateSend:
		return "SEND"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ClientInfo describes both ends of an accepted connection.
type ClientInfo struct {
	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

// Dispatcher turns one framed raw message into wire-ready response bytes.
// An error closes the connection without a response.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte) ([]byte, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, raw []byte) ([]byte, error)

// Dispatch calls f(ctx, raw).
func (f DispatcherFunc) Dispatch(ctx context.Context, raw []byte) ([]byte, error) {
	return f(ctx, raw)
}

// Factory builds the dispatcher for one accepted connection.
type Factory func(info ClientInfo) Dispatcher

// netConn is the part of gnet.Conn a Connection drives.
type netConn interface {
	Read(p []byte) (int, error)
	InboundBuffered() int
	Discard(n int) (int, error)
	AsyncWrite(buf []byte, callback gnet.AsyncCallback) error
	Close() error
}

// scheduler runs dispatch work off the event loop.
type scheduler interface {
	Submit(task func()) error
}

type connOptions struct {
	bufferSize  int
	policy      GrowthPolicy
	readTimeout time.Duration
	logger      *zap.Logger
	observer    Observer
}

// Connection drives one accepted socket through READ -> WRITE -> SEND and
// closes it. The socket is never reused for a second request.
type Connection struct {
	mu         sync.Mutex
	conn       netConn
	ctx        context.Context
	dispatcher Dispatcher
	pool       scheduler
	policy     GrowthPolicy
	logger     *zap.Logger
	observer   Observer

	state    State
	buf      []byte // initial, fixed-size buffer
	n        int
	grown    []byte // replacement buffer, allocated at most once
	gn       int
	boundary string
	grows    int

	readTimeout time.Duration
	timer       *time.Timer
}

func newConnection(ctx context.Context, c netConn, d Dispatcher, pool scheduler, opts connOptions) *Connection {
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.observer == nil {
		opts.observer = nopObserver{}
	}

	conn := &Connection{
		conn:        c,
		ctx:         ctx,
		dispatcher:  d,
		pool:        pool,
		policy:      opts.policy,
		logger:      opts.logger,
		observer:    opts.observer,
		state:       StateRead,
		buf:         make([]byte, opts.bufferSize),
		readTimeout: opts.readTimeout,
	}
	if opts.readTimeout > 0 {
		conn.timer = time.AfterFunc(opts.readTimeout, conn.onReadTimeout)
	}
	return conn
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Grows returns how many times the read buffer was replaced (0 or 1).
func (c *Connection) Grows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grows
}

// Message returns the bytes accumulated so far, from the grown buffer when
// one exists.
func (c *Connection) Message() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageLocked()
}

func (c *Connection) messageLocked() []byte {
	if c.grown != nil {
		return c.grown[:c.gn]
	}
	return c.buf[:c.n]
}

// OnTraffic consumes everything the event loop buffered for this connection.
// Each read is one READ completion; the framed message is scheduled for
// dispatch once reading is done.
func (c *Connection) OnTraffic() {
	raw, ok := c.read()
	if ok {
		c.schedule(raw)
	}
}

func (c *Connection) read() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.state == StateRead && c.conn.InboundBuffered() > 0 {
		var dst []byte
		if c.grown != nil {
			dst = c.grown[c.gn:]
		} else {
			dst = c.buf[c.n:]
		}
		n, err := c.conn.Read(dst)
		if err != nil {
			c.failLocked(fmt.Errorf("read: %w", err))
			return nil, false
		}
		if err := c.readCompleted(n); err != nil {
			c.failLocked(err)
			return nil, false
		}
	}

	if c.state != StateRead {
		// one request per connection; anything after it is dropped
		if extra := c.conn.InboundBuffered(); extra > 0 {
			_, _ = c.conn.Discard(extra)
		}
	}
	if c.state != StateWrite {
		return nil, false
	}
	return c.messageLocked(), true
}

func (c *Connection) readCompleted(n int) error {
	if c.timer != nil {
		c.timer.Reset(c.readTimeout)
	}

	snap := Snapshot{Boundary: c.boundary}
	if c.grown != nil {
		c.gn += n
		snap.Data, snap.Capacity, snap.Grown = c.grown[:c.gn], len(c.grown), true
	} else {
		c.n += n
		snap.Data, snap.Capacity = c.buf[:c.n], len(c.buf)
	}

	d, err := Decide(snap, c.policy)
	if err != nil {
		return err
	}
	c.boundary = d.Boundary

	switch d.Action {
	case ActionGrow:
		c.grown = make([]byte, d.Size)
		c.gn = copy(c.grown, c.buf[:c.n])
		c.n = 0
		c.grows++
		c.observer.BufferGrown(d.Size)
		c.logger.Debug("read buffer grown", zap.Int("size", d.Size), zap.Int("carried", c.gn))
	case ActionComplete:
		c.state = StateWrite
		c.stopTimerLocked()
		c.observer.RequestFramed(c.n + c.gn)
	}
	return nil
}

func (c *Connection) schedule(raw []byte) {
	err := c.pool.Submit(func() { c.dispatch(raw) })
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		c.logger.Warn("dispatch rejected", zap.Error(err))
		c.observer.ConnectionFailed(Reason(ErrOverloaded))
		c.send(overloadResponse)
	default:
		c.fail(fmt.Errorf("schedule dispatch: %w", err))
	}
}

func (c *Connection) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.fail(fmt.Errorf("dispatch panic: %v", r))
		}
	}()

	out, err := c.dispatcher.Dispatch(c.ctx, raw)
	if err != nil {
		c.fail(fmt.Errorf("dispatch: %w", err))
		return
	}
	c.send(out)
}

func (c *Connection) send(out []byte) {
	c.mu.Lock()
	if c.state != StateWrite {
		c.mu.Unlock()
		return
	}
	c.state = StateSend
	c.mu.Unlock()

	err := c.conn.AsyncWrite(out, func(_ gnet.Conn, err error) error {
		c.sent(len(out), err)
		return nil
	})
	if err != nil {
		c.fail(fmt.Errorf("write: %w", err))
	}
}

func (c *Connection) sent(n int, err error) {
	if err != nil {
		c.fail(fmt.Errorf("write: %w", err))
		return
	}

	c.mu.Lock()
	if c.state != StateSend {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.observer.ResponseSent(n)
	_ = c.conn.Close()
}

func (c *Connection) onReadTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRead {
		return
	}
	c.failLocked(fmt.Errorf("%w after %s", ErrReadTimeout, c.readTimeout))
}

// OnClose records that the socket is gone, whoever closed it.
func (c *Connection) OnClose(err error) {
	c.mu.Lock()
	prev := c.state
	c.state = StateClosed
	c.stopTimerLocked()
	c.mu.Unlock()

	if prev == StateRead || prev == StateWrite {
		c.logger.Debug("peer closed connection early", zap.Stringer("state", prev), zap.Error(err))
	}
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failLocked(err)
}

func (c *Connection) failLocked(err error) {
	if c.state == StateClosed {
		return
	}
	prev := c.state
	c.state = StateClosed
	c.stopTimerLocked()

	c.logger.Warn("connection failed", zap.Stringer("state", prev), zap.Error(err))
	c.observer.ConnectionFailed(Reason(err))
	_ = c.conn.Close()
}

func (c *Connection) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
}
