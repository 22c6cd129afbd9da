// Package netframe provides a message-oriented TCP transport.
//
// Peers exchange discrete messages, each a fixed-size header (kind tag and
// body length) followed by the body. A Client owns one connection to a
// server, a Server owns one connection per accepted peer. Received messages
// from all connections of an owner land in a single inbound Queue which the
// application drains at its own pace.
package netframe

import (
	"bufio"
	"context"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrMessageTooLarge is returned when a message body exceeds the allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrWrongRole is returned when an operation is not legal for the connection's role.
	ErrWrongRole = errors.New("operation not allowed for connection role")
	// ErrNoEndpoints is returned when there is nothing to connect to.
	ErrNoEndpoints = errors.New("no endpoints to connect to")
	// ErrAlreadyConnected is returned when connecting an open connection.
	ErrAlreadyConnected = errors.New("already connected")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Role tells which side of the session owns a connection.
type Role int

const (
	// RoleServer connections are created around accepted sockets.
	RoleServer Role = iota
	// RoleClient connections dial out to a server.
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Conn is one framed TCP connection.
//
// While connected it runs two independent chains: the read chain assembles
// header and body of one message at a time and pushes it to the owner's
// inbound queue, the write chain drains the outbound queue one message at a
// time. Each chain is a single goroutine, so there is never more than one
// read or one write in flight on the socket.
//
// A Conn whose socket has been closed stays valid and inert until its owner
// drops it.
type Conn[K Kind] struct {
	role   Role
	id     atomic.Uint32
	ioc    *ioContext
	logger Logger
	opts   options

	rawConn net.Conn
	reader  *bufio.Reader

	outbound *Queue[Message[K]]
	inbound  *Queue[OwnedMessage[K]]

	// partial is the message currently being assembled by the read chain.
	partial   Message[K]
	headerIn  []byte
	headerOut []byte

	connected atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// newConn creates a connection owned by ioc. rawConn is nil for a client
// connection that has not dialed yet.
func newConn[K Kind](role Role, ioc *ioContext, rawConn net.Conn, inbound *Queue[OwnedMessage[K]], opts options) *Conn[K] {
	c := &Conn[K]{
		role:      role,
		ioc:       ioc,
		logger:    opts.logger,
		opts:      opts,
		outbound:  NewBoundedQueue[Message[K]](opts.bufferSize),
		inbound:   inbound,
		headerIn:  make([]byte, HeaderSize[K]()),
		headerOut: make([]byte, 0, HeaderSize[K]()),
	}
	c.ctx, c.cancel = context.WithCancel(ioc.ctx)

	if rawConn != nil {
		c.attach(rawConn)
	}

	return c
}

func (c *Conn[K]) attach(rawConn net.Conn) {
	c.rawConn = rawConn
	c.reader = bufio.NewReaderSize(rawConn, defaultReadBufferSize)
	c.connected.Store(true)
}

// Role returns the connection's role.
func (c *Conn[K]) Role() Role {
	return c.role
}

// ID returns the id the server assigned, 0 for a client's own connection.
func (c *Conn[K]) ID() uint32 {
	return c.id.Load()
}

// Addr returns the remote address, nil before a client connection dials.
func (c *Conn[K]) Addr() net.Addr {
	if c.rawConn == nil {
		return nil
	}
	return c.rawConn.RemoteAddr()
}

// IsConnected reports whether the socket is open.
func (c *Conn[K]) IsConnected() bool {
	return c.connected.Load()
}

// Pending returns the number of messages waiting to be written.
func (c *Conn[K]) Pending() int {
	return c.outbound.Size()
}

// ConnectToServer dials the endpoints in order and starts the read and
// write chains on the first one that answers. It is only legal for client
// connections. On failure the connection stays unconnected and the caller
// decides whether to retry.
func (c *Conn[K]) ConnectToServer(ctx context.Context, endpoints []string) error {
	if c.role != RoleClient {
		return errors.Wrap(ErrWrongRole, "connect to server")
	}
	if c.IsConnected() {
		return ErrAlreadyConnected
	}
	if len(endpoints) == 0 {
		return ErrNoEndpoints
	}

	dialer := net.Dialer{Timeout: c.opts.dialTimeout}
	var lastErr error
	for _, endpoint := range endpoints {
		rawConn, err := dialer.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			c.logger.Debug("connect attempt failed", "endpoint", endpoint, "error", err)
			lastErr = err
			continue
		}

		c.attach(rawConn)
		c.ioc.spawn(c.run)
		return nil
	}

	return errors.Wrapf(lastErr, "connect to %v", endpoints)
}

// ConnectToClient assigns id to an accepted connection and starts its read
// and write chains. It is only legal for server connections.
func (c *Conn[K]) ConnectToClient(id uint32) error {
	if c.role != RoleServer {
		return errors.Wrap(ErrWrongRole, "connect to client")
	}
	if !c.IsConnected() {
		return ErrConnectionClosed
	}

	c.id.Store(id)
	c.ioc.spawn(c.run)
	return nil
}

// Disconnect asks the connection's goroutines to close the socket. It
// returns immediately; IsConnected turns false once the socket is closed.
func (c *Conn[K]) Disconnect() {
	if !c.IsConnected() {
		return
	}
	c.cancel()
}

// Send queues msg for writing. Messages on one connection are written in
// the order Send was called. The message is copied, so the caller may reuse
// it.
//
// Returns:
//   - nil: message was queued (not yet written)
//   - ErrConnectionClosed: the socket is closed
//   - ErrQueueFull: the outbound queue is bounded and full
//   - ErrMessageTooLarge: the body does not fit the 32-bit length field
func (c *Conn[K]) Send(msg Message[K]) error {
	if !c.IsConnected() {
		return ErrConnectionClosed
	}
	if uint64(len(msg.Body)) > math.MaxUint32 {
		return errors.Wrapf(ErrMessageTooLarge, "body of %d bytes", len(msg.Body))
	}

	msg = msg.clone()
	msg.Header.Size = uint32(len(msg.Body))

	if _, err := c.outbound.TryPushBack(msg); err != nil {
		return err
	}
	return nil
}

// run drives the connection until the socket fails or the connection is
// canceled, then leaves it closed.
func (c *Conn[K]) run() {
	c.logger.Info("connection established", "id", c.ID(), "role", c.role, "addr", c.Addr())

	group, child := errgroup.WithContext(c.ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// Disconnect only cancels; the socket is closed here.
	group.Go(func() error {
		<-child.Done()
		c.closeConn()
		return nil
	})

	err := group.Wait()
	c.cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "id", c.ID(), "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "id", c.ID(), "addr", c.Addr())
	}
}

// readLoop is the read chain: header, then body if there is one, then
// dispatch, then the next header.
func (c *Conn[K]) readLoop(ctx context.Context) error {
	for {
		if c.opts.idleTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))
		}

		header, err := readHeader[K](c.reader, c.headerIn)
		if err != nil {
			return c.fail(ctx, "read header", err)
		}
		if uint64(header.Size) > uint64(c.opts.maxReadLength) {
			err = errors.Wrapf(ErrMessageTooLarge, "body of %d bytes, limit %d", header.Size, c.opts.maxReadLength)
			return c.fail(ctx, "read header", err)
		}

		c.partial = Message[K]{Header: header}
		if header.Size > 0 {
			c.partial.Body = make([]byte, header.Size)
			if _, err = io.ReadFull(c.reader, c.partial.Body); err != nil {
				return c.fail(ctx, "read body", err)
			}
		}

		if err = c.dispatch(); err != nil {
			return c.fail(ctx, "dispatch", err)
		}
	}
}

// dispatch hands the assembled message to the owner. Server connections tag
// it with themselves so the application can reply.
func (c *Conn[K]) dispatch() error {
	owned := OwnedMessage[K]{Msg: c.partial}
	if c.role == RoleServer {
		owned.Remote = c
	}
	c.partial = Message[K]{}

	_, err := c.inbound.TryPushBack(owned)
	return err
}

// writeLoop is the write chain: it idles until the outbound queue is
// non-empty, then writes the front message's header and body and pops it.
// A message leaves the queue only once fully written.
func (c *Conn[K]) writeLoop(ctx context.Context) error {
	for {
		if err := c.outbound.Wait(ctx); err != nil {
			return err
		}

		msg := c.outbound.Front()
		if err := c.writeMessage(msg); err != nil {
			return c.fail(ctx, "write", err)
		}
		c.outbound.PopFront()
	}
}

func (c *Conn[K]) writeMessage(msg Message[K]) error {
	if c.opts.idleTimeout > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout))
	}

	c.headerOut = msg.Header.appendTo(c.headerOut[:0])
	if _, err := c.rawConn.Write(c.headerOut); err != nil {
		return errors.Wrap(err, "header")
	}

	if len(msg.Body) == 0 {
		return nil
	}
	if _, err := c.rawConn.Write(msg.Body); err != nil {
		return errors.Wrap(err, "body")
	}
	return nil
}

// fail closes the socket and ends the chain that hit err. Errors caused by
// our own close after cancellation are reported as the cancellation.
func (c *Conn[K]) fail(ctx context.Context, op string, err error) error {
	c.closeConn()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.logger.Debug(op+" failed", "id", c.ID(), "addr", c.Addr(), "error", err)
	c.opts.onError(c.ID(), err)
	return errors.Wrap(err, op)
}

// discard closes a connection that never started and releases its context.
func (c *Conn[K]) discard() {
	c.closeConn()
	c.cancel()
}

// closeConn marks the connection as closed and closes the underlying socket.
func (c *Conn[K]) closeConn() {
	if c.connected.Swap(false) {
		_ = c.rawConn.Close()
	}
}
