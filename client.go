package netframe

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// Client owns a single connection to a server and the queue its messages
// arrive on.
type Client[K Kind] struct {
	opts     options
	logger   Logger
	incoming *Queue[OwnedMessage[K]]

	mu   sync.Mutex
	ioc  *ioContext
	conn *Conn[K]
}

// NewClient creates an unconnected client.
func NewClient[K Kind](opt ...Option) *Client[K] {
	opts := newOptions(opt...)
	return &Client[K]{
		opts:     opts,
		logger:   opts.logger,
		incoming: NewBoundedQueue[OwnedMessage[K]](opts.inboundCapacity),
	}
}

// Connect resolves host, connects to the first address that answers on
// port and starts the connection's goroutines. The framework does not
// retry; a returned error leaves the client unconnected.
func (c *Client[K]) Connect(host string, port uint16) error {
	return c.ConnectContext(context.Background(), host, port)
}

// ConnectContext is Connect with a context bounding resolution and dialing.
func (c *Client[K]) ConnectContext(ctx context.Context, host string, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return ErrAlreadyConnected
	}
	c.release()

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", host)
	}
	endpoints := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		endpoints = append(endpoints, net.JoinHostPort(addr, strconv.Itoa(int(port))))
	}

	ioc := newIOContext(c.logger)
	conn := newConn[K](RoleClient, ioc, nil, c.incoming, c.opts)
	if err = conn.ConnectToServer(ctx, endpoints); err != nil {
		ioc.stop()
		c.logger.Warn("client connect failed", "host", host, "port", port, "error", err)
		return err
	}

	c.ioc = ioc
	c.conn = conn
	return nil
}

// Disconnect closes the connection, waits for its goroutines and releases
// it. Messages already in Incoming stay there.
func (c *Client[K]) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Disconnect()
	}
	c.release()
}

func (c *Client[K]) release() {
	if c.ioc != nil {
		c.ioc.stop()
	}
	c.ioc = nil
	c.conn = nil
}

// IsConnected reports whether the client's socket is open.
func (c *Client[K]) IsConnected() bool {
	conn := c.Conn()
	if conn == nil {
		return false
	}
	return conn.IsConnected()
}

// Conn returns the client's connection, nil when not connected.
func (c *Client[K]) Conn() *Conn[K] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Send queues msg on the client's connection.
func (c *Client[K]) Send(msg Message[K]) error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

// Incoming returns the queue of received messages. Nothing drains it but
// the application.
func (c *Client[K]) Incoming() *Queue[OwnedMessage[K]] {
	return c.incoming
}

// ErrNotConnected is returned when sending through a client that has no connection.
var ErrNotConnected = errors.New("client not connected")
