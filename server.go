package netframe

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

// ErrServerStarted is returned by Start on a running server.
var ErrServerStarted = errors.New("server already started")

// DefaultBaseID is the id given to the first accepted connection.
const DefaultBaseID uint32 = 10000

// Handler is the application side of a Server.
type Handler[K Kind] interface {
	// OnClientConnected is called for each accepted connection before it is
	// added to the server. Returning false closes it. conn.ID() already holds
	// the id the connection gets if accepted, and messages sent from here are
	// written once the connection starts.
	OnClientConnected(conn *Conn[K]) bool
	// OnClientDisconnected is called once for each connection the server
	// finds closed and removes.
	OnClientDisconnected(conn *Conn[K])
	// OnMessage is called from Update for each received message.
	OnMessage(conn *Conn[K], msg *Message[K])
}

// BaseHandler rejects every connection and ignores everything else.
// Embed it to override only some hooks.
type BaseHandler[K Kind] struct{}

func (BaseHandler[K]) OnClientConnected(*Conn[K]) bool { return false }
func (BaseHandler[K]) OnClientDisconnected(*Conn[K])   {}
func (BaseHandler[K]) OnMessage(*Conn[K], *Message[K]) {}

// serverOptions holds the configuration for a server.
type serverOptions struct {
	logger         Logger
	maxConnections int
	baseID         uint32
	conn           []Option
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

// ServerLoggerOption sets the logger for the server and, unless
// ConnOptions sets another one, for its connections.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// MaxConnectionsOption limits the number of simultaneously open accepted
// sockets. Further peers wait in the listen backlog. Zero means no limit.
func MaxConnectionsOption(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConnections = n
	}
}

// BaseIDOption sets the id of the first accepted connection.
func BaseIDOption(id uint32) ServerOption {
	return func(o *serverOptions) {
		o.baseID = id
	}
}

// ConnOptions sets the options applied to every accepted connection and to
// the server's inbound queue.
func ConnOptions(opts ...Option) ServerOption {
	return func(o *serverOptions) {
		o.conn = append(o.conn, opts...)
	}
}

// Server accepts connections and keeps one Conn per accepted peer.
// Messages from all peers arrive on one queue, drained by Update.
type Server[K Kind] struct {
	handler  Handler[K]
	logger   Logger
	opts     serverOptions
	connOpts options
	incoming *Queue[OwnedMessage[K]]

	mu          sync.Mutex
	listener    net.Listener
	ioc         *ioContext
	connections []*Conn[K]
	nextID      uint32
}

// NewServer creates a stopped server. A nil handler rejects every
// connection.
func NewServer[K Kind](handler Handler[K], opt ...ServerOption) *Server[K] {
	opts := serverOptions{baseID: DefaultBaseID}
	for _, o := range opt {
		o(&opts)
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	if handler == nil {
		handler = BaseHandler[K]{}
	}

	connOpts := newOptions(append([]Option{LoggerOption(opts.logger)}, opts.conn...)...)

	return &Server[K]{
		handler:  handler,
		logger:   opts.logger,
		opts:     opts,
		connOpts: connOpts,
		incoming: NewBoundedQueue[OwnedMessage[K]](connOpts.inboundCapacity),
		nextID:   opts.baseID,
	}
}

// Start listens on port on all interfaces and starts accepting. Port 0
// picks a free port, see Addr.
func (s *Server[K]) Start(port uint16) error {
	return s.StartAddr(net.JoinHostPort("", strconv.Itoa(int(port))))
}

// StartAddr listens on addr and starts accepting.
func (s *Server[K]) StartAddr(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrServerStarted
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error("server start failed", "addr", addr, "error", err)
		return errors.Wrapf(err, "listen on %s", addr)
	}
	if s.opts.maxConnections > 0 {
		listener = netutil.LimitListener(listener, s.opts.maxConnections)
	}

	ioc := newIOContext(s.logger)
	s.listener = listener
	s.ioc = ioc
	ioc.spawn(func() {
		s.acceptLoop(listener, ioc)
	})

	s.logger.Info("server started", "addr", listener.Addr())
	return nil
}

// Stop closes the listener and every connection and waits for their
// goroutines. Queued inbound messages are kept.
func (s *Server[K]) Stop() {
	s.mu.Lock()
	listener, ioc := s.listener, s.ioc
	s.listener, s.ioc = nil, nil
	s.connections = nil
	s.mu.Unlock()

	if listener == nil {
		return
	}

	ioc.cancel()
	_ = listener.Close()
	ioc.stop()

	s.logger.Info("server stopped", "addr", listener.Addr())
}

// Addr returns the listener's network address, nil when stopped.
func (s *Server[K]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop accepts until the server stops. Accept errors never stop it;
// it retries after a growing delay.
func (s *Server[K]) acceptLoop(listener net.Listener, ioc *ioContext) {
	retry := &backoff.Backoff{Min: 5 * time.Millisecond, Max: time.Second, Factor: 2}

	for {
		rawConn, err := listener.Accept()
		if err != nil {
			if ioc.stopped() || errors.Is(err, net.ErrClosed) {
				return
			}

			delay := retry.Duration()
			s.logger.Error("accept error", "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-ioc.ctx.Done():
				return
			}
			continue
		}
		retry.Reset()

		s.logger.Debug("accepted connection", "remote_addr", rawConn.RemoteAddr())
		s.admit(ioc, rawConn)
	}
}

// admit runs the connect hook and either keeps the connection under the
// next id or closes it.
func (s *Server[K]) admit(ioc *ioContext, rawConn net.Conn) {
	conn := newConn[K](RoleServer, ioc, rawConn, s.incoming, s.connOpts)

	s.mu.Lock()
	id := s.nextID
	s.mu.Unlock()
	conn.id.Store(id)

	if !s.handler.OnClientConnected(conn) {
		s.logger.Info("connection denied", "addr", rawConn.RemoteAddr())
		conn.discard()
		return
	}

	s.mu.Lock()
	if s.ioc != ioc {
		// Stopped while the hook ran.
		s.mu.Unlock()
		conn.discard()
		return
	}
	s.nextID++
	s.connections = append(s.connections, conn)
	s.mu.Unlock()

	if err := conn.ConnectToClient(id); err != nil {
		s.logger.Warn("connection lost before start", "id", id, "error", err)
		conn.discard()
		return
	}
	s.logger.Info("connection approved", "id", id, "addr", rawConn.RemoteAddr())
}

// MessageClient sends msg to conn. If conn turns out to be closed it is
// removed and OnClientDisconnected is called.
func (s *Server[K]) MessageClient(conn *Conn[K], msg Message[K]) error {
	if conn == nil {
		return ErrConnectionClosed
	}

	err := conn.Send(msg)
	if errors.Is(err, ErrConnectionClosed) {
		s.prune(conn)
	}
	return err
}

// MessageAllClients sends msg to every open connection except exclude,
// which may be nil. Closed connections found on the way are removed after
// the scan and reported through OnClientDisconnected.
func (s *Server[K]) MessageAllClients(msg Message[K], exclude *Conn[K]) {
	var dead []*Conn[K]
	for _, conn := range s.Connections() {
		if !conn.IsConnected() {
			dead = append(dead, conn)
			continue
		}
		if conn == exclude {
			continue
		}

		err := conn.Send(msg)
		switch {
		case errors.Is(err, ErrConnectionClosed):
			dead = append(dead, conn)
		case err != nil:
			s.logger.Warn("broadcast send failed", "id", conn.ID(), "error", err)
		}
	}

	if len(dead) > 0 {
		s.prune(dead...)
	}
}

// prune removes conns from the collection in one pass and calls the
// disconnect hook for each one that was still in it.
func (s *Server[K]) prune(conns ...*Conn[K]) {
	drop := make(map[*Conn[K]]struct{}, len(conns))
	for _, conn := range conns {
		drop[conn] = struct{}{}
	}

	var removed []*Conn[K]
	s.mu.Lock()
	kept := s.connections[:0]
	for _, conn := range s.connections {
		if _, ok := drop[conn]; ok {
			removed = append(removed, conn)
			continue
		}
		kept = append(kept, conn)
	}
	clear(s.connections[len(kept):])
	s.connections = kept
	s.mu.Unlock()

	for _, conn := range removed {
		s.logger.Info("client disconnected", "id", conn.ID())
		s.handler.OnClientDisconnected(conn)
	}
}

// Update passes up to maxMessages queued messages to OnMessage in arrival
// order and returns how many it handled. maxMessages <= 0 drains the queue.
func (s *Server[K]) Update(maxMessages int) int {
	n := 0
	for (maxMessages <= 0 || n < maxMessages) && !s.incoming.IsEmpty() {
		owned := s.incoming.PopFront()
		s.handler.OnMessage(owned.Remote, &owned.Msg)
		n++
	}
	return n
}

// Wait blocks until a message is queued or ctx is done.
func (s *Server[K]) Wait(ctx context.Context) error {
	return s.incoming.Wait(ctx)
}

// Incoming returns the queue Update drains.
func (s *Server[K]) Incoming() *Queue[OwnedMessage[K]] {
	return s.incoming
}

// Connections returns a snapshot of the server's connections, including
// closed ones not yet removed.
func (s *Server[K]) Connections() []*Conn[K] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn[K](nil), s.connections...)
}

// ConnectionCount returns the number of connections the server holds.
func (s *Server[K]) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}
