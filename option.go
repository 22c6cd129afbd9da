package netframe

import (
	"time"
)

// options holds the configuration for a connection.
type options struct {
	logger Logger

	// onError observes read and write failures. The connection is closed
	// regardless of what the callback does.
	onError func(id uint32, err error)

	bufferSize      int           // outbound queue capacity, 0 is unbounded
	inboundCapacity int           // inbound queue capacity, 0 is unbounded
	maxReadLength   int           // maximum size of a single message body
	idleTimeout     time.Duration // read deadline, 0 disables it
	dialTimeout     time.Duration // per-endpoint connect timeout, 0 disables it
}

// Option is a function that configures connection options.
type Option func(*options)

// BufferSizeOption returns an Option that caps the outbound queue of each
// connection. Send fails with ErrQueueFull once size messages are pending.
// The default is unbounded.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// InboundCapacityOption returns an Option that caps the shared inbound
// queue. A connection whose message does not fit is treated as failed and
// closed. The default is unbounded.
func InboundCapacityOption(size int) Option {
	return func(o *options) {
		o.inboundCapacity = size
	}
}

// IdleTimeoutOption returns an Option that closes a connection when no
// bytes arrive for the given duration. Zero, the default, waits forever.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// DialTimeoutOption returns an Option that bounds each connect attempt.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// MessageMaxSize returns an Option that sets the maximum message body size.
// A header announcing a larger body is treated as a read failure.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked with the connection id when a read or write fails.
func OnErrorOption(cb func(id uint32, err error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Default configuration values.
const (
	// defaultMaxPackageLength is the default maximum size of a message body (1MB).
	defaultMaxPackageLength = 1024 * 1024
	// defaultReadBufferSize is the size of the buffered reader in front of the socket.
	defaultReadBufferSize = 4096
)

func newOptions(opt ...Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for connection options.
func checkOptions(opts *options) {
	if opts.bufferSize < 0 {
		opts.bufferSize = 0
	}

	if opts.inboundCapacity < 0 {
		opts.inboundCapacity = 0
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}

	if opts.idleTimeout < 0 {
		opts.idleTimeout = 0
	}

	if opts.onError == nil {
		opts.onError = func(uint32, error) {}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}
