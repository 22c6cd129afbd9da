package netframe

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestBufferSizeOption(t *testing.T) {
	opt := BufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.bufferSize != 100 {
		t.Errorf("bufferSize = %d, want 100", opts.bufferSize)
	}
}

func TestInboundCapacityOption(t *testing.T) {
	opt := InboundCapacityOption(64)

	var opts options
	opt(&opts)

	if opts.inboundCapacity != 64 {
		t.Errorf("inboundCapacity = %d, want 64", opts.inboundCapacity)
	}
}

func TestIdleTimeoutOption(t *testing.T) {
	timeout := time.Minute * 5
	opt := IdleTimeoutOption(timeout)

	var opts options
	opt(&opts)

	if opts.idleTimeout != timeout {
		t.Errorf("idleTimeout = %v, want %v", opts.idleTimeout, timeout)
	}
}

func TestDialTimeoutOption(t *testing.T) {
	opt := DialTimeoutOption(time.Second)

	var opts options
	opt(&opts)

	if opts.dialTimeout != time.Second {
		t.Errorf("dialTimeout = %v, want %v", opts.dialTimeout, time.Second)
	}
}

func TestMessageMaxSize(t *testing.T) {
	opt := MessageMaxSize(4096)

	var opts options
	opt(&opts)

	if opts.maxReadLength != 4096 {
		t.Errorf("maxReadLength = %d, want 4096", opts.maxReadLength)
	}
}

func TestOnErrorOption(t *testing.T) {
	var gotID uint32
	onError := func(id uint32, err error) {
		gotID = id
	}
	opt := OnErrorOption(onError)

	var opts options
	opt(&opts)

	if opts.onError == nil {
		t.Fatal("onError is nil")
	}

	// Call to verify it's the right function
	opts.onError(42, errors.New("boom"))
	if gotID != 42 {
		t.Errorf("onError got id %d, want 42", gotID)
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &mockLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestCheckOptions_DefaultValues(t *testing.T) {
	opts := &options{
		bufferSize:      -1,
		inboundCapacity: -5,
		idleTimeout:     -time.Second,
	}

	checkOptions(opts)

	if opts.bufferSize != 0 {
		t.Errorf("bufferSize = %d, want 0", opts.bufferSize)
	}
	if opts.inboundCapacity != 0 {
		t.Errorf("inboundCapacity = %d, want 0", opts.inboundCapacity)
	}
	if opts.maxReadLength != defaultMaxPackageLength {
		t.Errorf("maxReadLength = %d, want %d", opts.maxReadLength, defaultMaxPackageLength)
	}
	if opts.idleTimeout != 0 {
		t.Errorf("idleTimeout = %v, want 0", opts.idleTimeout)
	}
	if opts.onError == nil {
		t.Error("onError should have default value")
	}
	if opts.logger == nil {
		t.Error("logger should have default value")
	}
}

func TestNewOptions_MultipleOptions(t *testing.T) {
	logger := &mockLogger{}

	opts := newOptions(
		LoggerOption(logger),
		BufferSizeOption(50),
		InboundCapacityOption(10),
		MessageMaxSize(8192),
		IdleTimeoutOption(time.Second*45),
		DialTimeoutOption(time.Second*3),
	)

	if opts.logger != logger {
		t.Error("logger not set")
	}
	if opts.bufferSize != 50 {
		t.Errorf("bufferSize = %d, want 50", opts.bufferSize)
	}
	if opts.inboundCapacity != 10 {
		t.Errorf("inboundCapacity = %d, want 10", opts.inboundCapacity)
	}
	if opts.maxReadLength != 8192 {
		t.Errorf("maxReadLength = %d, want 8192", opts.maxReadLength)
	}
	if opts.idleTimeout != time.Second*45 {
		t.Errorf("idleTimeout = %v, want 45s", opts.idleTimeout)
	}
	if opts.dialTimeout != time.Second*3 {
		t.Errorf("dialTimeout = %v, want 3s", opts.dialTimeout)
	}
}

func TestServerOptions(t *testing.T) {
	logger := &mockLogger{}
	var opts serverOptions
	for _, o := range []ServerOption{
		ServerLoggerOption(logger),
		MaxConnectionsOption(3),
		BaseIDOption(500),
		ConnOptions(BufferSizeOption(1)),
		ConnOptions(MessageMaxSize(16)),
	} {
		o(&opts)
	}

	if opts.logger != logger {
		t.Error("logger not set")
	}
	if opts.maxConnections != 3 {
		t.Errorf("maxConnections = %d, want 3", opts.maxConnections)
	}
	if opts.baseID != 500 {
		t.Errorf("baseID = %d, want 500", opts.baseID)
	}
	if len(opts.conn) != 2 {
		t.Errorf("conn options = %d, want 2", len(opts.conn))
	}
}
