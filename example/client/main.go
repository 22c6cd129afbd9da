package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/term"

	"github.com/Zereker/netframe"
	"github.com/Zereker/netframe/example/internal/demo"
)

const pollInterval = 10 * time.Millisecond

func main() {
	var cfg demo.ClientConfig
	if err := demo.Parse(&cfg, os.Args[1:]); err != nil {
		demo.Exit(err)
	}

	logger, closer, err := demo.NewLogger(cfg.LogConfig)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := netframe.NewClient[demo.Kind](netframe.LoggerOption(logger))
	if err := connect(ctx, client, cfg); err != nil {
		logger.Error("failed to connect", "host", cfg.Host, "port", cfg.Port, "error", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			logger.Error("failed to set raw terminal mode", "error", err)
			os.Exit(1)
		}
		defer term.Restore(fd, state)
	}

	say("connected to %s:%d. 1: ping, 2: message all, 3: quit", cfg.Host, cfg.Port)
	run(ctx, client, readKeys(), logger)
}

// connect retries with a growing delay, since the demo server may still be
// starting.
func connect(ctx context.Context, client *netframe.Client[demo.Kind], cfg demo.ClientConfig) error {
	retry := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}

	var err error
	for attempt := 1; attempt <= cfg.Retries; attempt++ {
		if err = client.ConnectContext(ctx, cfg.Host, cfg.Port); err == nil {
			return nil
		}

		select {
		case <-time.After(retry.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func run(ctx context.Context, client *netframe.Client[demo.Kind], keys <-chan byte, logger *slog.Logger) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case key, ok := <-keys:
			if !ok {
				return
			}
			switch key {
			case '1':
				ping(client, logger)
			case '2':
				if err := client.Send(netframe.NewMessage(demo.MessageAll)); err != nil {
					logger.Warn("message all failed", "error", err)
				}
			case '3', 'q', 3: // 3 is ctrl-c in raw mode
				return
			}

		case <-ticker.C:
			if !client.IsConnected() {
				say("server down")
				return
			}
			for !client.Incoming().IsEmpty() {
				handle(client.Incoming().PopFront().Msg)
			}
		}
	}
}

func ping(client *netframe.Client[demo.Kind], logger *slog.Logger) {
	msg := netframe.NewMessage(demo.ServerPing)
	if err := netframe.Push(&msg, time.Now().UnixNano()); err != nil {
		logger.Error("build ping", "error", err)
		return
	}
	if err := client.Send(msg); err != nil {
		logger.Warn("ping failed", "error", err)
	}
}

func handle(msg netframe.Message[demo.Kind]) {
	switch msg.Header.Kind {
	case demo.ServerAccept:
		say("server accepted connection")

	case demo.ServerPing:
		var sent int64
		if err := netframe.Pop(&msg, &sent); err != nil {
			say("malformed ping: %v", err)
			return
		}
		say("ping: %s", time.Since(time.Unix(0, sent)))

	case demo.ServerMessage:
		var id uint32
		if err := netframe.Pop(&msg, &id); err != nil {
			say("malformed server message: %v", err)
			return
		}
		say("hello from [%d]", id)

	default:
		say("unexpected %s", msg)
	}
}

// readKeys delivers stdin byte by byte until it ends.
func readKeys() <-chan byte {
	keys := make(chan byte)
	go func() {
		defer close(keys)
		r := bufio.NewReader(os.Stdin)
		for {
			b, err := r.ReadByte()
			if err != nil {
				return
			}
			keys <- b
		}
	}()
	return keys
}

// say prints a line. The terminal may be in raw mode, so lines end in CRLF.
func say(format string, args ...any) {
	fmt.Printf(format+"\r\n", args...)
}
