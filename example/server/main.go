package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/netframe"
	"github.com/Zereker/netframe/example/internal/demo"
)

// handler greets every client with its id, bounces pings and relays
// MessageAll requests to everybody else.
type handler struct {
	netframe.BaseHandler[demo.Kind]

	server *netframe.Server[demo.Kind]
	logger *slog.Logger
}

func (h *handler) OnClientConnected(conn *netframe.Conn[demo.Kind]) bool {
	msg := netframe.NewMessage(demo.ServerMessage)
	if err := netframe.Push(&msg, conn.ID()); err != nil {
		h.logger.Error("build greeting", "error", err)
		return false
	}
	if err := conn.Send(msg); err != nil {
		h.logger.Warn("send greeting", "id", conn.ID(), "error", err)
		return false
	}
	return true
}

func (h *handler) OnClientDisconnected(conn *netframe.Conn[demo.Kind]) {
	h.logger.Info("removing client", "id", conn.ID())
}

func (h *handler) OnMessage(conn *netframe.Conn[demo.Kind], msg *netframe.Message[demo.Kind]) {
	switch msg.Header.Kind {
	case demo.ServerPing:
		h.logger.Info("ping", "id", conn.ID())
		if err := h.server.MessageClient(conn, *msg); err != nil {
			h.logger.Warn("bounce ping", "id", conn.ID(), "error", err)
		}

	case demo.MessageAll:
		h.logger.Info("message all", "id", conn.ID())
		out := netframe.NewMessage(demo.ServerMessage)
		if err := netframe.Push(&out, conn.ID()); err != nil {
			h.logger.Error("build broadcast", "error", err)
			return
		}
		h.server.MessageAllClients(out, conn)

	default:
		h.logger.Debug("ignoring message", "id", conn.ID(), "kind", msg.Header.Kind)
	}
}

func main() {
	var cfg demo.ServerConfig
	if err := demo.Parse(&cfg, os.Args[1:]); err != nil {
		demo.Exit(err)
	}

	logger, closer, err := demo.NewLogger(cfg.LogConfig)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	h := &handler{logger: logger}
	h.server = netframe.NewServer[demo.Kind](h,
		netframe.ServerLoggerOption(logger),
		netframe.MaxConnectionsOption(cfg.MaxConnections),
	)

	if err := h.server.Start(cfg.Port); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for h.server.Wait(ctx) == nil {
		h.server.Update(0)
	}

	logger.Info("shutting down server...")
	h.server.Stop()
}
