package netframe

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// ioContext owns every goroutine started on behalf of one client or server.
// Stopping it cancels all connections and waits for their goroutines.
type ioContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	logger Logger
}

func newIOContext(logger Logger) *ioContext {
	ctx, cancel := context.WithCancel(context.Background())
	return &ioContext{ctx: ctx, cancel: cancel, logger: logger}
}

// spawn runs f on its own goroutine. A panic in f is logged with the stack
// of the spawning goroutine and re-raised.
func (ioc *ioContext) spawn(f func()) {
	spawnStack := debug.Stack()
	ioc.group.Go(func() error {
		defer func() {
			if err := recover(); err != nil {
				ioc.logger.Error("fatal error in I/O goroutine",
					"error", fmt.Sprintf("%+v", err), "spawned_at", string(spawnStack))
				panic(err)
			}
		}()
		f()
		return nil
	})
}

func (ioc *ioContext) stopped() bool {
	return ioc.ctx.Err() != nil
}

// stop cancels the context and waits for every spawned goroutine.
func (ioc *ioContext) stop() {
	ioc.cancel()
	_ = ioc.group.Wait()
}
