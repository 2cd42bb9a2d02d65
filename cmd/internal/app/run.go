package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"
)

// Run is the CLI entrypoint used by cmd/relay.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	log, logCloser := NewLogger(cfg)
	defer func() { _ = logCloser.Close() }()

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug("runtime.maxprocs", "msg", fmt.Sprintf(format, args...))
	}))
	defer undo()
	if err != nil {
		log.Warn("runtime.maxprocs.fail", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}

	return a.Run(ctx)
}
