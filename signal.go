package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// serveSignals routes the signals a running server reacts to. SIGHUP is
// forwarded on reload. The first SIGINT or SIGTERM cancels ctx, which
// starts the graceful drain; a second one exits at once.
type serveSignals struct {
	ctx    context.Context
	reload <-chan struct{}
	stop   func()
}

func watchSignals(parent context.Context, logger *slog.Logger) *serveSignals {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	// Reload requests coalesce while one is pending.
	reload := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		draining := false

		for {
			var sig os.Signal

			select {
			case sig = <-sigCh:
			case <-done:
				return
			case <-parent.Done():
				return
			}

			attr := slog.String("signal", sig.String())

			switch {
			case sig == syscall.SIGHUP:
				select {
				case reload <- struct{}{}:
				default:
				}
			case draining:
				logger.Warn("second shutdown signal, exiting without draining", attr)
				os.Exit(1)
			default:
				logger.Info("shutting down, draining requests", attr)

				draining = true
				cancel()
			}
		}
	}()

	return &serveSignals{
		ctx:    ctx,
		reload: reload,
		stop: func() {
			close(done)
			cancel()
		},
	}
}
