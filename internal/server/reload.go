package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tonimelisma/driveindex/internal/config"
)

// Generation is one built Server together with the config it came from and
// the resources it owns. A Generation is served by a Reloadable until it is
// swapped out and retired.
type Generation struct {
	Config *config.Config
	Server *Server

	// Closer releases what Server depends on, such as the user store.
	// Nil when there is nothing to release.
	Closer io.Closer

	inflight sync.WaitGroup
	retire   sync.Once
	err      error
}

// Retire waits for requests still running on g, then releases its
// resources. If ctx ends first the resources are released anyway and the
// context error is reported alongside any close error. Retire is idempotent.
func (g *Generation) Retire(ctx context.Context) error {
	g.retire.Do(func() {
		drained := make(chan struct{})

		go func() {
			g.inflight.Wait()
			close(drained)
		}()

		var waitErr error

		select {
		case <-drained:
		case <-ctx.Done():
			waitErr = fmt.Errorf("requests still running: %w", ctx.Err())
		}

		var closeErr error
		if g.Closer != nil {
			closeErr = g.Closer.Close()
		}

		g.err = errors.Join(waitErr, closeErr)
	})

	return g.err
}

// Reloadable is an http.Handler whose Generation can be replaced while
// requests are in flight. Each request is counted against the generation
// that accepted it.
type Reloadable struct {
	mu  sync.RWMutex
	cur *Generation
}

// NewReloadable creates a Reloadable serving g.
func NewReloadable(g *Generation) *Reloadable {
	return &Reloadable{cur: g}
}

// Current returns the generation new requests go to.
func (r *Reloadable) Current() *Generation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.cur
}

// Swap installs g and returns the generation it replaced. Once Swap returns
// no new request is counted against the previous generation, so it can be
// retired.
func (r *Reloadable) Swap(g *Generation) *Generation {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.cur
	r.cur = g

	return prev
}

// ServeHTTP implements http.Handler.
func (r *Reloadable) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	g := r.cur
	g.inflight.Add(1)
	r.mu.RUnlock()

	defer g.inflight.Done()

	g.Server.ServeHTTP(w, req)
}
