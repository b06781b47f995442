package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/driveindex/internal/index"
	"github.com/tonimelisma/driveindex/internal/userstore"
)

type closeCounter struct{ n atomic.Int32 }

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

func TestReloadable_SwapServesNewGeneration(t *testing.T) {
	a := newFixture(t, Options{}, index.Options{}, nil)
	b := newFixture(t, Options{EnableLogin: true}, index.Options{}, userstore.NewStatic(nil))

	first := &Generation{Server: a.srv}
	h := NewReloadable(first)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	second := &Generation{Server: b.srv}
	assert.Same(t, first, h.Swap(second))
	assert.Same(t, second, h.Current())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGeneration_RetireWaitsForInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	users := &closeCounter{}
	old := &Generation{
		Server: &Server{handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			close(entered)
			<-release
			w.WriteHeader(http.StatusNoContent)
		})},
		Closer: users,
	}

	h := NewReloadable(old)

	served := make(chan int, 1)

	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		served <- rec.Code
	}()

	<-entered

	prev := h.Swap(&Generation{Server: &Server{handler: http.NotFoundHandler()}})

	retired := make(chan error, 1)

	go func() { retired <- prev.Retire(context.Background()) }()

	// The old user store stays open while its request runs.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, users.n.Load())

	close(release)

	assert.Equal(t, http.StatusNoContent, <-served)
	require.NoError(t, <-retired)
	assert.Equal(t, int32(1), users.n.Load())

	// Retiring twice closes once.
	require.NoError(t, prev.Retire(context.Background()))
	assert.Equal(t, int32(1), users.n.Load())
}

func TestGeneration_RetireGivesUpAtDeadline(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	users := &closeCounter{}
	g := &Generation{
		Server: &Server{handler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			close(entered)
			<-release
		})},
		Closer: users,
	}

	h := NewReloadable(g)

	go h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	<-entered
	h.Swap(&Generation{Server: &Server{handler: http.NotFoundHandler()}})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := g.Retire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), users.n.Load())
}
