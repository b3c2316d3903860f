package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relengtools/composer/internal/compose"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
)

type fakePusher struct {
	mu       sync.Mutex
	requests []Request
	err      error
	called   chan struct{}
}

func (p *fakePusher) Run(_ context.Context, req Request) ([]*compose.Result, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.called != nil {
		select {
		case p.called <- struct{}{}:
		default:
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	out := make([]*compose.Result, len(req.Composes))
	for i, ref := range req.Composes {
		out[i] = &compose.Result{Compose: ref.String(), Success: true}
	}
	return out, nil
}

func composeStore(t *testing.T, states map[string]models.ComposeState) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	for key, state := range states {
		release, request, err := models.ParseComposeKey(key)
		require.NoError(t, err)
		c := models.NewCompose(release, request, models.ContentRPM, fixedNow)
		c.State = state
		require.NoError(t, s.CreateCompose(context.Background(), c))
	}
	return s
}

func TestWatcher_PollPushesRequestedComposes(t *testing.T) {
	t.Parallel()

	s := composeStore(t, map[string]models.ComposeState{
		"F40-testing": models.ComposeRequested,
		"F40-stable":  models.ComposePunging,
		"F39-testing": models.ComposeFailed,
	})
	p := &fakePusher{}
	w := newWatcher(s, p, time.Minute, slog.New(slog.DiscardHandler))

	w.poll(context.Background())
	require.Len(t, p.requests, 1)
	assert.Equal(t, []ComposeRef{{Release: "F40", Request: models.RequestTesting}}, p.requests[0].Composes)
	assert.False(t, p.requests[0].Resume)
	assert.Equal(t, "watcher", p.requests[0].Agent)
}

func TestWatcher_PollWithoutWork(t *testing.T) {
	t.Parallel()

	s := composeStore(t, map[string]models.ComposeState{"F40-testing": models.ComposePending})
	p := &fakePusher{err: ErrPushInProgress}
	w := newWatcher(s, p, time.Minute, slog.New(slog.DiscardHandler))

	w.poll(context.Background())
	assert.Empty(t, p.requests)
}

func TestWatcher_PollSurvivesPushErrors(t *testing.T) {
	t.Parallel()

	s := composeStore(t, map[string]models.ComposeState{"F40-testing": models.ComposeRequested})
	for _, err := range []error{ErrPushInProgress, errors.New("database unavailable")} {
		p := &fakePusher{err: err}
		w := newWatcher(s, p, time.Minute, slog.New(slog.DiscardHandler))
		w.poll(context.Background())
		assert.Len(t, p.requests, 1)
	}
}

func TestWatcher_StartStop(t *testing.T) {
	t.Parallel()

	s := composeStore(t, map[string]models.ComposeState{"F40-testing": models.ComposeRequested})
	p := &fakePusher{called: make(chan struct{}, 1)}
	w := newWatcher(s, p, time.Hour, slog.New(slog.DiscardHandler))

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(context.Background()) }()

	select {
	case <-p.called:
	case <-time.After(5 * time.Second):
		t.Fatal("initial poll did not run")
	}

	require.NoError(t, w.Stop())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_JitteredInterval(t *testing.T) {
	t.Parallel()

	w := newWatcher(nil, nil, 40*time.Second, nil)
	for range 50 {
		d := w.jitteredInterval()
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.Less(t, d, 50*time.Second)
	}
}
