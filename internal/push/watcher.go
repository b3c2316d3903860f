package push

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/relengtools/composer/internal/compose"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
)

// Watcher polls storage for requested composes and pushes them
type Watcher interface {
	// Start polls until the context is cancelled or Stop is called
	Start(ctx context.Context) error

	// Stop stops polling and waits for a running push to finish
	Stop() error
}

type pusher interface {
	Run(ctx context.Context, req Request) ([]*compose.Result, error)
}

type defaultWatcher struct {
	store    store.Store
	pusher   pusher
	interval time.Duration
	logger   *slog.Logger

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// NewWatcher creates a watcher polling every interval, with up to a quarter
// of the interval of random jitter.
func NewWatcher(s store.Store, c *Coordinator, interval time.Duration, logger *slog.Logger) Watcher {
	return newWatcher(s, c, interval, logger)
}

func newWatcher(s store.Store, p pusher, interval time.Duration, logger *slog.Logger) *defaultWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &defaultWatcher{
		store:    s,
		pusher:   p,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// jitteredInterval spreads the polls of several hosts sharing one database
func (w *defaultWatcher) jitteredInterval() time.Duration {
	jitter := w.interval / 4
	if jitter <= 0 {
		return w.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	return w.interval + offset
}

func (w *defaultWatcher) Start(ctx context.Context) error {
	w.logger.Info("Starting compose watcher", "interval", w.interval)

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel
	defer func() {
		cancel()
		close(w.done)
		w.logger.Info("Compose watcher shutting down")
	}()

	ticker := time.NewTicker(w.jitteredInterval())
	defer ticker.Stop()

	w.poll(watchCtx)

	for {
		select {
		case <-ticker.C:
			w.poll(watchCtx)
			ticker.Reset(w.jitteredInterval())
		case <-watchCtx.Done():
			return nil
		}
	}
}

func (w *defaultWatcher) Stop() error {
	if w.cancelFunc != nil {
		w.logger.Info("Stopping compose watcher")
		w.cancelFunc()
		<-w.done
	}
	return nil
}

// poll pushes every compose waiting in the requested state
func (w *defaultWatcher) poll(ctx context.Context) {
	composes, err := w.store.ListComposes(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to list composes", "error", err)
		return
	}

	var refs []ComposeRef
	for _, c := range composes {
		if c.State == models.ComposeRequested {
			refs = append(refs, ComposeRef{Release: c.ReleaseName, Request: c.Request})
		}
	}
	if len(refs) == 0 {
		return
	}

	w.logger.InfoContext(ctx, "Found requested composes", "count", len(refs))
	results, err := w.pusher.Run(ctx, Request{Composes: refs, Agent: "watcher"})
	if errors.Is(err, ErrPushInProgress) {
		w.logger.InfoContext(ctx, "Push already running, retrying later")
		return
	}
	if err != nil {
		w.logger.ErrorContext(ctx, "Push failed to start", "error", err)
		return
	}
	for _, r := range results {
		if r.Err != nil {
			w.logger.WarnContext(ctx, "Compose failed", "compose", r.Compose, "error", r.Err)
		}
	}
}
