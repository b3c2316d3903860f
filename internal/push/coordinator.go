// Package push turns push requests into concurrently running compose workers.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/relengtools/composer/internal/compose"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/notify"
	"github.com/relengtools/composer/internal/otel"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/telemetry"
)

const lockFileName = ".composer.lock"

// ErrPushInProgress is returned when another process holds the push lock
var ErrPushInProgress = errors.New("another push is in progress")

// ComposeRef names an existing compose.
type ComposeRef struct {
	Release string               `json:"release"`
	Request models.UpdateRequest `json:"request"`
}

func (r ComposeRef) String() string {
	return models.ComposeKey(r.Release, r.Request)
}

// Request is a push message. It names either updates by alias, which are
// grouped into new composes, or composes created beforehand.
type Request struct {
	Updates  []string     `json:"updates,omitempty"`
	Composes []ComposeRef `json:"composes,omitempty"`
	// Resume re-runs composes regardless of their state and keeps their checkpoints
	Resume bool   `json:"resume"`
	Agent  string `json:"agent"`
}

// Runner runs one compose to completion.
type Runner interface {
	Run(ctx context.Context) *compose.Result
}

// WorkerFactory builds the runner for a compose.
type WorkerFactory func(release string, request models.UpdateRequest, resume bool) Runner

// NewWorkerFactory returns a factory producing compose workers sharing deps.
func NewWorkerFactory(deps compose.Deps, cfg *config.Config) WorkerFactory {
	return func(release string, request models.UpdateRequest, resume bool) Runner {
		return compose.NewWorker(deps, cfg, release, request, resume)
	}
}

// Coordinator runs push requests.
type Coordinator struct {
	store         store.Store
	newWorker     WorkerFactory
	publisher     notify.Publisher
	maxConcurrent int64
	lockPath      string
	metrics       *telemetry.PushMetrics
	tracer        trace.Tracer
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithPublisher sets the event publisher
func WithPublisher(p notify.Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithPushMetrics sets the push metrics recorder
func WithPushMetrics(m *telemetry.PushMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for push spans
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithLockFile overrides the path of the host-level push lock. An empty
// path disables locking.
func WithLockFile(path string) Option {
	return func(c *Coordinator) {
		c.lockPath = path
	}
}

// New creates a Coordinator. Concurrency and the lock file location come
// from cfg.
func New(cfg *config.Config, s store.Store, factory WorkerFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         s,
		newWorker:     factory,
		maxConcurrent: int64(cfg.GetMaxConcurrentComposes()),
		now:           time.Now,
		logger:        slog.Default(),
	}
	if cfg.ComposeDir != "" {
		c.lockPath = filepath.Join(cfg.ComposeDir, lockFileName)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.publisher == nil {
		c.publisher = notify.NewLogPublisher(c.logger)
	}
	return c
}

type job struct {
	compose  *models.Compose
	security bool
}

// tier orders composes: security stable, stable, security testing, testing.
func (j job) tier() int {
	stable := j.compose.Request == models.RequestStable
	switch {
	case stable && j.security:
		return 0
	case stable:
		return 1
	case j.security:
		return 2
	default:
		return 3
	}
}

const tierCount = 4

// Run executes a push. Composes in one tier run concurrently up to the
// configured limit; a tier finishes before the next starts. Compose
// failures are reported in the results. The returned error covers only
// failures to start the push.
func (c *Coordinator) Run(ctx context.Context, req Request) ([]*compose.Result, error) {
	unlock, err := c.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	pushID := uuid.NewString()
	logger := c.logger.With("push_id", pushID)

	ctx, span := otel.StartSpan(ctx, c.tracer, "push.Run", trace.WithAttributes(
		otel.AttrResume.Bool(req.Resume),
	))
	defer span.End()

	refs := req.Composes
	if len(req.Updates) > 0 {
		created, err := c.composesForUpdates(ctx, req.Updates, logger)
		if err != nil {
			otel.RecordError(span, err)
			return nil, err
		}
		refs = append(refs, created...)
	}

	jobs, err := c.acknowledge(ctx, refs, req.Resume, logger)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(otel.AttrComposeCount.Int(len(jobs)))

	keys := make([]string, len(jobs))
	for i, j := range jobs {
		keys[i] = j.compose.Key()
	}
	c.publish(ctx, logger, notify.TopicComposeStart, map[string]any{
		"push_id":  pushID,
		"agent":    req.Agent,
		"composes": keys,
		"resume":   req.Resume,
	})

	var tiers [tierCount][]job
	for _, j := range jobs {
		tiers[j.tier()] = append(tiers[j.tier()], j)
	}

	sem := semaphore.NewWeighted(c.maxConcurrent)
	results := make([]*compose.Result, 0, len(jobs))
	for _, t := range tiers {
		if len(t) == 0 {
			continue
		}
		results = append(results, c.runTier(ctx, sem, t, req.Resume)...)
	}

	var succeeded, failed []string
	for _, r := range results {
		if r.Success {
			succeeded = append(succeeded, r.Compose)
		} else {
			failed = append(failed, r.Compose)
		}
	}
	c.publish(ctx, logger, notify.TopicPushComplete, map[string]any{
		"push_id": pushID,
		"success": succeeded,
		"failed":  failed,
	})
	logger.InfoContext(ctx, "Push complete", "succeeded", len(succeeded), "failed", len(failed))
	return results, nil
}

func (c *Coordinator) runTier(ctx context.Context, sem *semaphore.Weighted, jobs []job, resume bool) []*compose.Result {
	out := make([]*compose.Result, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				out[i] = &compose.Result{
					Compose:     j.compose.Key(),
					ContentType: j.compose.ContentType,
					Err:         fmt.Errorf("waiting for a compose slot: %w", err),
				}
				return nil
			}
			defer sem.Release(1)
			out[i] = c.newWorker(j.compose.ReleaseName, j.compose.Request, resume).Run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	if c.metrics != nil {
		for i, r := range out {
			c.metrics.RecordComposeResult(ctx, string(jobs[i].compose.Request), r.Success)
		}
	}
	return out
}

// acknowledge loads the referenced composes and moves them to pending.
// Missing composes are skipped so a stale message cannot loop. Without
// resume only requested composes are taken; any other state means another
// push already owns them.
func (c *Coordinator) acknowledge(ctx context.Context, refs []ComposeRef, resume bool, logger *slog.Logger) ([]job, error) {
	var jobs []job
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.String()] {
			continue
		}
		seen[ref.String()] = true

		comp, err := c.store.GetCompose(ctx, ref.Release, ref.Request)
		if errors.Is(err, store.ErrComposeNotFound) {
			logger.WarnContext(ctx, "Ignoring missing compose", "compose", ref.String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading compose %s: %w", ref, err)
		}
		if !resume && comp.State != models.ComposeRequested {
			logger.InfoContext(ctx, "Ignoring duplicate compose request", "compose", ref.String(), "state", comp.State)
			continue
		}

		comp.SetState(models.ComposePending, c.now())
		if err := c.store.SaveCompose(ctx, comp); err != nil {
			return nil, fmt.Errorf("acknowledging compose %s: %w", ref, err)
		}
		updates, err := c.store.ComposeUpdates(ctx, comp)
		if err != nil {
			return nil, fmt.Errorf("loading updates of %s: %w", ref, err)
		}
		j := job{compose: comp}
		for _, u := range updates {
			if u.IsSecurity() {
				j.security = true
				break
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (c *Coordinator) composesForUpdates(ctx context.Context, aliases []string, logger *slog.Logger) ([]ComposeRef, error) {
	var updates []*models.Update
	for _, alias := range aliases {
		u, err := c.store.GetUpdate(ctx, alias)
		if errors.Is(err, store.ErrUpdateNotFound) {
			logger.WarnContext(ctx, "Ignoring unknown update", "update", alias)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading update %s: %w", alias, err)
		}
		updates = append(updates, u)
	}

	composes, err := Submit(ctx, c.store, updates, c.now(), logger)
	if err != nil {
		return nil, err
	}
	refs := make([]ComposeRef, len(composes))
	for i, comp := range composes {
		refs[i] = ComposeRef{Release: comp.ReleaseName, Request: comp.Request}
	}
	return refs, nil
}

func (c *Coordinator) lock() (func(), error) {
	if c.lockPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.lockPath), 0750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(c.lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring push lock: %w", err)
	}
	if !locked {
		return nil, ErrPushInProgress
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			c.logger.Warn("Failed to release push lock", "path", c.lockPath, "error", err)
		}
	}, nil
}

func (c *Coordinator) publish(ctx context.Context, logger *slog.Logger, topic notify.Topic, body map[string]any) {
	if err := c.publisher.Publish(ctx, topic, body); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "topic", topic, "error", err)
	}
}
