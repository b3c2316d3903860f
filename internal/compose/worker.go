// Package compose runs one compose: the checkpointed pipeline that moves a
// batch of locked updates of one release and request into its repository.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/notify"
	"github.com/relengtools/composer/internal/otel"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/telemetry"
)

// Author is the author of comments the pipeline leaves on updates.
const Author = "composer"

// StageError reports the pipeline stage a compose failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Deps are the collaborators of a worker.
type Deps struct {
	Store      store.Store
	Tags       buildsys.TagClient
	Publisher  notify.Publisher
	Mailer     notify.Mailer
	Composers  Registry
	Gate       Gate
	Bugs       BugTracker
	Karma      KarmaChecker
	House      Housekeeper
	UpdateInfo UpdateInfoGenerator
	Metrics    *telemetry.ComposeMetrics
	Tracer     trace.Tracer
	Now        func() time.Time
	Logger     *slog.Logger
}

func (d *Deps) setDefaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Publisher == nil {
		d.Publisher = notify.NewLogPublisher(d.Logger)
	}
	if d.Mailer == nil {
		d.Mailer = notify.NewMailer(nil, d.Logger)
	}
	if d.Gate == nil {
		d.Gate = NewRequirementsGate(nil)
	}
	if d.Bugs == nil {
		d.Bugs = NewLogBugTracker(d.Logger)
	}
	if d.Karma == nil {
		d.Karma = NewLogKarmaChecker(d.Logger)
	}
	if d.House == nil {
		d.House = NewStoreHousekeeper(d.Store, d.Tags, d.Now)
	}
	if d.UpdateInfo == nil {
		d.UpdateInfo = NewStoreUpdateInfo(d.Store, "")
	}
}

// State is everything a run knows about its compose. The checkpoint map in
// Compose is the only part that survives a crash.
type State struct {
	Compose  *models.Compose
	Release  *models.Release
	Updates  []*models.Update
	Families models.TagFamilies
	// SkipCompose is set for stable pushes to pending releases: tags move
	// but no repository is generated.
	SkipCompose bool
	// ID names the target repository, e.g. "f40-updates-testing".
	ID string
	// Ejected lists the aliases dropped from the batch.
	Ejected []string
}

// Checkpoints returns the durable checkpoint map.
func (s *State) Checkpoints() models.Checkpoints {
	return s.Compose.Checkpoints
}

// Result is the outcome of one compose run.
type Result struct {
	Compose     string
	ContentType models.ContentType
	Success     bool
	Err         error
	Updates     []string
	Ejected     []string
	Duration    time.Duration
}

// Worker runs the pipeline for a single compose.
type Worker struct {
	deps    Deps
	cfg     *config.Config
	release string
	request models.UpdateRequest
	resume  bool
	logger  *slog.Logger
}

// NewWorker creates a worker for the compose of release and request. With
// resume set, stages recorded in the compose's checkpoints are skipped.
func NewWorker(deps Deps, cfg *config.Config, release string, request models.UpdateRequest, resume bool) *Worker {
	deps.setDefaults()
	return &Worker{
		deps:    deps,
		cfg:     cfg,
		release: release,
		request: request,
		resume:  resume,
		logger:  deps.Logger.With("compose", models.ComposeKey(release, request)),
	}
}

// Run executes the pipeline. A failure is recorded on the compose, which is
// kept for inspection and resume; a success deletes it.
func (w *Worker) Run(ctx context.Context) *Result {
	start := w.deps.Now()
	res := &Result{Compose: models.ComposeKey(w.release, w.request)}

	ctx, span := otel.StartSpan(ctx, w.deps.Tracer, "compose.Run", trace.WithAttributes(
		otel.AttrComposeKey.String(res.Compose),
		otel.AttrRelease.String(w.release),
		otel.AttrRequest.String(string(w.request)),
		otel.AttrResume.Bool(w.resume),
	))
	defer span.End()

	st, err := w.load(ctx)
	if err != nil {
		res.Err = err
		otel.RecordError(span, err)
		w.logger.ErrorContext(ctx, "Failed to load compose", "error", err)
		return res
	}
	res.ContentType = st.Compose.ContentType
	span.SetAttributes(
		otel.AttrContentType.String(string(st.Compose.ContentType)),
		otel.AttrUpdateCount.Int(len(st.Updates)),
	)

	err = w.work(ctx, st)
	res.Ejected = st.Ejected
	for _, u := range st.Updates {
		res.Updates = append(res.Updates, u.Alias)
	}
	if err != nil {
		res.Err = err
		otel.RecordError(span, err)
		w.logger.ErrorContext(ctx, "Compose failed", "error", err)
		w.recordFailure(ctx, st, err)
	} else {
		res.Success = true
	}

	res.Duration = w.deps.Now().Sub(start)
	w.deps.Metrics.RecordComposeDuration(ctx, res.Compose, string(res.ContentType), res.Duration, res.Success)
	w.publish(ctx, notify.TopicComposeComplete, map[string]any{
		"repo":    st.ID,
		"success": res.Success,
		"ctype":   string(st.Compose.ContentType),
	})
	w.logger.InfoContext(ctx, "Compose finished", "success", res.Success, "duration", res.Duration)
	return res
}

func (w *Worker) load(ctx context.Context) (*State, error) {
	s := w.deps.Store
	c, err := s.GetCompose(ctx, w.release, w.request)
	if err != nil {
		return nil, err
	}
	release, err := s.GetRelease(ctx, w.release)
	if err != nil {
		return nil, err
	}
	releases, err := s.ListReleases(ctx)
	if err != nil {
		return nil, err
	}
	updates, err := s.ComposeUpdates(ctx, c)
	if err != nil {
		return nil, err
	}

	if !w.resume || c.Checkpoints == nil {
		c.Checkpoints = models.Checkpoints{}
	}
	id, _ := release.RequestedTag(w.request)
	if id == "" {
		id = c.Key()
	}
	return &State{
		Compose:     c,
		Release:     release,
		Updates:     updates,
		Families:    models.NewTagFamilies(releases),
		SkipCompose: release.State == models.ReleasePending && w.request == models.RequestStable,
		ID:          id,
	}, nil
}

func (w *Worker) work(ctx context.Context, st *State) error {
	w.logger.InfoContext(ctx, "Starting compose",
		"content_type", st.Compose.ContentType, "updates", len(st.Updates), "resume", w.resume)

	if err := w.save(ctx, st, models.ComposeInitializing); err != nil {
		return &StageError{Stage: "initializing", Err: err}
	}

	builds := make([]string, 0, len(st.Updates))
	for _, u := range st.Updates {
		for _, b := range u.Builds {
			builds = append(builds, b.NVR)
		}
	}
	w.publish(ctx, notify.TopicComposeComposing, map[string]any{
		"repo":    st.ID,
		"updates": builds,
		"ctype":   string(st.Compose.ContentType),
	})

	for _, s := range w.stages() {
		if s.when != nil && !s.when(st) {
			continue
		}
		if st.Checkpoints().Done(s.name) {
			w.logger.InfoContext(ctx, "Skipping completed stage", "stage", s.name)
			continue
		}
		if err := w.runStage(ctx, st, s); err != nil {
			return err
		}
	}

	st.Compose.SetState(models.ComposeSuccess, w.deps.Now())
	if err := w.deps.Store.DeleteCompose(ctx, st.Compose.ReleaseName, st.Compose.Request); err != nil {
		return &StageError{Stage: "finalize", Err: err}
	}
	return nil
}

func (w *Worker) runStage(ctx context.Context, st *State, s stage) error {
	ctx, span := otel.StartSpan(ctx, w.deps.Tracer, "compose.stage", trace.WithAttributes(otel.AttrStage.String(s.name)))
	defer span.End()

	started := w.deps.Now()
	if s.state != "" && st.Compose.State != s.state {
		if err := w.save(ctx, st, s.state); err != nil {
			return &StageError{Stage: s.name, Err: err}
		}
	}

	w.logger.DebugContext(ctx, "Running stage", "stage", s.name)
	err := s.run(ctx, st)
	w.deps.Metrics.RecordStageDuration(ctx, s.name, w.deps.Now().Sub(started), err == nil)
	if err != nil {
		otel.RecordError(span, err)
		// Keep what the stage recorded so far, such as a completed repo.
		if saveErr := w.saveCompose(ctx, st); saveErr != nil {
			w.logger.ErrorContext(ctx, "Failed to save compose state", "error", saveErr)
		}
		return &StageError{Stage: s.name, Err: err}
	}

	st.Checkpoints().Mark(s.name)
	if err := w.save(ctx, st, ""); err != nil {
		return &StageError{Stage: s.name, Err: err}
	}
	return nil
}

// save persists the compose and the updates of the batch in one
// transaction, optionally moving the compose to state.
func (w *Worker) save(ctx context.Context, st *State, state models.ComposeState) error {
	if state != "" {
		st.Compose.SetState(state, w.deps.Now())
	}
	return w.deps.Store.InTx(ctx, func(tx store.Store) error {
		if err := tx.SaveCompose(ctx, st.Compose); err != nil {
			return err
		}
		for _, u := range st.Updates {
			if err := tx.SaveUpdate(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Worker) saveCompose(ctx context.Context, st *State) error {
	return w.deps.Store.SaveCompose(ctx, st.Compose)
}

func (w *Worker) setState(ctx context.Context, st *State, state models.ComposeState) error {
	st.Compose.SetState(state, w.deps.Now())
	return w.saveCompose(ctx, st)
}

func (w *Worker) recordFailure(ctx context.Context, st *State, err error) {
	st.Compose.ErrorMessage = err.Error()
	st.Compose.SetState(models.ComposeFailed, w.deps.Now())
	if saveErr := w.saveCompose(ctx, st); saveErr != nil {
		w.logger.ErrorContext(ctx, "Failed to record compose failure", "error", saveErr)
	}
}

func (w *Worker) publish(ctx context.Context, topic notify.Topic, body map[string]any) {
	if err := w.deps.Publisher.Publish(ctx, topic, body); err != nil {
		w.logger.WarnContext(ctx, "Failed to publish event", "topic", topic, "error", err)
	}
}

// eject drops u from the batch: it is unlocked, commented on, untagged from
// its pending tag and loses its request.
func (w *Worker) eject(ctx context.Context, st *State, u *models.Update, reason string) error {
	text := fmt.Sprintf("%s ejected from the push because %q", u.Alias, reason)
	w.logger.WarnContext(ctx, "Ejecting update", "update", u.Alias, "reason", reason)

	var pendingTag string
	switch u.Request {
	case models.RequestStable:
		pendingTag = st.Release.PendingStableTag
	case models.RequestTesting:
		pendingTag = st.Release.PendingTestingTag
	}
	if pendingTag != "" {
		for _, b := range u.Builds {
			if err := w.deps.Tags.RemoveTag(ctx, pendingTag, b.NVR); err != nil && !errors.Is(err, buildsys.ErrNotFound) {
				return fmt.Errorf("removing %s from %s: %w", b.NVR, pendingTag, err)
			}
		}
	}

	request := u.Request
	u.Locked = false
	u.Request = models.RequestNone
	err := w.deps.Store.InTx(ctx, func(tx store.Store) error {
		if err := tx.SaveUpdate(ctx, u); err != nil {
			return err
		}
		return tx.AddComment(ctx, &models.Comment{
			UpdateAlias: u.Alias,
			Author:      Author,
			Text:        text,
			CreatedAt:   w.deps.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("ejecting %s: %w", u.Alias, err)
	}

	st.Updates = slices.DeleteFunc(st.Updates, func(x *models.Update) bool { return x.Alias == u.Alias })
	st.Ejected = append(st.Ejected, u.Alias)
	w.deps.Metrics.RecordEjection(ctx, st.Compose.Key())
	trace.SpanFromContext(ctx).AddEvent("update.eject", trace.WithAttributes(attribute.String("update", u.Alias)))
	w.publish(ctx, notify.TopicUpdateEject, map[string]any{
		"repo":    st.ID,
		"update":  u.Alias,
		"reason":  reason,
		"request": string(request),
		"release": st.Release.Name,
	})
	return nil
}
