// Package planner decides which tag operations move a batch of updates into
// their requested repository, and in what order.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/versions"
)

// Action tags one build. An empty FromTag adds ToTag instead of moving.
type Action struct {
	FromTag string
	ToTag   string
	NVR     string
}

// IsAdd reports whether the action adds a tag rather than moving one.
func (a Action) IsAdd() bool {
	return a.FromTag == ""
}

func (a Action) op() buildsys.Op {
	if a.IsAdd() {
		return buildsys.Op{Kind: buildsys.OpAddTag, Tag: a.ToTag, NVR: a.NVR}
	}
	return buildsys.Op{Kind: buildsys.OpMoveTag, FromTag: a.FromTag, Tag: a.ToTag, NVR: a.NVR}
}

// Ejection is an update dropped from the batch and why.
type Ejection struct {
	Update *models.Update
	Reason string
}

// Plan is the outcome of planning a batch. Sync actions must be applied one
// at a time in order; Async actions may be submitted together.
type Plan struct {
	Sync    []Action
	Async   []Action
	Ejected []Ejection
}

// Planner computes tag plans for one release.
type Planner struct {
	tags     buildsys.TagClient
	families models.TagFamilies
	release  *models.Release
	logger   *slog.Logger
}

// New creates a planner for release. families holds the candidate and testing
// tags of every release, since a build may sit in another release's tag.
func New(tags buildsys.TagClient, release *models.Release, families models.TagFamilies, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{tags: tags, families: families, release: release, logger: logger}
}

// Plan computes the tag actions for updates. With addOnly set the requested
// tag is added and the builds keep their current tags.
func (p *Planner) Plan(ctx context.Context, updates []*models.Update, addOnly bool) (*Plan, error) {
	plan := &Plan{}
	syncUpdates, asyncUpdates := SortedUpdates(updates)

	for batch, group := range [][]*models.Update{syncUpdates, asyncUpdates} {
		for _, u := range group {
			actions, reason, err := p.planUpdate(ctx, u, addOnly)
			if err != nil {
				return nil, err
			}
			if reason != "" {
				plan.Ejected = append(plan.Ejected, Ejection{Update: u, Reason: reason})
				continue
			}
			if batch == 0 {
				plan.Sync = append(plan.Sync, actions...)
			} else {
				plan.Async = append(plan.Async, actions...)
			}
		}
	}

	p.logger.Info("Planned tag actions",
		"sync", len(plan.Sync), "async", len(plan.Async), "ejected", len(plan.Ejected))
	return plan, nil
}

func (p *Planner) planUpdate(ctx context.Context, u *models.Update, addOnly bool) ([]Action, string, error) {
	toTag, ok := p.release.RequestedTag(u.Request)
	if !ok {
		return nil, fmt.Sprintf("%s has no tag for request %q in %s.", u.Alias, u.Request, p.release.Name), nil
	}
	family := p.families.ForStatus(u.Status)

	actions := make([]Action, 0, len(u.Builds))
	for _, b := range u.Builds {
		current, err := p.tags.ListTags(ctx, b.NVR)
		if err != nil {
			return nil, "", fmt.Errorf("listing tags of %s: %w", b.NVR, err)
		}
		idx := slices.IndexFunc(current, func(t string) bool { return slices.Contains(family, t) })
		if idx < 0 {
			return nil, fmt.Sprintf("Cannot find relevant tag for %s.  None of %v are in %v.", b.NVR, current, family), nil
		}
		if addOnly {
			actions = append(actions, Action{ToTag: toTag, NVR: b.NVR})
		} else {
			actions = append(actions, Action{FromTag: current[idx], ToTag: toTag, NVR: b.NVR})
		}
	}
	return actions, "", nil
}

// SortedUpdates splits updates into those that must be tagged in order and
// those that can be tagged in any order. An update carrying a build of a
// package that has several builds in the batch is ordered by ascending build
// version so the newest build is tagged last and becomes the latest.
func SortedUpdates(updates []*models.Update) (sync, async []*models.Update) {
	type entry struct {
		build  *models.Build
		update *models.Update
	}
	byPackage := map[string][]entry{}
	for _, u := range updates {
		for _, b := range u.Builds {
			name := b.NVR
			if parsed, err := versions.ParseNVR(b.NVR); err == nil {
				name = parsed.Name
			}
			dup := slices.ContainsFunc(byPackage[name], func(e entry) bool { return e.build.NVR == b.NVR })
			if !dup {
				byPackage[name] = append(byPackage[name], entry{build: b, update: u})
			}
		}
	}

	names := make([]string, 0, len(byPackage))
	for name := range byPackage {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entries := byPackage[name]
		if len(entries) == 1 {
			u := entries[0].update
			if !slices.Contains(async, u) && !slices.Contains(sync, u) {
				async = append(async, u)
			}
			continue
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return compareNVR(entries[i].build.NVR, entries[j].build.NVR) < 0
		})
		for _, e := range entries {
			if !slices.Contains(sync, e.update) {
				sync = append(sync, e.update)
			}
			async = slices.DeleteFunc(async, func(u *models.Update) bool { return u == e.update })
		}
	}
	return sync, async
}

func compareNVR(a, b string) int {
	pa, errA := versions.ParseNVR(a)
	pb, errB := versions.ParseNVR(b)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return versions.LabelCompare(pa.EVR, pb.EVR)
}

// Apply performs the plan. Sync actions run one at a time and the first
// failure aborts. Async actions are submitted as one batch and every failure
// is reported together.
func (p *Plan) Apply(ctx context.Context, client buildsys.TagClient, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, a := range p.Sync {
		var err error
		if a.IsAdd() {
			logger.Info("Adding tag", "tag", a.ToTag, "build", a.NVR)
			err = client.AddTag(ctx, a.ToTag, a.NVR)
		} else {
			logger.Info("Moving build", "build", a.NVR, "from", a.FromTag, "to", a.ToTag)
			err = client.MoveTag(ctx, a.FromTag, a.ToTag, a.NVR)
		}
		if err != nil {
			return fmt.Errorf("tagging %s into %s: %w", a.NVR, a.ToTag, err)
		}
	}

	if len(p.Async) == 0 {
		return nil
	}

	ops := make([]buildsys.Op, 0, len(p.Async))
	for _, a := range p.Async {
		ops = append(ops, a.op())
	}
	logger.Info("Submitting tag batch", "operations", len(ops))
	results, err := client.Batch(ctx, ops)
	if err != nil {
		return fmt.Errorf("submitting tag batch: %w", err)
	}

	var errs []error
	taskNVR := map[int]string{}
	taskIDs := make([]int, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Op.NVR, r.Err))
			continue
		}
		if r.TaskID != 0 {
			taskNVR[r.TaskID] = r.Op.NVR
			taskIDs = append(taskIDs, r.TaskID)
		}
	}

	failed, err := client.WaitForTasks(ctx, taskIDs)
	if err != nil {
		return fmt.Errorf("waiting for tag tasks: %w", err)
	}
	for _, id := range failed {
		errs = append(errs, fmt.Errorf("%s: task %d failed", taskNVR[id], id))
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to move builds: %w", errors.Join(errs...))
	}
	return nil
}
