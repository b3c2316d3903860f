package compose

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/versions"
)

// Gate decides whether an update may go to stable. A false result carries a
// human readable reason.
type Gate interface {
	Check(ctx context.Context, u *models.Update) (bool, string, error)
}

// RequirementsGate checks the test and critical path requirements recorded
// on the update.
type RequirementsGate struct {
	cfg *config.GatingConfig
}

// NewRequirementsGate creates a gate from configuration. A nil config lets
// every update through.
func NewRequirementsGate(cfg *config.GatingConfig) *RequirementsGate {
	return &RequirementsGate{cfg: cfg}
}

// Check implements Gate.
func (g *RequirementsGate) Check(_ context.Context, u *models.Update) (bool, string, error) {
	if g.cfg == nil {
		return true, "", nil
	}
	if g.cfg.RequireTestGating {
		switch u.TestGatingStatus {
		case "", "passed", "ignored":
		default:
			return false, "Required tests did not pass on this update.", nil
		}
	}
	if g.cfg.RequireCritpathApproval && u.Critpath && !u.CritpathApproved {
		return false, "This critical path update has not yet been approved for pushing to the stable repository.", nil
	}
	return true, "", nil
}

// BugTracker is the bug tracker as seen by the pipeline.
type BugTracker interface {
	// RefreshSecurityBug refreshes the title and details of a security bug.
	RefreshSecurityBug(ctx context.Context, bug int) error
	// ModifyBugs moves the bugs of a pushed update to their next state.
	ModifyBugs(ctx context.Context, u *models.Update) error
}

// LogBugTracker records bug tracker calls in the log.
type LogBugTracker struct {
	logger *slog.Logger
}

// NewLogBugTracker creates a bug tracker that only logs.
func NewLogBugTracker(logger *slog.Logger) *LogBugTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBugTracker{logger: logger}
}

// RefreshSecurityBug implements BugTracker.
func (b *LogBugTracker) RefreshSecurityBug(ctx context.Context, bug int) error {
	b.logger.InfoContext(ctx, "Refreshing security bug", "bug", bug)
	return nil
}

// ModifyBugs implements BugTracker.
func (b *LogBugTracker) ModifyBugs(ctx context.Context, u *models.Update) error {
	if len(u.Bugs) > 0 {
		b.logger.InfoContext(ctx, "Modifying bugs", "update", u.Alias, "status", u.Status, "bugs", u.Bugs)
	}
	return nil
}

// KarmaChecker re-evaluates feedback thresholds of an update after a push.
type KarmaChecker interface {
	CheckKarmaThresholds(ctx context.Context, u *models.Update) error
}

// LogKarmaChecker records karma checks in the log.
type LogKarmaChecker struct {
	logger *slog.Logger
}

// NewLogKarmaChecker creates a karma checker that only logs.
func NewLogKarmaChecker(logger *slog.Logger) *LogKarmaChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogKarmaChecker{logger: logger}
}

// CheckKarmaThresholds implements KarmaChecker.
func (k *LogKarmaChecker) CheckKarmaThresholds(ctx context.Context, u *models.Update) error {
	k.logger.DebugContext(ctx, "Checking karma thresholds", "update", u.Alias)
	return nil
}

// Housekeeper performs the secondary bookkeeping around a push.
type Housekeeper interface {
	// ExpireBuildrootOverride expires the override of a build being pushed
	// to stable.
	ExpireBuildrootOverride(ctx context.Context, release *models.Release, b *models.Build) error
	// ObsoleteOlderUpdates obsoletes stale updates superseded by u.
	ObsoleteOlderUpdates(ctx context.Context, u *models.Update) error
}

// StoreHousekeeper implements Housekeeper on the store and build system.
type StoreHousekeeper struct {
	store store.Store
	tags  buildsys.TagClient
	now   func() time.Time
}

// NewStoreHousekeeper creates a housekeeper.
func NewStoreHousekeeper(s store.Store, tags buildsys.TagClient, now func() time.Time) *StoreHousekeeper {
	if now == nil {
		now = time.Now
	}
	return &StoreHousekeeper{store: s, tags: tags, now: now}
}

// ExpireBuildrootOverride untags the build from the override tag.
func (h *StoreHousekeeper) ExpireBuildrootOverride(ctx context.Context, release *models.Release, b *models.Build) error {
	if release.OverrideTag == "" {
		return nil
	}
	if err := h.tags.RemoveTag(ctx, release.OverrideTag, b.NVR); err != nil {
		return fmt.Errorf("expiring override of %s: %w", b.NVR, err)
	}
	b.HasOverride = false
	return nil
}

// ObsoleteOlderUpdates marks as obsolete every unlocked pending or testing
// update of the same release whose builds are all older builds of packages
// that u ships, provided it has no stable request.
func (h *StoreHousekeeper) ObsoleteOlderUpdates(ctx context.Context, u *models.Update) error {
	newest := map[string]versions.NVR{}
	for _, b := range u.Builds {
		parsed, err := versions.ParseNVR(b.NVR)
		if err != nil {
			continue
		}
		newest[parsed.Name] = parsed
	}
	if len(newest) == 0 {
		return nil
	}

	unlocked := false
	candidates, err := h.store.FindUpdates(ctx, store.UpdateFilter{Releases: []string{u.ReleaseName}, Locked: &unlocked})
	if err != nil {
		return err
	}

	for _, old := range candidates {
		if old.Alias == u.Alias || old.Request == models.RequestStable ||
			!slices.Contains([]models.UpdateStatus{models.StatusPending, models.StatusTesting}, old.Status) {
			continue
		}
		if !supersededBy(old, newest) {
			continue
		}

		old.Status = models.StatusObsolete
		old.Request = models.RequestNone
		err := h.store.InTx(ctx, func(tx store.Store) error {
			if err := tx.SaveUpdate(ctx, old); err != nil {
				return err
			}
			return tx.AddComment(ctx, &models.Comment{
				UpdateAlias: old.Alias,
				Author:      Author,
				Text:        fmt.Sprintf("This update has been obsoleted by %s.", u.Alias),
				CreatedAt:   h.now().UTC(),
			})
		})
		if err != nil {
			return fmt.Errorf("obsoleting %s: %w", old.Alias, err)
		}
	}
	return nil
}

func supersededBy(old *models.Update, newest map[string]versions.NVR) bool {
	if len(old.Builds) == 0 {
		return false
	}
	for _, b := range old.Builds {
		parsed, err := versions.ParseNVR(b.NVR)
		if err != nil {
			return false
		}
		n, ok := newest[parsed.Name]
		if !ok || versions.LabelCompare(parsed.EVR, n.EVR) >= 0 {
			return false
		}
	}
	return true
}
