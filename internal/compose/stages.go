package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/composetool"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/notify"
	"github.com/relengtools/composer/internal/planner"
)

// stage is one checkpointed step of the pipeline. Stages whose when returns
// false are neither run nor recorded.
type stage struct {
	name  string
	state models.ComposeState
	when  func(st *State) bool
	run   func(ctx context.Context, st *State) error
}

func isStable(st *State) bool  { return st.Compose.Request == models.RequestStable }
func isTesting(st *State) bool { return st.Compose.Request == models.RequestTesting }

func (w *Worker) stages() []stage {
	return []stage{
		{name: "gating", state: models.ComposeGating, when: isStable, run: w.performGating},
		{name: "tagging", state: models.ComposeTagging, run: w.tagActions},
		{name: "security_bugs", run: w.updateSecurityBugs},
		{name: "expire_overrides", when: isStable, run: w.expireBuildrootOverrides},
		{name: "remove_pending_tags", run: w.removePendingTags},
		{name: "compose", when: func(st *State) bool { return !st.SkipCompose }, run: w.composeUpdates},
		{name: "mark_status_changes", run: w.markStatusChanges},
		{name: "send_notifications", state: models.ComposeNotifying, run: w.sendNotifications},
		{name: "modify_bugs", run: w.modifyBugs},
		{name: "status_comments", run: w.statusComments},
		{name: "stable_announcements", when: isStable, run: w.sendStableAnnouncements},
		{name: "testing_digest", when: isTesting, run: w.sendTestingDigest},
		{name: "unlock_updates", run: w.unlockUpdates},
		{name: "karma_thresholds", when: isTesting, run: w.checkKarmaThresholds},
		{name: "obsolete_older_updates", run: w.obsoleteOlderUpdates},
		{
			name:  "clean_old_composes",
			state: models.ComposeCleaning,
			when:  func(*State) bool { return w.cfg.CleanOldComposes },
			run:   w.cleanOldComposes,
		},
	}
}

func (w *Worker) performGating(ctx context.Context, st *State) error {
	for _, u := range append([]*models.Update(nil), st.Updates...) {
		ok, reason, err := w.deps.Gate.Check(ctx, u)
		if err != nil {
			ok, reason = false, fmt.Sprintf("Failed to evaluate gating requirements: %v", err)
		}
		if ok {
			continue
		}
		w.logger.WarnContext(ctx, "Update failed gating", "update", u.Alias, "reason", reason)
		if err := w.eject(ctx, st, u, reason); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) tagActions(ctx context.Context, st *State) error {
	p := planner.New(w.deps.Tags, st.Release, st.Families, w.logger)
	plan, err := p.Plan(ctx, st.Updates, st.SkipCompose)
	if err != nil {
		return err
	}
	for _, e := range plan.Ejected {
		if err := w.eject(ctx, st, e.Update, e.Reason); err != nil {
			return err
		}
	}
	return plan.Apply(ctx, w.deps.Tags, w.logger)
}

func (w *Worker) updateSecurityBugs(ctx context.Context, st *State) error {
	for _, u := range st.Updates {
		if !u.IsSecurity() {
			continue
		}
		for _, bug := range u.Bugs {
			if err := w.deps.Bugs.RefreshSecurityBug(ctx, bug); err != nil {
				w.logger.WarnContext(ctx, "Failed to refresh security bug", "bug", bug, "error", err)
			}
		}
	}
	return nil
}

func (w *Worker) expireBuildrootOverrides(ctx context.Context, st *State) error {
	for _, u := range st.Updates {
		for _, b := range u.Builds {
			if !b.HasOverride {
				continue
			}
			w.logger.DebugContext(ctx, "Expiring buildroot override", "build", b.NVR)
			if err := w.deps.House.ExpireBuildrootOverride(ctx, st.Release, b); err != nil {
				w.logger.ErrorContext(ctx, "Problem expiring override", "build", b.NVR, "error", err)
			}
		}
	}
	return nil
}

func (w *Worker) removePendingTags(ctx context.Context, st *State) error {
	var ops []buildsys.Op
	untag := func(tag string, u *models.Update) {
		if tag == "" {
			return
		}
		for _, b := range u.Builds {
			ops = append(ops, buildsys.Op{Kind: buildsys.OpRemove, Tag: tag, NVR: b.NVR})
		}
	}
	for _, u := range st.Updates {
		switch u.Request {
		case models.RequestStable:
			untag(st.Release.PendingStableTag, u)
			// Dropping the side tag lets the build system collect it once empty.
			untag(u.FromTag, u)
		case models.RequestTesting:
			untag(st.Release.PendingSigningTag, u)
			untag(st.Release.PendingTestingTag, u)
		}
	}
	return w.submitBestEffort(ctx, "remove pending tags", ops)
}

// submitBestEffort sends ops as one batch. Per call faults are logged; only
// a failure of the batch itself is returned.
func (w *Worker) submitBestEffort(ctx context.Context, what string, ops []buildsys.Op) error {
	if len(ops) == 0 {
		return nil
	}
	results, err := w.deps.Tags.Batch(ctx, ops)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	for _, r := range results {
		if r.Err != nil {
			w.logger.DebugContext(ctx, "Batched call failed", "call", r.Op.String(), "error", r.Err)
		}
	}
	return nil
}

func (w *Worker) composeUpdates(ctx context.Context, st *State) error {
	c, ok := w.deps.Composers.Lookup(st.Compose.ContentType)
	if !ok {
		w.logger.WarnContext(ctx, "No composer for content type, skipping", "content_type", st.Compose.ContentType)
		return nil
	}
	return c.Compose(ctx, w, st)
}

func (w *Worker) markStatusChanges(ctx context.Context, st *State) error {
	var eolSideTags []buildsys.Op
	w.logger.InfoContext(ctx, "Updating update statuses")
	for _, u := range st.Updates {
		now := w.deps.Now().UTC()
		switch u.Request {
		case models.RequestTesting:
			u.Status = models.StatusTesting
			u.DateTesting = &now
		case models.RequestStable:
			u.Status = models.StatusStable
			u.DateStable = &now
			if u.FromTag != "" {
				eolSideTags = append(eolSideTags, buildsys.Op{Kind: buildsys.OpDelete, Tag: u.FromTag})
			}
		}
		u.DatePushed = &now
		u.Pushed = true
	}
	return w.submitBestEffort(ctx, "delete side tags", eolSideTags)
}

func (w *Worker) sendNotifications(ctx context.Context, st *State) error {
	for _, u := range st.Updates {
		topic := notify.TopicCompleteTesting
		if u.Request == models.RequestStable {
			topic = notify.TopicCompleteStable
		}
		builds := make([]string, len(u.Builds))
		for i, b := range u.Builds {
			builds[i] = b.NVR
		}
		w.publish(ctx, topic, map[string]any{
			"update":  u.Alias,
			"release": u.ReleaseName,
			"builds":  builds,
			"user":    u.User,
		})
	}
	return nil
}

func (w *Worker) modifyBugs(ctx context.Context, st *State) error {
	for _, u := range st.Updates {
		if err := w.deps.Bugs.ModifyBugs(ctx, u); err != nil {
			return fmt.Errorf("modifying bugs of %s: %w", u.Alias, err)
		}
	}
	return nil
}

func (w *Worker) statusComments(ctx context.Context, st *State) error {
	for _, u := range st.Updates {
		err := w.deps.Store.AddComment(ctx, &models.Comment{
			UpdateAlias: u.Alias,
			Author:      Author,
			Text:        fmt.Sprintf("This update has been pushed to %s.", u.Request),
			CreatedAt:   w.deps.Now().UTC(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) sendStableAnnouncements(ctx context.Context, st *State) error {
	var list string
	if w.cfg.Mail != nil {
		list = w.cfg.Mail.StableAnnounceLists[st.Release.PrefixKey()]
	}
	if list == "" {
		w.logger.WarnContext(ctx, "No stable announcement list configured", "prefix", st.Release.PrefixKey())
		return nil
	}

	for _, u := range st.Updates {
		if u.Request != models.RequestStable {
			continue
		}
		subject, body := announcement(st.Release, u)
		if err := w.deps.Mailer.Send(ctx, list, subject, body); err != nil {
			w.logger.ErrorContext(ctx, "Failed to send update notice", "update", u.Alias, "error", err)
		}
	}
	return nil
}

func announcement(release *models.Release, u *models.Update) (string, string) {
	nvrs := make([]string, len(u.Builds))
	for i, b := range u.Builds {
		nvrs[i] = b.NVR
	}
	subject := fmt.Sprintf("%s Update: %s", release.LongName, strings.Join(nvrs, ", "))
	if u.IsSecurity() {
		subject = "[SECURITY] " + subject
	}

	var b strings.Builder
	b.WriteString(strings.Repeat("-", 80) + "\n")
	fmt.Fprintf(&b, "%s Update %s\n", release.LongName, u.Alias)
	b.WriteString(strings.Repeat("-", 80) + "\n\n")
	fmt.Fprintf(&b, "Name        : %s\nType        : %s\n", strings.Join(nvrs, " "), u.Type)
	if u.Title != "" {
		fmt.Fprintf(&b, "Summary     : %s\n", u.Title)
	}
	if len(u.Bugs) > 0 {
		b.WriteString("\nReferences:\n\n")
		for _, bug := range u.Bugs {
			fmt.Fprintf(&b, "  [ %d ] https://bugzilla.redhat.com/show_bug.cgi?id=%d\n", bug, bug)
		}
	}
	b.WriteString("\n" + strings.Repeat("-", 80) + "\n")
	return subject, b.String()
}

func (w *Worker) unlockUpdates(ctx context.Context, st *State) error {
	w.logger.InfoContext(ctx, "Unlocking updates")
	for _, u := range st.Updates {
		u.Unlock()
	}
	return nil
}

func (w *Worker) checkKarmaThresholds(ctx context.Context, st *State) error {
	for _, u := range st.Updates {
		if err := w.deps.Karma.CheckKarmaThresholds(ctx, u); err != nil {
			w.logger.WarnContext(ctx, "Problem checking karma thresholds", "update", u.Alias, "error", err)
		}
	}
	return nil
}

func (w *Worker) obsoleteOlderUpdates(ctx context.Context, st *State) error {
	for _, u := range st.Updates {
		if err := w.deps.House.ObsoleteOlderUpdates(ctx, u); err != nil {
			w.logger.WarnContext(ctx, "Problem obsoleting older updates", "update", u.Alias, "error", err)
		}
	}
	// Updates of this batch may have been obsoleted by newer ones in it.
	for i, u := range st.Updates {
		fresh, err := w.deps.Store.GetUpdate(ctx, u.Alias)
		if err != nil {
			return err
		}
		st.Updates[i] = fresh
	}
	return nil
}

func (w *Worker) cleanOldComposes(ctx context.Context, _ *State) error {
	deleted, err := composetool.CleanOldComposes(w.cfg.ComposeDir, w.cfg.GetKeepOldComposes(), w.logger)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to clean old composes", "error", err)
		return nil
	}
	w.logger.InfoContext(ctx, "Cleaned old composes", "deleted", len(deleted))
	return nil
}
