package compose

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
)

func (w *Worker) sendTestingDigest(ctx context.Context, st *State) error {
	if st.Compose.ContentType != models.ContentRPM {
		w.logger.DebugContext(ctx, "Testing digest only covers rpm content")
		return nil
	}
	prefix := st.Release.PrefixKey()
	var list string
	if w.cfg.Mail != nil {
		list = w.cfg.Mail.TestAnnounceLists[prefix]
	}
	if list == "" {
		w.logger.WarnContext(ctx, "No testing digest list configured, not sending digest", "prefix", prefix)
		return nil
	}

	body, err := w.testingDigest(ctx, st)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s updates-testing report", st.Release.LongName)
	if err := w.deps.Mailer.Send(ctx, list, subject, body); err != nil {
		w.logger.ErrorContext(ctx, "Failed to send testing digest", "to", list, "error", err)
	}
	return nil
}

// testingDigest lists the security and critical path updates still waiting
// in testing, followed by the builds this batch pushed to testing.
func (w *Worker) testingDigest(ctx context.Context, st *State) (string, error) {
	inTesting, err := w.deps.Store.FindUpdates(ctx, store.UpdateFilter{
		Releases: []string{st.Release.Name},
		Status:   models.StatusTesting,
	})
	if err != nil {
		return "", fmt.Errorf("listing updates in testing: %w", err)
	}

	var security, critpath []*models.Update
	for _, u := range inTesting {
		if u.Request != models.RequestNone {
			continue
		}
		if u.IsSecurity() {
			security = append(security, u)
		}
		if u.Critpath && !u.CritpathApproved {
			critpath = append(critpath, u)
		}
	}

	now := w.deps.Now()
	var b strings.Builder
	if len(security) > 0 {
		fmt.Fprintf(&b, "The following %s Security updates need testing:\n Age  URL\n", st.Release.LongName)
		writeAgeList(&b, security, now)
		b.WriteString("\n\n")
	}
	if len(critpath) > 0 {
		fmt.Fprintf(&b, "The following %s Critical Path updates have yet to be approved:\n Age URL\n", st.Release.LongName)
		writeAgeList(&b, critpath, now)
		b.WriteString("\n\n")
	}

	var pushed []string
	for _, u := range st.Updates {
		for _, build := range u.Builds {
			pushed = append(pushed, build.NVR)
		}
	}
	sort.Strings(pushed)
	fmt.Fprintf(&b, "The following builds have been pushed to %s updates-testing\n\n", st.Release.LongName)
	for _, nvr := range pushed {
		fmt.Fprintf(&b, "    %s\n", nvr)
	}

	b.WriteString("\nDetails about builds:\n\n")
	for _, u := range st.Updates {
		_, notice := announcement(st.Release, u)
		b.WriteString("\n" + notice)
	}
	return b.String(), nil
}

// writeAgeList writes one line per update, the longest in testing first.
func writeAgeList(b *strings.Builder, updates []*models.Update, now time.Time) {
	age := func(u *models.Update) int {
		if u.DateTesting == nil {
			return 0
		}
		return int(now.Sub(*u.DateTesting).Hours() / 24)
	}
	sort.SliceStable(updates, func(i, j int) bool { return age(updates[i]) > age(updates[j]) })
	for _, u := range updates {
		fmt.Fprintf(b, " %3d  %s   %s\n", age(u), u.Alias, u.Title)
	}
}
