package push

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
)

func aliases(updates []*models.Update) []string {
	out := []string{}
	for _, u := range updates {
		out = append(out, u.Alias)
	}
	return out
}

func TestFindCandidates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemoryStore()
	n := 0
	save := func(u *models.Update) {
		n++
		u.DateSubmitted = fixedNow.Add(time.Duration(n) * time.Minute)
		if u.Builds == nil {
			u.Builds = []*models.Build{rpm(u.Alias + "-1-1")}
		}
		require.NoError(t, s.SaveUpdate(ctx, u))
	}
	save(&models.Update{Alias: "testing", ReleaseName: "F40", Request: models.RequestTesting})
	save(&models.Update{Alias: "stable", ReleaseName: "F40", Request: models.RequestStable})
	save(&models.Update{Alias: "old-release", ReleaseName: "F39", Request: models.RequestTesting})
	save(&models.Update{Alias: "no-request", ReleaseName: "F40"})
	save(&models.Update{Alias: "obsolete", ReleaseName: "F40", Request: models.RequestObsolete})
	save(&models.Update{Alias: "unsigned", ReleaseName: "F40", Request: models.RequestTesting,
		Builds: []*models.Build{{NVR: "unsigned-1-1", Type: models.ContentRPM}}})
	save(&models.Update{Alias: "in-compose", ReleaseName: "F40", Request: models.RequestStable, Locked: true})
	save(&models.Update{Alias: "stranded", ReleaseName: "F39", Request: models.RequestStable, Locked: true})
	require.NoError(t, s.CreateCompose(ctx, models.NewCompose("F40", models.RequestStable, models.ContentRPM, fixedNow)))

	got, err := FindCandidates(ctx, s, Filter{})
	require.NoError(t, err)
	// Stranded updates are reported and pushed again; in-compose ones are not
	assert.Equal(t, []string{"testing", "stable", "old-release", "stranded"}, aliases(got.Updates))
	assert.Equal(t, []string{"unsigned"}, aliases(got.Unsigned))
	assert.Equal(t, []string{"stranded"}, aliases(got.Stranded))

	got, err = FindCandidates(ctx, s, Filter{Releases: []string{"F40"}, Request: models.RequestTesting})
	require.NoError(t, err)
	assert.Equal(t, []string{"testing"}, aliases(got.Updates))

	got, err = FindCandidates(ctx, s, Filter{Builds: []string{"stable-1-1", "old-release-1-1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"stable", "old-release"}, aliases(got.Updates))
	assert.Empty(t, got.Unsigned)
}

func TestFindCandidates_StrandedUnsigned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.SaveUpdate(ctx, &models.Update{
		Alias: "stuck", ReleaseName: "F40", Request: models.RequestTesting, Locked: true,
		DateSubmitted: fixedNow,
		Builds:        []*models.Build{{NVR: "stuck-1-1", Type: models.ContentRPM}},
	}))

	got, err := FindCandidates(ctx, s, Filter{})
	require.NoError(t, err)
	assert.Empty(t, got.Updates)
	assert.Equal(t, []string{"stuck"}, aliases(got.Stranded))
	assert.Equal(t, []string{"stuck"}, aliases(got.Unsigned))
}
