package compose

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/models"
)

func TestRequirementsGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        *config.GatingConfig
		update     models.Update
		wantOK     bool
		wantReason string
	}{
		{
			name:   "nil config allows everything",
			update: models.Update{TestGatingStatus: "failed", Critpath: true},
			wantOK: true,
		},
		{
			name:   "passed tests",
			cfg:    &config.GatingConfig{RequireTestGating: true},
			update: models.Update{TestGatingStatus: "passed"},
			wantOK: true,
		},
		{
			name:   "ignored tests",
			cfg:    &config.GatingConfig{RequireTestGating: true},
			update: models.Update{TestGatingStatus: "ignored"},
			wantOK: true,
		},
		{
			name:       "waiting tests",
			cfg:        &config.GatingConfig{RequireTestGating: true},
			update:     models.Update{TestGatingStatus: "waiting"},
			wantReason: "Required tests did not pass on this update.",
		},
		{
			name:       "unapproved critpath",
			cfg:        &config.GatingConfig{RequireCritpathApproval: true},
			update:     models.Update{Critpath: true},
			wantReason: "This critical path update has not yet been approved for pushing to the stable repository.",
		},
		{
			name:   "approved critpath",
			cfg:    &config.GatingConfig{RequireCritpathApproval: true},
			update: models.Update{Critpath: true, CritpathApproved: true},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ok, reason, err := NewRequirementsGate(tt.cfg).Check(context.Background(), &tt.update)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestStoreHousekeeper_ExpireBuildrootOverride(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tags.SetTags("bash-5.2-1.fc40", testingTag, "f40-override")
	b := &models.Build{NVR: "bash-5.2-1.fc40", HasOverride: true}

	h := NewStoreHousekeeper(f.store, f.tags, nil)
	require.NoError(t, h.ExpireBuildrootOverride(context.Background(), f.release, b))
	assert.False(t, b.HasOverride)
	assert.Equal(t, []string{testingTag}, f.tags.Tags("bash-5.2-1.fc40"))

	f.tags.FailOn(buildsys.OpRemove, "curl-8.6-1.fc40", buildsys.ErrNotFound)
	failing := &models.Build{NVR: "curl-8.6-1.fc40", HasOverride: true}
	require.ErrorIs(t, h.ExpireBuildrootOverride(context.Background(), f.release, failing), buildsys.ErrNotFound)
	assert.True(t, failing.HasOverride)
}

func TestStoreHousekeeper_ObsoleteOlderUpdates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	save := func(u *models.Update) {
		require.NoError(t, f.store.SaveUpdate(ctx, u))
	}
	save(&models.Update{Alias: "old", ReleaseName: "F40", Status: models.StatusTesting,
		Builds: []*models.Build{{NVR: "bash-5.1-1.fc40"}}})
	save(&models.Update{Alias: "old-stable-request", ReleaseName: "F40", Status: models.StatusTesting,
		Request: models.RequestStable, Builds: []*models.Build{{NVR: "bash-5.1-2.fc40"}}})
	save(&models.Update{Alias: "mixed", ReleaseName: "F40", Status: models.StatusPending,
		Builds: []*models.Build{{NVR: "bash-5.0-1.fc40"}, {NVR: "zsh-5.9-1.fc40"}}})
	save(&models.Update{Alias: "locked", ReleaseName: "F40", Status: models.StatusPending, Locked: true,
		Request: models.RequestTesting, Builds: []*models.Build{{NVR: "bash-5.0-2.fc40"}}})
	save(&models.Update{Alias: "other-release", ReleaseName: "F39", Status: models.StatusTesting,
		Builds: []*models.Build{{NVR: "bash-5.1-1.fc39"}}})

	newer := &models.Update{Alias: "new", ReleaseName: "F40", Status: models.StatusTesting,
		Builds: []*models.Build{{NVR: "bash-5.2-1.fc40"}}}
	save(newer)

	h := NewStoreHousekeeper(f.store, f.tags, func() time.Time { return fixedNow })
	require.NoError(t, h.ObsoleteOlderUpdates(ctx, newer))

	assert.Equal(t, models.StatusObsolete, f.update(t, "old").Status)
	assert.Contains(t, f.comments(t, "old"), "This update has been obsoleted by new.")
	for _, alias := range []string{"old-stable-request", "mixed", "locked", "other-release", "new"} {
		assert.NotEqual(t, models.StatusObsolete, f.update(t, alias).Status, alias)
	}
}
