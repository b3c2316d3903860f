package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelease_RequestedTag(t *testing.T) {
	t.Parallel()

	current := &Release{
		Name: "F40", State: ReleaseCurrent,
		StableTag: "f40-updates", TestingTag: "f40-updates-testing",
		CandidateTag: "f40-updates-candidate", DistTag: "f40",
	}
	pending := &Release{
		Name: "F41", State: ReleasePending,
		StableTag: "f41-updates", DistTag: "f41",
	}

	tests := []struct {
		name    string
		release *Release
		request UpdateRequest
		want    string
		wantOK  bool
	}{
		{name: "stable on current release", release: current, request: RequestStable, want: "f40-updates", wantOK: true},
		{name: "stable on pending release uses dist tag", release: pending, request: RequestStable, want: "f41", wantOK: true},
		{name: "testing", release: current, request: RequestTesting, want: "f40-updates-testing", wantOK: true},
		{name: "obsolete goes back to candidate", release: current, request: RequestObsolete, want: "f40-updates-candidate", wantOK: true},
		{name: "no request", release: current, request: RequestNone, wantOK: false},
		{name: "missing testing tag", release: pending, request: RequestTesting, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := tt.release.RequestedTag(tt.request)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTagFamilies(t *testing.T) {
	t.Parallel()

	families := NewTagFamilies([]*Release{
		{Name: "F40", CandidateTag: "f40-updates-candidate", TestingTag: "f40-updates-testing"},
		{Name: "F41", CandidateTag: "f41-updates-candidate"},
	})

	assert.Equal(t, []string{"f40-updates-candidate", "f41-updates-candidate"}, families.ForStatus(StatusPending))
	assert.Equal(t, []string{"f40-updates-testing"}, families.ForStatus(StatusTesting))
}

func TestUpdate_LockUnlockAndClone(t *testing.T) {
	t.Parallel()

	u := &Update{
		Alias:   "FEDORA-2024-1",
		Request: RequestTesting,
		Builds:  []*Build{{NVR: "bash-5.2-1.fc40", Type: ContentRPM, Signed: true}},
		Bugs:    []int{1},
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	u.Lock(now)
	require.True(t, u.Locked)
	require.NotNil(t, u.DateLocked)

	c := u.Clone()
	c.Builds[0].NVR = "changed"
	c.Bugs[0] = 2
	assert.Equal(t, "bash-5.2-1.fc40", u.Builds[0].NVR)
	assert.Equal(t, 1, u.Bugs[0])

	u.Unlock()
	assert.False(t, u.Locked)
	assert.Equal(t, RequestNone, u.Request)
	assert.Equal(t, ContentRPM, c.ContentType())
	assert.True(t, c.Signed())
}

func TestComposeKey(t *testing.T) {
	t.Parallel()

	release, request, err := ParseComposeKey(ComposeKey("EPEL-9", RequestStable))
	require.NoError(t, err)
	assert.Equal(t, "EPEL-9", release)
	assert.Equal(t, RequestStable, request)

	_, _, err = ParseComposeKey("F40")
	assert.Error(t, err)
	_, _, err = ParseComposeKey("F40-bogus")
	assert.Error(t, err)
}

func TestCheckpoints_JSON(t *testing.T) {
	t.Parallel()

	cp := Checkpoints{}
	cp.Mark("tagging")
	cp.SetValue("completed_repo", "/mnt/koji/compose/updates/F40-updates-testing-20240501.0")

	data, err := json.Marshal(cp)
	require.NoError(t, err)

	var loaded Checkpoints
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.True(t, loaded.Done("tagging"))
	assert.False(t, loaded.Done("punging"))
	assert.False(t, loaded.Done("completed_repo"))
	assert.Equal(t, "/mnt/koji/compose/updates/F40-updates-testing-20240501.0", loaded.Value("completed_repo"))

	loaded.Delete("completed_repo")
	assert.Empty(t, loaded.Value("completed_repo"))
}
