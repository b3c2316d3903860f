package buildsys

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevBuildsystem_TagMutations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevBuildsystem()
	d.SetTags("bash-5.2-1.fc40", "f40-updates-candidate", "f40-signing-pending")

	require.NoError(t, d.MoveTag(ctx, "f40-updates-candidate", "f40-updates-testing", "bash-5.2-1.fc40"))
	require.NoError(t, d.RemoveTag(ctx, "f40-signing-pending", "bash-5.2-1.fc40"))
	require.NoError(t, d.AddTag(ctx, "f40-override", "bash-5.2-1.fc40"))

	assert.Equal(t, []string{"f40-updates-testing", "f40-override"}, d.Tags("bash-5.2-1.fc40"))
	assert.Equal(t, []string{
		"moveBuild(f40-updates-candidate, f40-updates-testing, bash-5.2-1.fc40)",
		"untagBuild(f40-signing-pending, bash-5.2-1.fc40)",
		"tagBuild(f40-override, bash-5.2-1.fc40)",
	}, callStrings(d.Calls()))
}

func TestDevBuildsystem_Failures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevBuildsystem()
	boom := errors.New("boom")
	d.FailOn(OpMoveTag, "a-1-1", boom)
	d.FailTask("b-1-1")

	assert.ErrorIs(t, d.MoveTag(ctx, "x", "y", "a-1-1"), boom)

	var taskErr *TaskFailedError
	assert.ErrorAs(t, d.MoveTag(ctx, "x", "y", "b-1-1"), &taskErr)

	results, err := d.Batch(ctx, []Op{
		{Kind: OpMoveTag, FromTag: "x", Tag: "y", NVR: "b-1-1"},
		{Kind: OpMoveTag, FromTag: "x", Tag: "y", NVR: "c-1-1"},
	})
	require.NoError(t, err)
	failed, err := d.WaitForTasks(ctx, []int{results[0].TaskID, results[1].TaskID})
	require.NoError(t, err)
	assert.Equal(t, []int{results[0].TaskID}, failed)
}

func TestDevBuildsystem_GetBuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevBuildsystem()
	d.AddBuild(BuildInfo{NVR: "nodejs-20-4020240501.abcd", Name: "nodejs", Version: "20", Release: "4020240501.abcd"})

	info, err := d.GetBuild(ctx, "nodejs-20-4020240501.abcd")
	require.NoError(t, err)
	assert.Equal(t, "nodejs", info.Name)

	info, err = d.GetBuild(ctx, "bash-5.2-1.fc40")
	require.NoError(t, err)
	assert.Equal(t, "bash", info.Name)
	assert.Equal(t, "5.2", info.Version)

	_, err = d.GetBuild(ctx, "garbage")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDevBuildsystem_DeleteTag(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := NewDevBuildsystem()
	d.SetTags("a-1-1", "f40-build-side-1", "f40-updates")

	require.NoError(t, d.DeleteTag(ctx, "f40-build-side-1"))
	assert.Equal(t, []string{"f40-updates"}, d.Tags("a-1-1"))
	assert.Len(t, d.CallsTo(OpDelete), 1)
}

func callStrings(calls []Call) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.String())
	}
	return out
}
