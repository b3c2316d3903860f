package compose

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/composetool"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/httpclient"
	"github.com/relengtools/composer/internal/mirror"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/notify"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/validator"
)

func TestWorker_TestingPush(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.addUpdate(t, "FEDORA-2024-b", models.StatusPending, models.RequestTesting, "curl-8.6-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.ElementsMatch(t, []string{"FEDORA-2024-a", "FEDORA-2024-b"}, res.Updates)
	assert.Empty(t, res.Ejected)

	_, err := f.store.GetCompose(context.Background(), "F40", models.RequestTesting)
	assert.ErrorIs(t, err, store.ErrComposeNotFound, "a successful compose is deleted")

	for _, alias := range []string{"FEDORA-2024-a", "FEDORA-2024-b"} {
		u := f.update(t, alias)
		assert.Equal(t, models.StatusTesting, u.Status)
		assert.Equal(t, models.RequestNone, u.Request)
		assert.False(t, u.Locked)
		assert.True(t, u.Pushed)
		require.NotNil(t, u.DateTesting)
		require.NotNil(t, u.DatePushed)
		assert.Contains(t, f.comments(t, alias), "This update has been pushed to testing.")
	}

	assert.ElementsMatch(t, []string{testingTag}, f.tags.Tags("bash-5.2-1.fc40"))
	assert.ElementsMatch(t, []string{testingTag}, f.tags.Tags("curl-8.6-1.fc40"))

	starts := f.tool.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, testingTag, starts[0].ID)
	assert.Equal(t, []bool{true}, f.tool.cleanedUp())

	link, err := os.Readlink(filepath.Join(f.cfg.StageDir, testingTag))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.tool.root, testingTag+"-1"), link)

	updateinfo, err := os.ReadFile(filepath.Join(link, "compose", "Everything", "x86_64", "os", "repodata", "updateinfo.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(updateinfo), "<id>FEDORA-2024-a</id>")

	topics := f.events.Topics()
	assert.Equal(t, notify.TopicComposeComposing, topics[0])
	assert.Contains(t, topics, notify.TopicRepoDone)
	assert.Len(t, f.events.Filter(notify.TopicCompleteTesting), 2)
	assert.Equal(t, notify.TopicComposeComplete, topics[len(topics)-1])
	assert.Equal(t, true, f.events.Filter(notify.TopicComposeComplete)[0].Body["success"])
}

func TestWorker_ResumeSkipsCompletedStages(t *testing.T) {
	t.Parallel()

	bugs := &failingBugs{err: errors.New("bugzilla is down")}
	f := newFixture(t)
	f.deps.Bugs = bugs
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.Error(t, res.Err)
	var stageErr *StageError
	require.ErrorAs(t, res.Err, &stageErr)
	assert.Equal(t, "modify_bugs", stageErr.Stage)

	c, err := f.store.GetCompose(context.Background(), "F40", models.RequestTesting)
	require.NoError(t, err)
	assert.Equal(t, models.ComposeFailed, c.State)
	assert.Contains(t, c.ErrorMessage, "bugzilla is down")
	assert.True(t, c.Checkpoints.Done("compose"))
	assert.True(t, c.Checkpoints.Done("send_notifications"))
	assert.False(t, c.Checkpoints.Done("modify_bugs"))
	assert.NotEmpty(t, c.Checkpoints.Value(checkpointCompletedRepo))

	bugs.heal()
	res = f.worker(models.RequestTesting, true).Run(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Success)

	assert.Len(t, f.tool.Starts(), 1, "the compose tool is not run again")
	assert.Len(t, f.events.Filter(notify.TopicCompleteTesting), 1, "notifications are not sent twice")
	assert.Equal(t, 2, bugs.calls)

	u := f.update(t, "FEDORA-2024-a")
	assert.Equal(t, models.StatusTesting, u.Status)
	assert.False(t, u.Locked)
}

func TestWorker_StartupFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tool.startupErr = composetool.ErrStartupFailed
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.ErrorIs(t, res.Err, composetool.ErrStartupFailed)
	assert.False(t, res.Success)

	c, err := f.store.GetCompose(context.Background(), "F40", models.RequestTesting)
	require.NoError(t, err)
	assert.Equal(t, models.ComposeFailed, c.State)
	assert.Empty(t, c.Checkpoints.Value(checkpointCompletedRepo))

	assert.Empty(t, f.events.Filter(notify.TopicRepoDone))
	assert.Empty(t, f.events.Filter(notify.TopicSyncWait))

	u := f.update(t, "FEDORA-2024-a")
	assert.True(t, u.Locked, "updates stay locked for a resume")
	assert.Equal(t, models.RequestTesting, u.Request)
	assert.Equal(t, []bool{true}, f.tool.cleanedUp())
}

func TestWorker_CompletionFailureCleansUpTool(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tool.completeErr = composetool.ErrProcessFailed
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.ErrorIs(t, res.Err, composetool.ErrProcessFailed)
	assert.Equal(t, []bool{true}, f.tool.cleanedUp())

	c, err := f.store.GetCompose(context.Background(), "F40", models.RequestTesting)
	require.NoError(t, err)
	assert.Equal(t, models.ComposeFailed, c.State)
	assert.Empty(t, c.Checkpoints.Value(checkpointCompletedRepo))
}

func TestWorker_InvalidRepoIsRecomposed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.tool.setBroken(true)
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.ErrorIs(t, res.Err, validator.ErrInvalidRepodata)

	c, err := f.store.GetCompose(context.Background(), "F40", models.RequestTesting)
	require.NoError(t, err)
	assert.Empty(t, c.Checkpoints.Value(checkpointCompletedRepo), "a rejected repo is forgotten")
	assert.True(t, c.Checkpoints.Done("tagging"))

	f.tool.setBroken(false)
	res = f.worker(models.RequestTesting, true).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Len(t, f.tool.Starts(), 2)
}

func TestWorker_GatingEjectsFailingUpdates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture) {
		f.cfg.Gating = &config.GatingConfig{RequireTestGating: true}
	})
	f.addUpdate(t, "FEDORA-2024-a", models.StatusTesting, models.RequestStable, "bash-5.2-1.fc40")
	bad := f.addUpdate(t, "FEDORA-2024-b", models.StatusTesting, models.RequestStable, "curl-8.6-1.fc40")
	bad.TestGatingStatus = "failed"
	require.NoError(t, f.store.SaveUpdate(context.Background(), bad))
	side := f.addUpdate(t, "FEDORA-2024-c", models.StatusTesting, models.RequestStable, "vim-9.1-1.fc40")
	side.FromTag = "f40-build-side-1234"
	require.NoError(t, f.store.SaveUpdate(context.Background(), side))
	f.createCompose(t, models.RequestStable, models.ContentRPM)
	f.deps.Gate = NewRequirementsGate(f.cfg.Gating)

	res := f.worker(models.RequestStable, false).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"FEDORA-2024-b"}, res.Ejected)
	assert.ElementsMatch(t, []string{"FEDORA-2024-a", "FEDORA-2024-c"}, res.Updates)

	ejected := f.update(t, "FEDORA-2024-b")
	assert.Equal(t, models.StatusTesting, ejected.Status)
	assert.Equal(t, models.RequestNone, ejected.Request)
	assert.False(t, ejected.Locked)
	assert.Contains(t, f.comments(t, "FEDORA-2024-b"),
		`FEDORA-2024-b ejected from the push because "Required tests did not pass on this update."`)
	assert.ElementsMatch(t, []string{testingTag}, f.tags.Tags("curl-8.6-1.fc40"))

	for _, alias := range []string{"FEDORA-2024-a", "FEDORA-2024-c"} {
		u := f.update(t, alias)
		assert.Equal(t, models.StatusStable, u.Status)
		require.NotNil(t, u.DateStable)
	}
	assert.ElementsMatch(t, []string{stableTag}, f.tags.Tags("bash-5.2-1.fc40"))

	deleted := f.tags.CallsTo(buildsys.OpDelete)
	require.Len(t, deleted, 1)
	assert.Equal(t, []string{"f40-build-side-1234"}, deleted[0].Args)

	require.Len(t, f.events.Filter(notify.TopicUpdateEject), 1)
	assert.Len(t, f.events.Filter(notify.TopicCompleteStable), 2)
}

func TestWorker_PendingReleaseSkipsCompose(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture) {
		f.release.State = models.ReleasePending
	})
	f.addUpdate(t, "FEDORA-2024-a", models.StatusTesting, models.RequestStable, "bash-5.2-1.fc40")
	f.createCompose(t, models.RequestStable, models.ContentRPM)

	res := f.worker(models.RequestStable, false).Run(context.Background())
	require.NoError(t, res.Err)

	assert.Empty(t, f.tool.Starts())
	// Builds are added to the dist tag and keep their testing tag.
	assert.ElementsMatch(t, []string{testingTag, "f40"}, f.tags.Tags("bash-5.2-1.fc40"))
	assert.Empty(t, f.events.Filter(notify.TopicRepoDone))
	assert.Equal(t, models.StatusStable, f.update(t, "FEDORA-2024-a").Status)
}

func TestWorker_BuildsOfOnePackageAreTaggedInVersionOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addUpdate(t, "FEDORA-2024-new", models.StatusPending, models.RequestTesting, "bash-5.10-1.fc40")
	f.addUpdate(t, "FEDORA-2024-old", models.StatusPending, models.RequestTesting, "bash-5.9-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.NoError(t, res.Err)

	moves := f.tags.CallsTo(buildsys.OpMoveTag)
	require.Len(t, moves, 2)
	assert.Equal(t, []string{candidateTag, testingTag, "bash-5.9-1.fc40"}, moves[0].Args)
	assert.Equal(t, []string{candidateTag, testingTag, "bash-5.10-1.fc40"}, moves[1].Args)

	// The older update of the batch is obsoleted by the newer one.
	assert.Equal(t, models.StatusObsolete, f.update(t, "FEDORA-2024-old").Status)
	assert.Equal(t, models.StatusTesting, f.update(t, "FEDORA-2024-new").Status)
}

func TestWorker_ModuleCompose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	published := &models.Update{
		Alias:       "FEDORA-MODULAR-2024-old",
		ReleaseName: "F40",
		Status:      models.StatusStable,
		Builds: []*models.Build{
			{NVR: "nodejs-20-4020230101000000.aaaa1111", Type: models.ContentModule},
			{NVR: "nodejs-18-4020240301000000.bbbb2222", Type: models.ContentModule},
		},
	}
	require.NoError(t, f.store.SaveUpdate(context.Background(), published))
	u := f.addUpdate(t, "FEDORA-MODULAR-2024-a", models.StatusPending, models.RequestTesting,
		"nodejs-20-4020240101000000.cccc3333")
	u.Builds[0].Type = models.ContentModule
	require.NoError(t, f.store.SaveUpdate(context.Background(), u))
	f.createCompose(t, models.RequestTesting, models.ContentModule)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.NoError(t, res.Err)

	starts := f.tool.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, models.ContentModule, starts[0].ContentType)
	assert.Equal(t, []string{
		"nodejs:18:4020240301000000:bbbb2222",
		"nodejs:20:4020240101000000:cccc3333",
	}, starts[0].Modules)
}

func TestWorker_UnsupportedContentTypeIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.deps.Composers = NewRegistry(nil, nil)
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.NoError(t, res.Err)
	assert.Empty(t, f.tool.Starts())
	assert.Equal(t, models.StatusTesting, f.update(t, "FEDORA-2024-a").Status)
}

func TestWorker_WaitsForMirror(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var f *fixture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/40/x86_64/repomd.xml", r.URL.Path)
		if hits.Load() == 1 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		local := filepath.Join(f.tool.root, testingTag+"-1", "compose", "Everything", "x86_64", "os", "repodata", "repomd.xml")
		data, err := os.ReadFile(local)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	f = newFixture(t, func(f *fixture) {
		f.cfg.Mirror = &config.MirrorConfig{
			Repomd: map[string]string{"fedora_40_testing": srv.URL + "/{version}/{arch}/repomd.xml"},
		}
		f.mirror = mirror.NewWaiter(httpclient.NewDefaultClient(5*time.Second), 10*time.Millisecond, nil)
	})
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.NoError(t, res.Err)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
	assert.Len(t, f.events.Filter(notify.TopicSyncWait), 1)
	assert.Len(t, f.events.Filter(notify.TopicSyncDone), 1)
}

func TestWorker_MissingMirrorURLFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(f *fixture) {
		f.cfg.Mirror = &config.MirrorConfig{Repomd: map[string]string{"fedora_stable": "http://example.invalid"}}
		f.mirror = mirror.NewWaiter(httpclient.NewDefaultClient(time.Second), time.Millisecond, nil)
	})
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.ErrorIs(t, res.Err, mirror.ErrNoMirrorURL)

	c, err := f.store.GetCompose(context.Background(), "F40", models.RequestTesting)
	require.NoError(t, err)
	assert.Equal(t, models.ComposeFailed, c.State)
	assert.True(t, c.Checkpoints.Done(checkpointComposeDone), "the repo is not recomposed on resume")
}

func TestWorker_MissingCompose(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.ErrorIs(t, res.Err, store.ErrComposeNotFound)
	assert.False(t, res.Success)
}

func TestWorker_UntaggedBuildEjectsUpdate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addUpdate(t, "FEDORA-2024-a", models.StatusPending, models.RequestTesting, "bash-5.2-1.fc40")
	f.addUpdate(t, "FEDORA-2024-lost", models.StatusPending, models.RequestTesting, "lost-1.0-1.fc40")
	f.tags.SetTags("lost-1.0-1.fc40", "f40-override")
	f.createCompose(t, models.RequestTesting, models.ContentRPM)

	res := f.worker(models.RequestTesting, false).Run(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"FEDORA-2024-lost"}, res.Ejected)
	assert.Equal(t, []string{"FEDORA-2024-a"}, res.Updates)

	lost := f.update(t, "FEDORA-2024-lost")
	assert.False(t, lost.Locked)
	assert.Equal(t, models.RequestNone, lost.Request)
	assert.Equal(t, models.StatusPending, lost.Status)
	assert.False(t, lost.Pushed)
	comments := f.comments(t, "FEDORA-2024-lost")
	require.Len(t, comments, 1)
	assert.Contains(t, comments[0], "FEDORA-2024-lost ejected from the push because")
	assert.ElementsMatch(t, []string{"f40-override"}, f.tags.Tags("lost-1.0-1.fc40"))

	// Later stages never see the ejected update
	starts := f.tool.Starts()
	require.Len(t, starts, 1)
	var composed []string
	for _, u := range starts[0].Updates {
		composed = append(composed, u.Alias)
	}
	assert.Equal(t, []string{"FEDORA-2024-a"}, composed)

	var notified []string
	for _, ev := range f.events.Filter(notify.TopicCompleteTesting) {
		notified = append(notified, ev.Body["update"].(string))
	}
	assert.Equal(t, []string{"FEDORA-2024-a"}, notified)

	ejections := f.events.Filter(notify.TopicUpdateEject)
	require.Len(t, ejections, 1)
	assert.Equal(t, "FEDORA-2024-lost", ejections[0].Body["update"])
}
