package compose

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/composetool"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/notify"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/validator"
)

const (
	candidateTag      = "f40-updates-candidate"
	testingTag        = "f40-updates-testing"
	stableTag         = "f40-updates"
	pendingTestingTag = "f40-updates-testing-pending"
	pendingStableTag  = "f40-updates-pending"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testRelease() *models.Release {
	return &models.Release{
		Name:              "F40",
		LongName:          "Fedora 40",
		Version:           "40",
		IDPrefix:          "FEDORA",
		State:             models.ReleaseCurrent,
		DistTag:           "f40",
		StableTag:         stableTag,
		TestingTag:        testingTag,
		CandidateTag:      candidateTag,
		PendingSigningTag: "f40-signing-pending",
		PendingTestingTag: pendingTestingTag,
		PendingStableTag:  pendingStableTag,
		OverrideTag:       "f40-override",
	}
}

// fakeTool stands in for the compose tool. Each run writes a small but
// valid repository tree.
type fakeTool struct {
	root string

	mu          sync.Mutex
	starts      []composetool.Params
	procs       []*fakeProcess
	startupErr  error
	completeErr error
	// broken makes the next trees fail validation.
	broken bool
}

func (f *fakeTool) Start(_ context.Context, p composetool.Params) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, p)
	path := filepath.Join(f.root, fmt.Sprintf("%s-%d", p.ID, len(f.starts)))
	proc := &fakeProcess{tool: f, path: path, contentType: p.ContentType}
	f.procs = append(f.procs, proc)
	return proc, nil
}

// cleanedUp reports, per started process, whether Cleanup ran.
func (f *fakeTool) cleanedUp() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.procs))
	for i, p := range f.procs {
		out[i] = p.cleaned
	}
	return out
}

func (f *fakeTool) Starts() []composetool.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]composetool.Params(nil), f.starts...)
}

func (f *fakeTool) setBroken(broken bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = broken
}

type fakeProcess struct {
	tool        *fakeTool
	path        string
	contentType models.ContentType
	cleaned     bool
}

func (p *fakeProcess) AwaitStartupOrFail(time.Duration) error {
	return p.tool.startupErr
}

func (p *fakeProcess) AwaitCompletion(context.Context) (string, error) {
	if p.tool.completeErr != nil {
		return "", p.tool.completeErr
	}
	p.tool.mu.Lock()
	broken := p.tool.broken
	p.tool.mu.Unlock()
	if err := writeTree(p.path, p.contentType, broken); err != nil {
		return "", err
	}
	return p.path, nil
}

func (p *fakeProcess) Cleanup() {
	p.tool.mu.Lock()
	defer p.tool.mu.Unlock()
	p.cleaned = true
}

// writeTree writes an x86_64 and a source repository. Updateinfo is left
// out: the pipeline inserts it.
func writeTree(path string, ct models.ContentType, broken bool) error {
	primary := `<metadata packages="1"><package type="rpm"><name>bash</name></package></metadata>`
	if broken {
		primary = `<metadata packages="0"></metadata>`
	}
	everything := filepath.Join(path, "compose", "Everything")

	binary := map[string]string{
		"primary":   primary,
		"filelists": "<filelists/>",
		"group":     `<comps><group><id>core</id></group></comps>`,
	}
	if ct == models.ContentModule {
		delete(binary, "group")
		binary["modules"] = "---\ndocument: modulemd\n"
	}
	source := map[string]string{"primary": primary, "filelists": "<filelists/>"}

	repos := []struct {
		root     string
		files    map[string]string
		packages []string
	}{
		{filepath.Join(everything, "x86_64", "os"), binary, []string{"Packages/b/bash-5.2-1.fc40.x86_64.rpm"}},
		{filepath.Join(everything, "x86_64", "debug", "tree"), nil, []string{"Packages/b/bash-debuginfo-5.2-1.fc40.x86_64.rpm"}},
		{filepath.Join(everything, "source", "tree"), source, []string{"Packages/b/bash-5.2-1.fc40.src.rpm"}},
	}
	for _, r := range repos {
		for _, pkg := range r.packages {
			p := filepath.Join(r.root, filepath.FromSlash(pkg))
			if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
				return err
			}
			if err := os.WriteFile(p, []byte("rpm"), 0600); err != nil {
				return err
			}
		}
		if r.files == nil {
			continue
		}
		repodata := filepath.Join(r.root, "repodata")
		if err := os.MkdirAll(repodata, 0750); err != nil {
			return err
		}
		md := `<repomd xmlns="http://linux.duke.edu/metadata/repo">`
		for kind, content := range r.files {
			if err := os.WriteFile(filepath.Join(repodata, kind+".xml"), []byte(content), 0600); err != nil {
				return err
			}
			md += fmt.Sprintf(`<data type="%s"><location href="repodata/%s.xml"/></data>`, kind, kind)
		}
		md += `</repomd>`
		if err := os.WriteFile(filepath.Join(repodata, "repomd.xml"), []byte(md), 0600); err != nil {
			return err
		}
	}

	metadata := filepath.Join(path, "compose", "metadata")
	if err := os.MkdirAll(metadata, 0750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(metadata, "composeinfo.json"), []byte("{}"), 0600)
}

type fixture struct {
	cfg     *config.Config
	release *models.Release
	store   store.Store
	tags    *buildsys.DevBuildsystem
	events  *notify.Recorder
	tool    *fakeTool
	mirror  SyncWaiter
	deps    Deps
}

func newFixture(t *testing.T, mutate ...func(*fixture)) *fixture {
	t.Helper()
	dir := t.TempDir()

	f := &fixture{
		cfg: &config.Config{
			ComposeDir: filepath.Join(dir, "composes"),
			StageDir:   filepath.Join(dir, "stage"),
		},
		release: testRelease(),
		store:   store.NewMemoryStore(),
		tags:    buildsys.NewDevBuildsystem(),
		events:  &notify.Recorder{},
		tool:    &fakeTool{root: filepath.Join(dir, "composes")},
	}
	for _, m := range mutate {
		m(f)
	}
	require.NoError(t, f.store.UpsertRelease(context.Background(), f.release))

	f.deps = Deps{
		Store:     f.store,
		Tags:      f.tags,
		Publisher: f.events,
		Now:       func() time.Time { return fixedNow },
		Logger:    slog.New(slog.DiscardHandler),
	}
	return f
}

// addUpdate stores a locked update carrying request and tags its builds the
// way the submission side would have.
func (f *fixture) addUpdate(t *testing.T, alias string, status models.UpdateStatus, request models.UpdateRequest,
	nvrs ...string) *models.Update {
	t.Helper()
	u := &models.Update{
		Alias:         alias,
		Title:         nvrs[0],
		ReleaseName:   f.release.Name,
		Status:        status,
		Request:       request,
		Type:          models.TypeBugfix,
		Locked:        request != models.RequestNone,
		DateSubmitted: fixedNow.Add(-48 * time.Hour),
	}
	for _, nvr := range nvrs {
		u.Builds = append(u.Builds, &models.Build{NVR: nvr, Type: models.ContentRPM, Signed: true})
		switch status {
		case models.StatusTesting:
			f.tags.SetTags(nvr, testingTag, pendingStableTag)
		default:
			f.tags.SetTags(nvr, candidateTag, pendingTestingTag)
		}
	}
	require.NoError(t, f.store.SaveUpdate(context.Background(), u))
	return u
}

func (f *fixture) createCompose(t *testing.T, request models.UpdateRequest, ct models.ContentType) {
	t.Helper()
	c := models.NewCompose(f.release.Name, request, ct, fixedNow)
	c.State = models.ComposePending
	require.NoError(t, f.store.CreateCompose(context.Background(), c))
}

func (f *fixture) worker(request models.UpdateRequest, resume bool) *Worker {
	deps := f.deps
	if deps.Composers == nil {
		deps.Composers = NewRegistry(NewRepoComposer(f.cfg, f.tool, validator.New(slog.New(slog.DiscardHandler)), f.mirror), nil)
	}
	return NewWorker(deps, f.cfg, f.release.Name, request, resume)
}

func (f *fixture) update(t *testing.T, alias string) *models.Update {
	t.Helper()
	u, err := f.store.GetUpdate(context.Background(), alias)
	require.NoError(t, err)
	return u
}

func (f *fixture) comments(t *testing.T, alias string) []string {
	t.Helper()
	comments, err := f.store.ListComments(context.Background(), alias)
	require.NoError(t, err)
	var out []string
	for _, c := range comments {
		out = append(out, c.Text)
	}
	return out
}

// failingBugs fails ModifyBugs until healed.
type failingBugs struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (b *failingBugs) RefreshSecurityBug(context.Context, int) error { return nil }

func (b *failingBugs) ModifyBugs(context.Context, *models.Update) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.err
}

func (b *failingBugs) heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = nil
}
