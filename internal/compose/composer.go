package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/opencontainers/go-digest"

	"github.com/relengtools/composer/internal/composetool"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/mirror"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/notify"
	"github.com/relengtools/composer/internal/validator"
)

// Sub-checkpoints recorded by the repository composer.
const (
	checkpointCompletedRepo = "completed_repo"
	checkpointComposeDone   = "compose_done"
)

// Composer produces the repository content of a compose.
type Composer interface {
	Compose(ctx context.Context, w *Worker, st *State) error
}

// Registry selects the composer for a content type.
type Registry map[models.ContentType]Composer

// NewRegistry maps rpm and module content to the repository composer and
// container and flatpak content to the image composer. Nil composers leave
// their content types unregistered.
func NewRegistry(repo, image Composer) Registry {
	r := Registry{}
	if repo != nil {
		r[models.ContentRPM] = repo
		r[models.ContentModule] = repo
	}
	if image != nil {
		r[models.ContentContainer] = image
		r[models.ContentFlatpak] = image
	}
	return r
}

// Lookup returns the composer for ct.
func (r Registry) Lookup(ct models.ContentType) (Composer, bool) {
	c, ok := r[ct]
	return c, ok
}

// ComposeTool starts compose tool runs.
type ComposeTool interface {
	Start(ctx context.Context, p composetool.Params) (Process, error)
}

// Process is a running compose tool.
type Process interface {
	AwaitStartupOrFail(grace time.Duration) error
	AwaitCompletion(ctx context.Context) (string, error)
	Cleanup()
}

type invokerTool struct {
	inv *composetool.Invoker
}

// InvokerTool adapts a composetool.Invoker to ComposeTool.
func InvokerTool(inv *composetool.Invoker) ComposeTool {
	return invokerTool{inv: inv}
}

func (t invokerTool) Start(ctx context.Context, p composetool.Params) (Process, error) {
	h, err := t.inv.Start(ctx, p)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// RepoValidator checks a finished compose tree.
type RepoValidator interface {
	Validate(path string, contentType models.ContentType) error
}

// SyncWaiter blocks until the mirror serves a local file.
type SyncWaiter interface {
	WaitUntilSynced(ctx context.Context, localPath, url string) error
}

// RepoComposer builds yum repositories for rpm and module content with the
// external compose tool.
type RepoComposer struct {
	cfg       *config.Config
	tool      ComposeTool
	validator RepoValidator
	mirror    SyncWaiter
}

// NewRepoComposer creates a repository composer.
func NewRepoComposer(cfg *config.Config, tool ComposeTool, v RepoValidator, m SyncWaiter) *RepoComposer {
	return &RepoComposer{cfg: cfg, tool: tool, validator: v, mirror: m}
}

// Compose implements Composer. The finished tree and its acceptance are
// recorded as sub-checkpoints so a resumed run neither recomposes nor
// revalidates.
func (c *RepoComposer) Compose(ctx context.Context, w *Worker, st *State) error {
	if !st.Checkpoints().Done(checkpointComposeDone) {
		if err := c.compose(ctx, w, st); err != nil {
			return err
		}
	}
	return c.waitForSync(ctx, w, st)
}

func (c *RepoComposer) compose(ctx context.Context, w *Worker, st *State) error {
	cp := st.Checkpoints()
	path := cp.Value(checkpointCompletedRepo)

	var proc Process
	if path == "" {
		params := composetool.Params{
			ID:          st.ID,
			Release:     st.Release,
			Request:     st.Compose.Request,
			ContentType: st.Compose.ContentType,
			Updates:     st.Updates,
		}
		if st.Compose.ContentType == models.ContentModule {
			modules, err := moduleList(ctx, w.deps.Tags, w.deps.Store, st)
			if err != nil {
				return err
			}
			params.Modules = modules
		}

		var err error
		proc, err = c.tool.Start(ctx, params)
		if err != nil {
			return err
		}
		defer proc.Cleanup()
		if err := proc.AwaitStartupOrFail(c.cfg.ComposeTool.GetStartupGrace()); err != nil {
			return err
		}
	} else {
		w.logger.InfoContext(ctx, "Resuming with completed repository", "path", path)
	}

	if err := w.setState(ctx, st, models.ComposeUpdateinfo); err != nil {
		return err
	}
	uinfo, err := w.deps.UpdateInfo.Generate(ctx, st.Release, st.Compose.Request, st.Updates)
	if err != nil {
		return fmt.Errorf("generating updateinfo: %w", err)
	}

	if proc != nil {
		if err := w.setState(ctx, st, models.ComposePunging); err != nil {
			return err
		}
		path, err = proc.AwaitCompletion(ctx)
		if err != nil {
			return err
		}
		cp.SetValue(checkpointCompletedRepo, path)
		if err := w.saveCompose(ctx, st); err != nil {
			return err
		}
	}

	if err := uinfo.Insert(path); err != nil {
		return fmt.Errorf("inserting updateinfo: %w", err)
	}
	if err := c.validator.Validate(path, st.Compose.ContentType); err != nil {
		w.logger.ErrorContext(ctx, "Repository failed validation, it will be recomposed", "path", path, "error", err)
		cp.Delete(checkpointCompletedRepo)
		if saveErr := w.saveCompose(ctx, st); saveErr != nil {
			w.logger.ErrorContext(ctx, "Failed to forget the rejected repository", "error", saveErr)
		}
		return err
	}

	w.publish(ctx, notify.TopicRepoDone, map[string]any{"repo": st.ID, "path": path})
	if c.cfg.WaitForRepoSignature {
		if err := c.waitForSignature(ctx, w, st, path); err != nil {
			return err
		}
	}
	if err := c.stageRepo(path, st.ID); err != nil {
		return err
	}

	cp.Mark(checkpointComposeDone)
	return w.saveCompose(ctx, st)
}

// waitForSignature polls until every architecture has a signed repomd.xml.
func (c *RepoComposer) waitForSignature(ctx context.Context, w *Worker, st *State, path string) error {
	if err := w.setState(ctx, st, models.ComposeSigningRepo); err != nil {
		return err
	}
	arches, err := validator.Arches(path)
	if err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Waiting for repository signatures", "path", path)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		for _, arch := range arches {
			sig := filepath.Join(validator.RepodataDir(path, arch), "repomd.xml.asc")
			if _, err := os.Stat(sig); err != nil {
				w.logger.DebugContext(ctx, "Signature not there yet", "file", sig)
				return struct{}{}, fmt.Errorf("waiting for %s", sig)
			}
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.GetSignaturePollInterval())),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return fmt.Errorf("waiting for repository signatures: %w", err)
	}
	w.logger.InfoContext(ctx, "All repositories signed")
	return nil
}

// stageRepo points <stageDir>/<id> at the finished tree.
func (c *RepoComposer) stageRepo(path, id string) error {
	stageDir := c.cfg.GetStageDir()
	if err := os.MkdirAll(stageDir, 0750); err != nil {
		return fmt.Errorf("creating stage directory: %w", err)
	}
	link := filepath.Join(stageDir, id)
	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("%s exists and is not a symlink", link)
		}
		if err := os.Remove(link); err != nil {
			return err
		}
	}
	return os.Symlink(path, link)
}

// waitForSync blocks until the master mirror serves the repomd.xml of the
// finished tree.
func (c *RepoComposer) waitForSync(ctx context.Context, w *Worker, st *State) error {
	path := st.Checkpoints().Value(checkpointCompletedRepo)
	if c.cfg.Mirror == nil || c.mirror == nil {
		w.logger.InfoContext(ctx, "No mirror configured, not waiting for sync")
		return nil
	}
	if err := w.setState(ctx, st, models.ComposeSyncingRepo); err != nil {
		return err
	}

	arches, err := validator.Arches(path)
	if err != nil {
		return err
	}
	arch, ok := mirror.CheckArch(arches)
	if !ok {
		return fmt.Errorf("no binary architecture in %s", path)
	}
	local := filepath.Join(validator.RepodataDir(path, arch), "repomd.xml")
	if _, err := os.Stat(local); errors.Is(err, os.ErrNotExist) {
		w.logger.ErrorContext(ctx, "Cannot find local repomd, not waiting for sync", "path", local)
		return nil
	}
	url, err := mirror.ResolveURL(c.cfg.Mirror, st.Release, st.Compose.Request, arch)
	if err != nil {
		return err
	}

	w.publish(ctx, notify.TopicSyncWait, map[string]any{"repo": st.ID})
	if err := c.mirror.WaitUntilSynced(ctx, local, url); err != nil {
		return err
	}
	w.publish(ctx, notify.TopicSyncDone, map[string]any{"repo": st.ID})
	return nil
}

// ImageComposer publishes container and flatpak builds by copying them to
// the destination registry.
type ImageComposer struct {
	copier composetool.ImageCopier
}

// NewImageComposer creates an image composer.
func NewImageComposer(copier composetool.ImageCopier) *ImageComposer {
	return &ImageComposer{copier: copier}
}

// Compose implements Composer. Every tag of a build must end up on the
// same manifest digest.
func (c *ImageComposer) Compose(ctx context.Context, w *Worker, st *State) error {
	for _, u := range st.Updates {
		for _, b := range u.Builds {
			tags, err := composetool.ContainerDestinationTags(b.NVR, st.Compose.Request)
			if err != nil {
				return err
			}
			var published digest.Digest
			for _, tag := range tags {
				dgst, err := c.copier.Copy(ctx, b.NVR, tag)
				if err != nil {
					return err
				}
				if published == "" {
					published = dgst
				} else if dgst != published {
					return fmt.Errorf("%s: tag %q points at %s, expected %s", b.NVR, tag, dgst, published)
				}
			}
			w.logger.InfoContext(ctx, "Published image", "build", b.NVR, "tags", tags, "digest", published)
			w.publish(ctx, notify.TopicImagePublished, map[string]any{
				"build":  b.NVR,
				"update": u.Alias,
				"digest": published.String(),
			})
		}
	}
	return nil
}
