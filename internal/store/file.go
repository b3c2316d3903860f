package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/relengtools/composer/internal/models"
)

const (
	// StateFileName is the name of the file store's state file
	StateFileName = "composer.json"
)

// snapshot is the whole content of the file store.
type snapshot struct {
	Releases map[string]*models.Release `json:"releases"`
	Updates  map[string]*models.Update  `json:"updates"`
	Composes map[string]*models.Compose `json:"composes"`
	Comments []*models.Comment          `json:"comments"`
}

func newSnapshot() *snapshot {
	return &snapshot{
		Releases: make(map[string]*models.Release),
		Updates:  make(map[string]*models.Update),
		Composes: make(map[string]*models.Compose),
	}
}

func (s *snapshot) clone() *snapshot {
	out := newSnapshot()
	for k, r := range s.Releases {
		rc := *r
		out.Releases[k] = &rc
	}
	for k, u := range s.Updates {
		out.Updates[k] = u.Clone()
	}
	for k, c := range s.Composes {
		out.Composes[k] = c.Clone()
	}
	out.Comments = slices.Clone(s.Comments)
	return out
}

// fileStore keeps the whole state in memory and rewrites a JSON file after
// every committed change. An empty path keeps the state in memory only.
type fileStore struct {
	path string

	mu   sync.Mutex
	data *snapshot
}

var _ Store = (*fileStore)(nil)

// NewFileStore opens the file store in dataDir, loading existing state.
func NewFileStore(dataDir string) (Store, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	s := &fileStore{path: filepath.Join(dataDir, StateFileName), data: newSnapshot()}

	// #nosec G304 -- path is built from the configured data directory
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("No previous state found, starting empty", "path", s.path)
	case err != nil:
		return nil, fmt.Errorf("failed to read state file: %w", err)
	default:
		loaded := newSnapshot()
		if err := json.Unmarshal(data, loaded); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state file %s: %w", s.path, err)
		}
		s.data = loaded
		slog.Info("Loaded state", "path", s.path,
			"releases", len(loaded.Releases), "updates", len(loaded.Updates), "composes", len(loaded.Composes))
	}
	return s, nil
}

// NewMemoryStore returns a store that never touches the disk.
func NewMemoryStore() Store {
	return &fileStore{data: newSnapshot()}
}

func (s *fileStore) persist(data *snapshot) error {
	if s.path == "" {
		return nil
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, encoded, 0600); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}

func (s *fileStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(&fileTx{data: working}); err != nil {
		return err
	}
	if err := s.persist(working); err != nil {
		return err
	}
	s.data = working
	return ctx.Err()
}

func (s *fileStore) view() *fileTx {
	return &fileTx{data: s.data}
}

func (s *fileStore) GetRelease(ctx context.Context, name string) (*models.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetRelease(ctx, name)
}

func (s *fileStore) ListReleases(ctx context.Context) ([]*models.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListReleases(ctx)
}

func (s *fileStore) UpsertRelease(ctx context.Context, release *models.Release) error {
	return s.InTx(ctx, func(tx Store) error { return tx.UpsertRelease(ctx, release) })
}

func (s *fileStore) GetUpdate(ctx context.Context, alias string) (*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetUpdate(ctx, alias)
}

func (s *fileStore) FindUpdates(ctx context.Context, filter UpdateFilter) ([]*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().FindUpdates(ctx, filter)
}

func (s *fileStore) SaveUpdate(ctx context.Context, update *models.Update) error {
	return s.InTx(ctx, func(tx Store) error { return tx.SaveUpdate(ctx, update) })
}

func (s *fileStore) AddComment(ctx context.Context, comment *models.Comment) error {
	return s.InTx(ctx, func(tx Store) error { return tx.AddComment(ctx, comment) })
}

func (s *fileStore) ListComments(ctx context.Context, alias string) ([]*models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListComments(ctx, alias)
}

func (s *fileStore) GetCompose(ctx context.Context, release string, request models.UpdateRequest) (*models.Compose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().GetCompose(ctx, release, request)
}

func (s *fileStore) ListComposes(ctx context.Context) ([]*models.Compose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ListComposes(ctx)
}

func (s *fileStore) CreateCompose(ctx context.Context, compose *models.Compose) error {
	return s.InTx(ctx, func(tx Store) error { return tx.CreateCompose(ctx, compose) })
}

func (s *fileStore) SaveCompose(ctx context.Context, compose *models.Compose) error {
	return s.InTx(ctx, func(tx Store) error { return tx.SaveCompose(ctx, compose) })
}

func (s *fileStore) DeleteCompose(ctx context.Context, release string, request models.UpdateRequest) error {
	return s.InTx(ctx, func(tx Store) error { return tx.DeleteCompose(ctx, release, request) })
}

func (s *fileStore) ComposeUpdates(ctx context.Context, compose *models.Compose) ([]*models.Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view().ComposeUpdates(ctx, compose)
}

// fileTx operates on a snapshot without locking. Every value crossing its
// boundary is copied so callers never alias stored records.
type fileTx struct {
	data *snapshot
}

func (t *fileTx) InTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *fileTx) GetRelease(_ context.Context, name string) (*models.Release, error) {
	r, ok := t.data.Releases[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, name)
	}
	rc := *r
	return &rc, nil
}

func (t *fileTx) ListReleases(_ context.Context) ([]*models.Release, error) {
	out := make([]*models.Release, 0, len(t.data.Releases))
	for _, r := range t.data.Releases {
		rc := *r
		out = append(out, &rc)
	}
	slices.SortFunc(out, func(a, b *models.Release) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (t *fileTx) UpsertRelease(_ context.Context, release *models.Release) error {
	rc := *release
	t.data.Releases[release.Name] = &rc
	return nil
}

func (t *fileTx) GetUpdate(_ context.Context, alias string) (*models.Update, error) {
	u, ok := t.data.Updates[alias]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUpdateNotFound, alias)
	}
	return u.Clone(), nil
}

func (t *fileTx) FindUpdates(_ context.Context, filter UpdateFilter) ([]*models.Update, error) {
	var out []*models.Update
	for _, u := range t.data.Updates {
		if filter.Matches(u) {
			out = append(out, u.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Update) int {
		if c := a.DateSubmitted.Compare(b.DateSubmitted); c != 0 {
			return c
		}
		return cmp.Compare(a.Alias, b.Alias)
	})
	return out, nil
}

func (t *fileTx) SaveUpdate(_ context.Context, update *models.Update) error {
	if update.Alias == "" {
		return fmt.Errorf("update alias is required")
	}
	t.data.Updates[update.Alias] = update.Clone()
	return nil
}

func (t *fileTx) AddComment(_ context.Context, comment *models.Comment) error {
	if _, ok := t.data.Updates[comment.UpdateAlias]; !ok {
		return fmt.Errorf("%w: %s", ErrUpdateNotFound, comment.UpdateAlias)
	}
	cc := *comment
	t.data.Comments = append(t.data.Comments, &cc)
	return nil
}

func (t *fileTx) ListComments(_ context.Context, alias string) ([]*models.Comment, error) {
	var out []*models.Comment
	for _, c := range t.data.Comments {
		if c.UpdateAlias == alias {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (t *fileTx) GetCompose(_ context.Context, release string, request models.UpdateRequest) (*models.Compose, error) {
	c, ok := t.data.Composes[models.ComposeKey(release, request)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComposeNotFound, models.ComposeKey(release, request))
	}
	return c.Clone(), nil
}

func (t *fileTx) ListComposes(_ context.Context) ([]*models.Compose, error) {
	out := make([]*models.Compose, 0, len(t.data.Composes))
	for _, c := range t.data.Composes {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b *models.Compose) int {
		if c := a.DateCreated.Compare(b.DateCreated); c != 0 {
			return c
		}
		return cmp.Compare(a.Key(), b.Key())
	})
	return out, nil
}

func (t *fileTx) CreateCompose(_ context.Context, compose *models.Compose) error {
	key := compose.Key()
	if _, ok := t.data.Composes[key]; ok {
		return fmt.Errorf("%w: %s", ErrComposeExists, key)
	}
	t.data.Composes[key] = compose.Clone()
	return nil
}

func (t *fileTx) SaveCompose(_ context.Context, compose *models.Compose) error {
	t.data.Composes[compose.Key()] = compose.Clone()
	return nil
}

func (t *fileTx) DeleteCompose(_ context.Context, release string, request models.UpdateRequest) error {
	delete(t.data.Composes, models.ComposeKey(release, request))
	return nil
}

func (t *fileTx) ComposeUpdates(ctx context.Context, compose *models.Compose) ([]*models.Update, error) {
	return t.FindUpdates(ctx, composeUpdatesFilter(compose))
}
