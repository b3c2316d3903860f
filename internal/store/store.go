// Package store persists releases, updates, composes and comments.
//
// Two backends exist: a JSON file store for single-host deployments and
// tests, and a PostgreSQL store. Both give InTx callers all-or-nothing
// commits, which the compose worker relies on at every checkpoint.
package store

import (
	"context"
	"errors"
	"slices"

	"github.com/relengtools/composer/internal/models"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

var (
	// ErrComposeNotFound is returned when no compose exists for a release and request
	ErrComposeNotFound = errors.New("compose not found")

	// ErrComposeExists is returned when creating a compose that already exists
	ErrComposeExists = errors.New("compose already exists")

	// ErrUpdateNotFound is returned when an update alias is unknown
	ErrUpdateNotFound = errors.New("update not found")

	// ErrReleaseNotFound is returned when a release name is unknown
	ErrReleaseNotFound = errors.New("release not found")
)

// UpdateFilter selects updates. Zero fields match everything.
type UpdateFilter struct {
	Releases []string
	Status   models.UpdateStatus
	Request  models.UpdateRequest
	// HasRequest restricts the result to updates with any pending request
	HasRequest bool
	Locked     *bool
}

// Matches reports whether u is selected by the filter.
func (f UpdateFilter) Matches(u *models.Update) bool {
	if len(f.Releases) > 0 && !slices.Contains(f.Releases, u.ReleaseName) {
		return false
	}
	if f.Status != "" && u.Status != f.Status {
		return false
	}
	if f.Request != models.RequestNone && u.Request != f.Request {
		return false
	}
	if f.HasRequest && u.Request == models.RequestNone {
		return false
	}
	if f.Locked != nil && u.Locked != *f.Locked {
		return false
	}
	return true
}

// Store is the persistence boundary of the compose pipeline.
type Store interface {
	// GetRelease returns the named release or ErrReleaseNotFound.
	GetRelease(ctx context.Context, name string) (*models.Release, error)
	// ListReleases returns every release ordered by name.
	ListReleases(ctx context.Context) ([]*models.Release, error)
	// UpsertRelease inserts or replaces a release.
	UpsertRelease(ctx context.Context, release *models.Release) error

	// GetUpdate returns the update with the given alias or ErrUpdateNotFound.
	GetUpdate(ctx context.Context, alias string) (*models.Update, error)
	// FindUpdates returns updates matching filter ordered by submission date.
	FindUpdates(ctx context.Context, filter UpdateFilter) ([]*models.Update, error)
	// SaveUpdate inserts or replaces an update and its builds.
	SaveUpdate(ctx context.Context, update *models.Update) error
	// AddComment attaches a comment to an update.
	AddComment(ctx context.Context, comment *models.Comment) error
	// ListComments returns the comments of an update, oldest first.
	ListComments(ctx context.Context, alias string) ([]*models.Comment, error)

	// GetCompose returns the compose for release and request or ErrComposeNotFound.
	GetCompose(ctx context.Context, release string, request models.UpdateRequest) (*models.Compose, error)
	// ListComposes returns every compose ordered by creation date.
	ListComposes(ctx context.Context) ([]*models.Compose, error)
	// CreateCompose inserts a compose, failing with ErrComposeExists.
	CreateCompose(ctx context.Context, compose *models.Compose) error
	// SaveCompose replaces a compose.
	SaveCompose(ctx context.Context, compose *models.Compose) error
	// DeleteCompose removes a compose. Deleting a missing compose is not an error.
	DeleteCompose(ctx context.Context, release string, request models.UpdateRequest) error
	// ComposeUpdates returns the locked updates owned by compose.
	ComposeUpdates(ctx context.Context, compose *models.Compose) ([]*models.Update, error)

	// InTx runs fn against a transactional view of the store. Changes made
	// through the view are committed when fn returns nil and discarded otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

func composeUpdatesFilter(c *models.Compose) UpdateFilter {
	locked := true
	return UpdateFilter{Releases: []string{c.ReleaseName}, Request: c.Request, Locked: &locked}
}
