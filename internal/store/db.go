package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relengtools/composer/internal/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type dbStore struct {
	// pool is nil inside a transaction
	pool *pgxpool.Pool
	q    querier
}

var _ Store = (*dbStore)(nil)

// NewDBStore creates a PostgreSQL-backed store.
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{pool: pool, q: pool}
}

func (d *dbStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if d.pool == nil {
		return fn(d)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&dbStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const releaseColumns = `name, long_name, version, id_prefix, state, dist_tag, stable_tag, testing_tag,
	candidate_tag, pending_signing_tag, pending_testing_tag, pending_stable_tag, override_tag`

func scanRelease(row pgx.Row) (*models.Release, error) {
	var r models.Release
	err := row.Scan(&r.Name, &r.LongName, &r.Version, &r.IDPrefix, &r.State, &r.DistTag, &r.StableTag,
		&r.TestingTag, &r.CandidateTag, &r.PendingSigningTag, &r.PendingTestingTag, &r.PendingStableTag,
		&r.OverrideTag)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *dbStore) GetRelease(ctx context.Context, name string) (*models.Release, error) {
	r, err := scanRelease(d.q.QueryRow(ctx, `SELECT `+releaseColumns+` FROM releases WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get release %s: %w", name, err)
	}
	return r, nil
}

func (d *dbStore) ListReleases(ctx context.Context) ([]*models.Release, error) {
	rows, err := d.q.Query(ctx, `SELECT `+releaseColumns+` FROM releases ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	defer rows.Close()

	var out []*models.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan release: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *dbStore) UpsertRelease(ctx context.Context, r *models.Release) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO releases (`+releaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (name) DO UPDATE SET
			long_name = EXCLUDED.long_name,
			version = EXCLUDED.version,
			id_prefix = EXCLUDED.id_prefix,
			state = EXCLUDED.state,
			dist_tag = EXCLUDED.dist_tag,
			stable_tag = EXCLUDED.stable_tag,
			testing_tag = EXCLUDED.testing_tag,
			candidate_tag = EXCLUDED.candidate_tag,
			pending_signing_tag = EXCLUDED.pending_signing_tag,
			pending_testing_tag = EXCLUDED.pending_testing_tag,
			pending_stable_tag = EXCLUDED.pending_stable_tag,
			override_tag = EXCLUDED.override_tag`,
		r.Name, r.LongName, r.Version, r.IDPrefix, string(r.State), r.DistTag, r.StableTag, r.TestingTag,
		r.CandidateTag, r.PendingSigningTag, r.PendingTestingTag, r.PendingStableTag, r.OverrideTag)
	if err != nil {
		return fmt.Errorf("failed to upsert release %s: %w", r.Name, err)
	}
	return nil
}

const updateColumns = `alias, title, release_name, status, request, update_type, locked, critpath,
	critpath_approved, test_gating_status, bugs, from_tag, pushed, submitter,
	date_submitted, date_locked, date_testing, date_stable, date_pushed`

func scanUpdate(row pgx.Row) (*models.Update, error) {
	var (
		u    models.Update
		bugs []int64
	)
	err := row.Scan(&u.Alias, &u.Title, &u.ReleaseName, &u.Status, &u.Request, &u.Type, &u.Locked,
		&u.Critpath, &u.CritpathApproved, &u.TestGatingStatus, &bugs, &u.FromTag, &u.Pushed, &u.User,
		&u.DateSubmitted, &u.DateLocked, &u.DateTesting, &u.DateStable, &u.DatePushed)
	if err != nil {
		return nil, err
	}
	for _, b := range bugs {
		u.Bugs = append(u.Bugs, int(b))
	}
	return &u, nil
}

// loadBuilds fills in the builds of updates with one query.
func (d *dbStore) loadBuilds(ctx context.Context, updates []*models.Update) error {
	if len(updates) == 0 {
		return nil
	}
	byAlias := make(map[string]*models.Update, len(updates))
	aliases := make([]string, 0, len(updates))
	for _, u := range updates {
		byAlias[u.Alias] = u
		aliases = append(aliases, u.Alias)
	}

	rows, err := d.q.Query(ctx, `
		SELECT update_alias, nvr, content_type, signed, has_override
		FROM builds WHERE update_alias = ANY($1)
		ORDER BY update_alias, position`, aliases)
	if err != nil {
		return fmt.Errorf("failed to load builds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			alias string
			b     models.Build
		)
		if err := rows.Scan(&alias, &b.NVR, &b.Type, &b.Signed, &b.HasOverride); err != nil {
			return fmt.Errorf("failed to scan build: %w", err)
		}
		u := byAlias[alias]
		u.Builds = append(u.Builds, &b)
	}
	return rows.Err()
}

func (d *dbStore) GetUpdate(ctx context.Context, alias string) (*models.Update, error) {
	u, err := scanUpdate(d.q.QueryRow(ctx, `SELECT `+updateColumns+` FROM updates WHERE alias = $1`, alias))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUpdateNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get update %s: %w", alias, err)
	}
	if err := d.loadBuilds(ctx, []*models.Update{u}); err != nil {
		return nil, err
	}
	return u, nil
}

func (d *dbStore) FindUpdates(ctx context.Context, filter UpdateFilter) ([]*models.Update, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(filter.Releases) > 0 {
		add("release_name = ANY($%d)", filter.Releases)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Request != models.RequestNone {
		add("request = $%d", string(filter.Request))
	}
	if filter.HasRequest {
		where = append(where, "request <> ''")
	}
	if filter.Locked != nil {
		add("locked = $%d", *filter.Locked)
	}

	query := `SELECT ` + updateColumns + ` FROM updates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date_submitted, alias"

	rows, err := d.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find updates: %w", err)
	}
	var out []*models.Update
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		out = append(out, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := d.loadBuilds(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *dbStore) SaveUpdate(ctx context.Context, u *models.Update) error {
	return d.InTx(ctx, func(tx Store) error {
		q := tx.(*dbStore).q

		bugs := make([]int64, 0, len(u.Bugs))
		for _, b := range u.Bugs {
			bugs = append(bugs, int64(b))
		}

		_, err := q.Exec(ctx, `
			INSERT INTO updates (`+updateColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			ON CONFLICT (alias) DO UPDATE SET
				title = EXCLUDED.title,
				release_name = EXCLUDED.release_name,
				status = EXCLUDED.status,
				request = EXCLUDED.request,
				update_type = EXCLUDED.update_type,
				locked = EXCLUDED.locked,
				critpath = EXCLUDED.critpath,
				critpath_approved = EXCLUDED.critpath_approved,
				test_gating_status = EXCLUDED.test_gating_status,
				bugs = EXCLUDED.bugs,
				from_tag = EXCLUDED.from_tag,
				pushed = EXCLUDED.pushed,
				submitter = EXCLUDED.submitter,
				date_submitted = EXCLUDED.date_submitted,
				date_locked = EXCLUDED.date_locked,
				date_testing = EXCLUDED.date_testing,
				date_stable = EXCLUDED.date_stable,
				date_pushed = EXCLUDED.date_pushed`,
			u.Alias, u.Title, u.ReleaseName, string(u.Status), string(u.Request), string(u.Type), u.Locked,
			u.Critpath, u.CritpathApproved, u.TestGatingStatus, bugs, u.FromTag, u.Pushed, u.User,
			u.DateSubmitted, u.DateLocked, u.DateTesting, u.DateStable, u.DatePushed)
		if err != nil {
			return fmt.Errorf("failed to save update %s: %w", u.Alias, err)
		}

		if _, err := q.Exec(ctx, `DELETE FROM builds WHERE update_alias = $1`, u.Alias); err != nil {
			return fmt.Errorf("failed to clear builds of %s: %w", u.Alias, err)
		}
		for i, b := range u.Builds {
			_, err := q.Exec(ctx, `
				INSERT INTO builds (nvr, update_alias, position, content_type, signed, has_override)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				b.NVR, u.Alias, i, string(b.Type), b.Signed, b.HasOverride)
			if err != nil {
				return fmt.Errorf("failed to save build %s: %w", b.NVR, err)
			}
		}
		return nil
	})
}

func (d *dbStore) AddComment(ctx context.Context, c *models.Comment) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO comments (id, update_alias, author, text, created_at)
		VALUES ($1::text::uuid, $2, $3, $4, $5)`,
		c.ID, c.UpdateAlias, c.Author, c.Text, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add comment to %s: %w", c.UpdateAlias, err)
	}
	return nil
}

func (d *dbStore) ListComments(ctx context.Context, alias string) ([]*models.Comment, error) {
	rows, err := d.q.Query(ctx, `
		SELECT id::text, update_alias, author, text, created_at
		FROM comments WHERE update_alias = $1 ORDER BY created_at`, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var out []*models.Comment
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.UpdateAlias, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

const composeColumns = `release_name, request, content_type, state, checkpoints, error_message,
	date_created, state_date`

func scanCompose(row pgx.Row) (*models.Compose, error) {
	var (
		c           models.Compose
		checkpoints []byte
	)
	err := row.Scan(&c.ReleaseName, &c.Request, &c.ContentType, &c.State, &checkpoints, &c.ErrorMessage,
		&c.DateCreated, &c.StateDate)
	if err != nil {
		return nil, err
	}
	c.Checkpoints = models.Checkpoints{}
	if len(checkpoints) > 0 {
		if err := json.Unmarshal(checkpoints, &c.Checkpoints); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoints: %w", err)
		}
	}
	return &c, nil
}

func (d *dbStore) GetCompose(ctx context.Context, release string, request models.UpdateRequest) (*models.Compose, error) {
	c, err := scanCompose(d.q.QueryRow(ctx,
		`SELECT `+composeColumns+` FROM composes WHERE release_name = $1 AND request = $2`,
		release, string(request)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrComposeNotFound, models.ComposeKey(release, request))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compose: %w", err)
	}
	return c, nil
}

func (d *dbStore) ListComposes(ctx context.Context) ([]*models.Compose, error) {
	rows, err := d.q.Query(ctx, `SELECT `+composeColumns+` FROM composes ORDER BY date_created, release_name, request`)
	if err != nil {
		return nil, fmt.Errorf("failed to list composes: %w", err)
	}
	defer rows.Close()

	var out []*models.Compose
	for rows.Next() {
		c, err := scanCompose(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compose: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func composeArgs(c *models.Compose) ([]any, error) {
	checkpoints, err := json.Marshal(c.Checkpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoints: %w", err)
	}
	stateDate := c.StateDate
	if stateDate.IsZero() {
		stateDate = time.Now().UTC()
	}
	return []any{c.ReleaseName, string(c.Request), string(c.ContentType), string(c.State), checkpoints,
		c.ErrorMessage, c.DateCreated, stateDate}, nil
}

func (d *dbStore) CreateCompose(ctx context.Context, c *models.Compose) error {
	args, err := composeArgs(c)
	if err != nil {
		return err
	}
	tag, err := d.q.Exec(ctx, `
		INSERT INTO composes (`+composeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (release_name, request) DO NOTHING`, args...)
	if err != nil {
		return fmt.Errorf("failed to create compose %s: %w", c.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrComposeExists, c.Key())
	}
	return nil
}

func (d *dbStore) SaveCompose(ctx context.Context, c *models.Compose) error {
	args, err := composeArgs(c)
	if err != nil {
		return err
	}
	_, err = d.q.Exec(ctx, `
		INSERT INTO composes (`+composeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (release_name, request) DO UPDATE SET
			content_type = EXCLUDED.content_type,
			state = EXCLUDED.state,
			checkpoints = EXCLUDED.checkpoints,
			error_message = EXCLUDED.error_message,
			state_date = EXCLUDED.state_date`, args...)
	if err != nil {
		return fmt.Errorf("failed to save compose %s: %w", c.Key(), err)
	}
	return nil
}

func (d *dbStore) DeleteCompose(ctx context.Context, release string, request models.UpdateRequest) error {
	_, err := d.q.Exec(ctx, `DELETE FROM composes WHERE release_name = $1 AND request = $2`,
		release, string(request))
	if err != nil {
		return fmt.Errorf("failed to delete compose: %w", err)
	}
	return nil
}

func (d *dbStore) ComposeUpdates(ctx context.Context, c *models.Compose) ([]*models.Update, error) {
	return d.FindUpdates(ctx, composeUpdatesFilter(c))
}
