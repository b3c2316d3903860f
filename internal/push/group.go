package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
)

// ErrMixedContent is returned for updates whose builds differ in content type
var ErrMixedContent = errors.New("update mixes content types")

// GroupUpdates collates updates into one compose per release and request,
// locking every update it keeps. Updates without a pushable request, without
// builds, or already locked are skipped.
func GroupUpdates(updates []*models.Update, now time.Time, logger *slog.Logger) ([]*models.Compose, error) {
	var composes []*models.Compose
	byKey := make(map[string]*models.Compose)

	for _, u := range updates {
		if u.Request != models.RequestTesting && u.Request != models.RequestStable {
			logger.Info("Skipping update without a push request", "update", u.Alias, "request", u.Request)
			continue
		}
		if u.Locked {
			logger.Info("Skipping update locked by another compose", "update", u.Alias)
			continue
		}
		if len(u.Builds) == 0 {
			logger.Info("Skipping update without builds", "update", u.Alias)
			continue
		}
		ct := u.ContentType()
		for _, b := range u.Builds[1:] {
			if b.Type != ct {
				return nil, fmt.Errorf("%s: %w", u.Alias, ErrMixedContent)
			}
		}

		key := models.ComposeKey(u.ReleaseName, u.Request)
		c, ok := byKey[key]
		if !ok {
			c = models.NewCompose(u.ReleaseName, u.Request, ct, now)
			byKey[key] = c
			composes = append(composes, c)
		} else if c.ContentType != ct {
			return nil, fmt.Errorf("%s: %w: %s compose %s holds %s", u.Alias, ErrMixedContent, ct, key, c.ContentType)
		}
		u.Lock(now)
	}
	return composes, nil
}

// Submit groups updates and persists the locked updates together with their
// new composes in one transaction. An update whose release and request
// already have a compose is left alone so the other groups still go out;
// that compose has to be resumed or discarded first. A locked update with
// no compose is stranded and takes part again.
func Submit(ctx context.Context, s store.Store, updates []*models.Update, now time.Time, logger *slog.Logger) ([]*models.Compose, error) {
	var composes []*models.Compose
	err := s.InTx(ctx, func(tx store.Store) error {
		free, err := unclaimed(ctx, tx, updates, logger)
		if err != nil {
			return err
		}
		composes, err = GroupUpdates(free, now, logger)
		if err != nil {
			return err
		}
		for _, u := range free {
			if !u.Locked {
				continue
			}
			if err := tx.SaveUpdate(ctx, u); err != nil {
				return fmt.Errorf("locking %s: %w", u.Alias, err)
			}
		}
		for _, c := range composes {
			if err := tx.CreateCompose(ctx, c); err != nil {
				return fmt.Errorf("creating compose %s: %w", c.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return composes, nil
}

// unclaimed drops updates whose release and request already have a compose
// and clears stale locks on the rest.
func unclaimed(ctx context.Context, tx store.Store, updates []*models.Update, logger *slog.Logger) ([]*models.Update, error) {
	exists := make(map[string]bool)
	free := make([]*models.Update, 0, len(updates))
	for _, u := range updates {
		if u.Request != models.RequestTesting && u.Request != models.RequestStable {
			free = append(free, u)
			continue
		}
		key := models.ComposeKey(u.ReleaseName, u.Request)
		taken, checked := exists[key]
		if !checked {
			_, err := tx.GetCompose(ctx, u.ReleaseName, u.Request)
			switch {
			case errors.Is(err, store.ErrComposeNotFound):
			case err != nil:
				return nil, fmt.Errorf("checking compose %s: %w", key, err)
			default:
				taken = true
			}
			exists[key] = taken
		}
		if taken {
			if !u.Locked {
				logger.WarnContext(ctx, "Compose already exists, resume or discard it to push this update",
					"update", u.Alias, "compose", key)
			}
			continue
		}
		if u.Locked {
			logger.WarnContext(ctx, "Pushing stranded update again", "update", u.Alias)
			u.Locked = false
			u.DateLocked = nil
		}
		free = append(free, u)
	}
	return free, nil
}
