package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
)

// Discard deletes a compose and releases its updates. The updates keep
// their requests so the next push picks them up again.
func Discard(ctx context.Context, s store.Store, ref ComposeRef, logger *slog.Logger) ([]string, error) {
	var released []string
	err := s.InTx(ctx, func(tx store.Store) error {
		c, err := tx.GetCompose(ctx, ref.Release, ref.Request)
		if err != nil {
			return err
		}
		updates, err := tx.ComposeUpdates(ctx, c)
		if err != nil {
			return fmt.Errorf("loading updates of %s: %w", ref, err)
		}
		for _, u := range updates {
			u.Locked = false
			u.DateLocked = nil
			if err := tx.SaveUpdate(ctx, u); err != nil {
				return fmt.Errorf("releasing %s: %w", u.Alias, err)
			}
			released = append(released, u.Alias)
		}
		return tx.DeleteCompose(ctx, ref.Release, ref.Request)
	})
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Discarded compose", "compose", ref.String(), "updates", released)
	return released, nil
}

// ParseComposeRef parses a compose key such as "F40-testing".
func ParseComposeRef(key string) (ComposeRef, error) {
	release, request, err := models.ParseComposeKey(key)
	if err != nil {
		return ComposeRef{}, err
	}
	return ComposeRef{Release: release, Request: request}, nil
}
