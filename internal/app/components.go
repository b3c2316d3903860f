package app

import (
	"errors"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/notify"
	"github.com/relengtools/composer/internal/push"
	"github.com/relengtools/composer/internal/store"
)

// Components groups the application components shared by the push CLI and
// the long running service
type Components struct {
	Config *config.Config

	// Store holds releases, updates and composes
	Store store.Store

	// Tags moves builds between build system tags
	Tags buildsys.TagClient

	// Publisher sends lifecycle events
	Publisher notify.Publisher

	// Coordinator runs push requests
	Coordinator *push.Coordinator

	// Watcher pushes requested composes (serve only)
	Watcher push.Watcher

	closers []func() error
}

// Close releases connections opened for the components, newest first
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
