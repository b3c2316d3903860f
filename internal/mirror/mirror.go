// Package mirror waits for a generated repository to reach the master mirror.
package mirror

import (
	"context"
	"crypto/sha1" // #nosec G505 -- repomd checksums are compared, not trusted
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/httpclient"
	"github.com/relengtools/composer/internal/models"
)

// ErrNoMirrorURL is returned when no repomd URL is configured for a release.
var ErrNoMirrorURL = errors.New("no mirror url configured")

var errNotSynced = errors.New("mirror not synced")

// Waiter polls the master mirror until it serves the local repomd.xml.
type Waiter struct {
	client   httpclient.Client
	interval time.Duration
	logger   *slog.Logger
}

// NewWaiter creates a waiter polling every interval.
func NewWaiter(client httpclient.Client, interval time.Duration, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{client: client, interval: interval, logger: logger}
}

// WaitUntilSynced blocks until the document at url has the same checksum as
// localPath. Fetch failures and mismatches are retried forever; only ctx
// cancellation or an unreadable local file end the wait early.
func (w *Waiter) WaitUntilSynced(ctx context.Context, localPath, url string) error {
	want, err := fileChecksum(localPath)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Waiting for mirror sync", "url", url, "checksum", want)
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		body, err := w.client.Get(ctx, url)
		if err != nil {
			w.logger.WarnContext(ctx, "Error fetching repomd.xml", "url", url, "error", err)
			return struct{}{}, err
		}
		if got := checksum(body); got != want {
			w.logger.InfoContext(ctx, "Mirror repomd.xml does not match yet", "url", url, "checksum", got)
			return struct{}{}, errNotSynced
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(w.interval)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", url, err)
	}

	w.logger.InfoContext(ctx, "Mirror synced", "url", url)
	return nil
}

func fileChecksum(path string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("reading local repomd: %w", err)
	}
	return checksum(data), nil
}

func checksum(data []byte) string {
	sum := sha1.Sum(data) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// CheckArch returns the architecture whose repomd.xml is compared: the first
// non-source architecture.
func CheckArch(arches []string) (string, bool) {
	for _, arch := range arches {
		if arch != "source" {
			return arch, true
		}
	}
	return "", false
}

// ResolveURL returns the master mirror repomd.xml URL for a release, request
// and architecture. A version specific key is preferred over the release
// wide key. Non-primary architectures use the alternative URL map.
func ResolveURL(cfg *config.MirrorConfig, release *models.Release, request models.UpdateRequest, arch string) (string, error) {
	if cfg == nil {
		return "", ErrNoMirrorURL
	}

	prefix := release.PrefixKey()
	urls := cfg.Repomd
	if primary, ok := cfg.PrimaryArches[prefix+"_"+release.Version]; ok && !slices.Contains(primary, arch) {
		urls = cfg.AltRepomd
	}

	keys := []string{
		fmt.Sprintf("%s_%s_%s", prefix, release.Version, request),
		fmt.Sprintf("%s_%s", prefix, request),
	}
	for _, key := range keys {
		if tmpl, ok := urls[key]; ok && tmpl != "" {
			return strings.NewReplacer("{version}", release.Version, "{arch}", arch).Replace(tmpl), nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNoMirrorURL, strings.Join(keys, ", "))
}
