package composetool

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/versions"
)

// ImageCopier copies a built image between registries under a tag and
// reports the manifest digest that was published.
//
//go:generate mockgen -destination=mocks/mock_copier.go -package=mocks -source=container.go ImageCopier
type ImageCopier interface {
	Copy(ctx context.Context, nvr, destinationTag string) (digest.Digest, error)
}

// SkopeoCopier copies images with an external copy tool such as skopeo.
type SkopeoCopier struct {
	cfg    config.ContainerToolConfig
	logger *slog.Logger
}

// NewSkopeoCopier creates an image copier.
func NewSkopeoCopier(cfg config.ContainerToolConfig, logger *slog.Logger) *SkopeoCopier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SkopeoCopier{cfg: cfg, logger: logger}
}

// Copy copies the image built as nvr to destinationTag. An empty tag uses
// the build's version-release.
func (s *SkopeoCopier) Copy(ctx context.Context, nvr, destinationTag string) (digest.Digest, error) {
	parsed, err := versions.ParseNVR(nvr)
	if err != nil {
		return "", err
	}
	sourceTag := parsed.Version + "-" + parsed.Release
	if destinationTag == "" {
		destinationTag = sourceTag
	}

	digestFile, err := os.CreateTemp("", "composer-digest-")
	if err != nil {
		return "", fmt.Errorf("failed to create digest file: %w", err)
	}
	_ = digestFile.Close()
	defer func() { _ = os.Remove(digestFile.Name()) }()

	args := []string{"copy"}
	args = append(args, s.cfg.ExtraArgs...)
	args = append(args,
		"--digestfile", digestFile.Name(),
		imageURL(s.cfg.SourceRegistry, parsed.Name, sourceTag),
		imageURL(s.cfg.DestinationRegistry, parsed.Name, destinationTag))

	// #nosec G204 -- command and registries come from operator configuration
	cmd := exec.CommandContext(ctx, s.cfg.GetCommand(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.logger.InfoContext(ctx, "Copying image", "command", cmd.Args)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s copy of %s to %s failed: %w: %s",
			s.cfg.GetCommand(), nvr, destinationTag, err, strings.TrimSpace(stderr.String()))
	}

	raw, err := os.ReadFile(digestFile.Name())
	if err != nil {
		return "", fmt.Errorf("failed to read digest of %s: %w", nvr, err)
	}
	dgst, err := digest.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		return "", fmt.Errorf("%s copy of %s reported an invalid digest: %w", s.cfg.GetCommand(), nvr, err)
	}
	return dgst, nil
}

// imageURL formats a transport URL such as docker://registry/f40/httpd:tag.
func imageURL(registry, repository, tag string) string {
	return fmt.Sprintf("docker://%s/%s:%s", strings.TrimSuffix(registry, "/"), repository, tag)
}

// ContainerDestinationTags returns the tags an image is published under: its
// version-release (empty), its version, then latest or testing.
func ContainerDestinationTags(nvr string, request models.UpdateRequest) ([]string, error) {
	parsed, err := versions.ParseNVR(nvr)
	if err != nil {
		return nil, err
	}
	final := "testing"
	if request == models.RequestStable {
		final = "latest"
	}
	return []string{"", parsed.Version, final}, nil
}
