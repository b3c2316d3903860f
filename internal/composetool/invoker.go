// Package composetool runs the external repository compose tool and the
// container image copy tool.
package composetool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/relengtools/composer/internal/config"
)

var (
	// ErrStartupFailed is returned when the tool exits with an error inside the grace window
	ErrStartupFailed = errors.New("compose tool failed on startup")

	// ErrProcessFailed is returned when the tool exits with a non-zero status
	ErrProcessFailed = errors.New("compose tool exited with an error")

	// ErrNoComposeDir is returned when the tool did not report its output directory
	ErrNoComposeDir = errors.New("unable to find the path to the compose")

	// ErrNotACompose is returned when the reported directory lacks compose metadata
	ErrNotACompose = errors.New("directory does not look like a compose")
)

// composeDirPrefix marks the stdout line carrying the output directory.
const composeDirPrefix = "Compose dir: "

// Invoker launches the compose tool.
type Invoker struct {
	cfg        config.ComposeToolConfig
	composeDir string
	now        func() time.Time
	logger     *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithClock overrides the clock used for compose labels.
func WithClock(now func() time.Time) InvokerOption {
	return func(i *Invoker) {
		i.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		i.logger = logger
	}
}

// NewInvoker creates an invoker writing composes into composeDir.
func NewInvoker(cfg config.ComposeToolConfig, composeDir string, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		cfg:        cfg,
		composeDir: composeDir,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Handle is a running compose tool process.
type Handle struct {
	cmd       *exec.Cmd
	confDir   string
	label     string
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	done      chan struct{}
	waitErr   error
	cleanOnce sync.Once
	logger    *slog.Logger
}

// Start renders the tool configuration and launches the process. The process
// is not bound to ctx: it keeps running if the caller gives up waiting.
func (i *Invoker) Start(ctx context.Context, p Params) (*Handle, error) {
	if err := os.MkdirAll(i.composeDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create compose directory %s: %w", i.composeDir, err)
	}

	confDir, err := i.renderConfig(p)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("%s-%s", i.cfg.GetLabelType(), i.now().UTC().Format("20060102.1504"))
	args := []string{
		"--config", filepath.Join(confDir, ConfigFileName),
		"--quiet",
		"--print-output-dir",
		"--target-dir", i.composeDir,
		"--old-composes", i.composeDir,
		"--no-latest-link",
		"--label", label,
	}
	args = append(args, i.cfg.ExtraArgs...)

	// #nosec G204 -- command and arguments come from operator configuration
	cmd := exec.Command(i.cfg.GetCommand(), args...)
	cmd.Dir = i.composeDir
	cmd.Stdin = nil
	startInGroup(cmd)

	h := &Handle{
		cmd:     cmd,
		confDir: confDir,
		label:   label,
		done:    make(chan struct{}),
		logger:  i.logger.With("compose", p.ID),
	}
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	h.logger.InfoContext(ctx, "Running the compose tool", "command", cmd.Args)
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(confDir)
		return nil, fmt.Errorf("failed to start %s: %w", i.cfg.GetCommand(), err)
	}
	h.logger.InfoContext(ctx, "Compose tool running", "pid", cmd.Process.Pid)

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// Label returns the compose label passed to the tool.
func (h *Handle) Label() string {
	return h.label
}

// AwaitStartupOrFail waits up to grace for an early exit. A process that is
// still running, or that already exited cleanly, passes.
func (h *Handle) AwaitStartupOrFail(grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
		if h.waitErr != nil {
			h.logger.Error("Compose tool terminated with error within the grace window",
				"grace", grace, "stderr", h.stderr.String())
			return fmt.Errorf("%w: %v: %s", ErrStartupFailed, h.waitErr, strings.TrimSpace(h.stderr.String()))
		}
		return nil
	case <-timer.C:
		return nil
	}
}

// AwaitCompletion blocks until the process exits and returns the compose
// directory it reported. Cancelling ctx stops the wait; Cleanup stops the
// process.
func (h *Handle) AwaitCompletion(ctx context.Context) (string, error) {
	h.logger.InfoContext(ctx, "Waiting for the compose tool to finish")
	select {
	case <-h.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if h.waitErr != nil {
		h.logger.ErrorContext(ctx, "Compose tool failed", "error", h.waitErr, "stderr", h.stderr.String())
		return "", fmt.Errorf("%w: %v", ErrProcessFailed, h.waitErr)
	}
	h.logger.InfoContext(ctx, "Compose tool finished")

	path := parseComposeDir(h.stdout.String())
	if path == "" {
		h.logger.ErrorContext(ctx, "No compose directory in output", "stdout", h.stdout.String())
		return "", ErrNoComposeDir
	}
	if _, err := os.Stat(filepath.Join(path, "compose", "metadata", "composeinfo.json")); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotACompose, path)
	}
	return path, nil
}

// Cleanup kills the tool and its children if it is still running and
// removes the rendered configuration.
func (h *Handle) Cleanup() {
	h.cleanOnce.Do(func() {
		select {
		case <-h.done:
		default:
			h.logger.Warn("Stopping the compose tool", "pid", h.cmd.Process.Pid)
			if err := killGroup(h.cmd); err != nil {
				h.logger.Warn("Failed to stop the compose tool", "pid", h.cmd.Process.Pid, "error", err)
			}
			<-h.done
		}
		if err := os.RemoveAll(h.confDir); err != nil {
			h.logger.Warn("Failed to remove compose tool configuration", "dir", h.confDir, "error", err)
		}
	})
}

// parseComposeDir returns the last reported compose directory.
func parseComposeDir(stdout string) string {
	var path string
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, composeDirPrefix) {
			path = strings.TrimSpace(strings.TrimPrefix(line, composeDirPrefix))
		}
	}
	return path
}
