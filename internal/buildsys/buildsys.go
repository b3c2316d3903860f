// Package buildsys talks to the tag-based build system that stores builds.
// Tag mutations are the only way builds move between repositories.
package buildsys

//go:generate mockgen -destination=mocks/mock_buildsys.go -package=mocks -source=buildsys.go TagClient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a build or tag does not exist or is private.
var ErrNotFound = errors.New("not found in build system")

// OpKind names a build-system call that can be batched.
type OpKind string

const (
	OpListTags OpKind = "listTags"
	OpAddTag   OpKind = "tagBuild"
	OpMoveTag  OpKind = "moveBuild"
	OpRemove   OpKind = "untagBuild"
	OpDelete   OpKind = "deleteTag"
	OpGetBuild OpKind = "getBuild"
)

// Op is one call inside a batch.
type Op struct {
	Kind    OpKind
	NVR     string
	Tag     string
	FromTag string
}

func (o Op) String() string {
	switch o.Kind {
	case OpMoveTag:
		return fmt.Sprintf("%s(%s, %s, %s)", o.Kind, o.FromTag, o.Tag, o.NVR)
	case OpDelete:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Tag)
	case OpListTags, OpGetBuild:
		return fmt.Sprintf("%s(%s)", o.Kind, o.NVR)
	default:
		return fmt.Sprintf("%s(%s, %s)", o.Kind, o.Tag, o.NVR)
	}
}

// Result is the outcome of one batched call. Err carries the per-call fault.
type Result struct {
	Op     Op
	TaskID int
	Tags   []string
	Build  *BuildInfo
	Err    error
}

// BuildInfo is what the build system knows about a build. For module builds
// Name is the module name, Version the stream and Release "version.context".
type BuildInfo struct {
	ID      int
	NVR     string
	Name    string
	Version string
	Release string
	Epoch   string
}

// Fault is an error raised by the build system for one call.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("build system fault %d: %s", f.Code, f.Message)
}

// Is reports not-found faults as ErrNotFound.
func (f *Fault) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	return strings.Contains(f.Message, "No such") || strings.Contains(f.Message, "not found") ||
		strings.Contains(f.Message, "private")
}

// TaskFailedError reports tasks that ended canceled or failed.
type TaskFailedError struct {
	TaskIDs []int
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("build system tasks failed: %v", e.TaskIDs)
}

// TagClient is the subset of the build system the compose pipeline uses.
// AddTag and MoveTag return once the build system has applied the change.
type TagClient interface {
	ListTags(ctx context.Context, nvr string) ([]string, error)
	AddTag(ctx context.Context, tag, nvr string) error
	MoveTag(ctx context.Context, from, to, nvr string) error
	RemoveTag(ctx context.Context, tag, nvr string) error
	DeleteTag(ctx context.Context, tag string) error
	GetBuild(ctx context.Context, nvr string) (*BuildInfo, error)
	// Batch submits ops in a single round trip. The returned slice has one
	// entry per op; tag additions and moves report the task to wait for.
	Batch(ctx context.Context, ops []Op) ([]Result, error)
	// WaitForTasks blocks until every task finished and returns the ids of
	// those that did not succeed.
	WaitForTasks(ctx context.Context, taskIDs []int) ([]int, error)
}
