package buildsys

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/relengtools/composer/internal/versions"
)

// Call is one request recorded by DevBuildsystem.
type Call struct {
	Method string
	Args   []string
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s)", c.Method, strings.Join(c.Args, ", "))
}

// DevBuildsystem is an in-memory build system used in development and tests.
// Every call is recorded in order.
type DevBuildsystem struct {
	mu          sync.Mutex
	tags        map[string][]string
	builds      map[string]*BuildInfo
	calls       []Call
	failures    map[string]error
	failedTasks map[string]bool
	taskNVR     map[int]string
	nextTask    int
}

// NewDevBuildsystem returns an empty in-memory build system.
func NewDevBuildsystem() *DevBuildsystem {
	return &DevBuildsystem{
		tags:        map[string][]string{},
		builds:      map[string]*BuildInfo{},
		failures:    map[string]error{},
		failedTasks: map[string]bool{},
		taskNVR:     map[int]string{},
		nextTask:    1000,
	}
}

// SetTags replaces the tags of a build.
func (d *DevBuildsystem) SetTags(nvr string, tags ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tags[nvr] = append([]string(nil), tags...)
}

// Tags returns the current tags of a build.
func (d *DevBuildsystem) Tags(nvr string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tags[nvr]...)
}

// AddBuild registers build metadata returned by GetBuild.
func (d *DevBuildsystem) AddBuild(info BuildInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.builds[info.NVR] = &info
}

// FailOn makes the named method fail for the given build or tag.
func (d *DevBuildsystem) FailOn(kind OpKind, target string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[string(kind)+":"+target] = err
}

// FailTask makes the tagging task for nvr end in the failed state.
func (d *DevBuildsystem) FailTask(nvr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failedTasks[nvr] = true
}

// Calls returns every recorded call in order.
func (d *DevBuildsystem) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsTo returns the recorded calls of one method.
func (d *DevBuildsystem) CallsTo(kind OpKind) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.calls {
		if c.Method == string(kind) {
			out = append(out, c)
		}
	}
	return out
}

// ListTags implements TagClient.
func (d *DevBuildsystem) ListTags(_ context.Context, nvr string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.apply(Op{Kind: OpListTags, NVR: nvr})
	return r.Tags, r.Err
}

// AddTag implements TagClient.
func (d *DevBuildsystem) AddTag(_ context.Context, tag, nvr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncResult(d.apply(Op{Kind: OpAddTag, Tag: tag, NVR: nvr}))
}

// MoveTag implements TagClient.
func (d *DevBuildsystem) MoveTag(_ context.Context, from, to, nvr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncResult(d.apply(Op{Kind: OpMoveTag, FromTag: from, Tag: to, NVR: nvr}))
}

// RemoveTag implements TagClient.
func (d *DevBuildsystem) RemoveTag(_ context.Context, tag, nvr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apply(Op{Kind: OpRemove, Tag: tag, NVR: nvr}).Err
}

// DeleteTag implements TagClient.
func (d *DevBuildsystem) DeleteTag(_ context.Context, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apply(Op{Kind: OpDelete, Tag: tag}).Err
}

// GetBuild implements TagClient. Unregistered builds are derived from the nvr.
func (d *DevBuildsystem) GetBuild(_ context.Context, nvr string) (*BuildInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.apply(Op{Kind: OpGetBuild, NVR: nvr})
	return r.Build, r.Err
}

// Batch implements TagClient.
func (d *DevBuildsystem) Batch(_ context.Context, ops []Op) ([]Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	results := make([]Result, len(ops))
	for i, op := range ops {
		results[i] = d.apply(op)
	}
	return results, nil
}

// WaitForTasks implements TagClient. Tasks complete immediately.
func (d *DevBuildsystem) WaitForTasks(_ context.Context, taskIDs []int) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var failed []int
	for _, id := range taskIDs {
		if d.failedTasks[d.taskNVR[id]] {
			failed = append(failed, id)
		}
	}
	return failed, nil
}

func (d *DevBuildsystem) syncResult(r Result) error {
	if r.Err != nil {
		return r.Err
	}
	if d.failedTasks[r.Op.NVR] {
		return &TaskFailedError{TaskIDs: []int{r.TaskID}}
	}
	return nil
}

func (d *DevBuildsystem) apply(op Op) Result {
	call := Call{Method: string(op.Kind)}
	switch op.Kind {
	case OpMoveTag:
		call.Args = []string{op.FromTag, op.Tag, op.NVR}
	case OpAddTag, OpRemove:
		call.Args = []string{op.Tag, op.NVR}
	case OpDelete:
		call.Args = []string{op.Tag}
	default:
		call.Args = []string{op.NVR}
	}
	d.calls = append(d.calls, call)

	r := Result{Op: op}
	target := op.NVR
	if op.Kind == OpDelete {
		target = op.Tag
	}
	if err, ok := d.failures[string(op.Kind)+":"+target]; ok {
		r.Err = err
		return r
	}

	switch op.Kind {
	case OpListTags:
		r.Tags = append([]string(nil), d.tags[op.NVR]...)
	case OpAddTag:
		if !slices.Contains(d.tags[op.NVR], op.Tag) {
			d.tags[op.NVR] = append(d.tags[op.NVR], op.Tag)
		}
		r.TaskID = d.newTask(op.NVR)
	case OpMoveTag:
		tags := slices.DeleteFunc(d.tags[op.NVR], func(t string) bool { return t == op.FromTag })
		if !slices.Contains(tags, op.Tag) {
			tags = append(tags, op.Tag)
		}
		d.tags[op.NVR] = tags
		r.TaskID = d.newTask(op.NVR)
	case OpRemove:
		d.tags[op.NVR] = slices.DeleteFunc(d.tags[op.NVR], func(t string) bool { return t == op.Tag })
	case OpDelete:
		for nvr, tags := range d.tags {
			d.tags[nvr] = slices.DeleteFunc(tags, func(t string) bool { return t == op.Tag })
		}
	case OpGetBuild:
		if info, ok := d.builds[op.NVR]; ok {
			c := *info
			r.Build = &c
			break
		}
		parsed, err := versions.ParseNVR(op.NVR)
		if err != nil {
			r.Err = fmt.Errorf("build %s: %w", op.NVR, ErrNotFound)
			break
		}
		r.Build = &BuildInfo{NVR: op.NVR, Name: parsed.Name, Version: parsed.Version, Release: parsed.Release, Epoch: parsed.Epoch}
	}
	return r
}

func (d *DevBuildsystem) newTask(nvr string) int {
	d.nextTask++
	d.taskNVR[d.nextTask] = nvr
	return d.nextTask
}

var _ TagClient = (*DevBuildsystem)(nil)
