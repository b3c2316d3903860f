package buildsys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/relengtools/composer/internal/httpclient"
)

// DefaultTaskPollInterval is how often task states are checked while waiting.
const DefaultTaskPollInterval = 5 * time.Second

// Task states reported by getTaskInfo.
const (
	taskFree     = 0
	taskOpen     = 1
	taskClosed   = 2
	taskCanceled = 3
	taskAssigned = 4
	taskFailed   = 5
)

var errTasksPending = errors.New("tasks still running")

// KojiClient is a TagClient speaking the Koji hub XML-RPC protocol.
type KojiClient struct {
	url          string
	http         httpclient.Client
	pollInterval time.Duration
}

// KojiOption configures a KojiClient.
type KojiOption func(*KojiClient)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c httpclient.Client) KojiOption {
	return func(k *KojiClient) {
		k.http = c
	}
}

// WithTaskPollInterval sets how often WaitForTasks polls.
func WithTaskPollInterval(d time.Duration) KojiOption {
	return func(k *KojiClient) {
		if d > 0 {
			k.pollInterval = d
		}
	}
}

// NewKojiClient creates a client for the hub at url.
func NewKojiClient(url string, opts ...KojiOption) *KojiClient {
	k := &KojiClient{
		url:          url,
		http:         httpclient.NewDefaultClient(0),
		pollInterval: DefaultTaskPollInterval,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *KojiClient) call(ctx context.Context, method string, params ...any) (any, error) {
	body, err := encodeCall(method, params...)
	if err != nil {
		return nil, err
	}
	resp, err := k.http.Post(ctx, k.url, "text/xml", body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	result, err := decodeResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}

// ListTags returns the names of the tags a build is in.
func (k *KojiClient) ListTags(ctx context.Context, nvr string) ([]string, error) {
	result, err := k.call(ctx, string(OpListTags), nvr)
	if err != nil {
		return nil, err
	}
	return tagNames(result), nil
}

// AddTag tags a build and waits for the tagging task.
func (k *KojiClient) AddTag(ctx context.Context, tag, nvr string) error {
	result, err := k.call(ctx, string(OpAddTag), tag, nvr, true)
	if err != nil {
		return err
	}
	return k.waitForTask(ctx, result)
}

// MoveTag moves a build between tags and waits for the move task.
func (k *KojiClient) MoveTag(ctx context.Context, from, to, nvr string) error {
	result, err := k.call(ctx, string(OpMoveTag), from, to, nvr, true)
	if err != nil {
		return err
	}
	return k.waitForTask(ctx, result)
}

// RemoveTag untags a build. Removing a tag the build is not in succeeds.
func (k *KojiClient) RemoveTag(ctx context.Context, tag, nvr string) error {
	_, err := k.call(ctx, string(OpRemove), tag, nvr, false, true)
	return err
}

// DeleteTag deletes a tag.
func (k *KojiClient) DeleteTag(ctx context.Context, tag string) error {
	_, err := k.call(ctx, string(OpDelete), tag)
	return err
}

// GetBuild looks up a build.
func (k *KojiClient) GetBuild(ctx context.Context, nvr string) (*BuildInfo, error) {
	result, err := k.call(ctx, string(OpGetBuild), nvr)
	if err != nil {
		return nil, err
	}
	info := buildInfo(result)
	if info == nil {
		return nil, fmt.Errorf("build %s: %w", nvr, ErrNotFound)
	}
	return info, nil
}

// Batch submits ops through the hub's multiCall method.
func (k *KojiClient) Batch(ctx context.Context, ops []Op) ([]Result, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	calls := make([]any, 0, len(ops))
	for _, op := range ops {
		calls = append(calls, map[string]any{
			"methodName": string(op.Kind),
			"params":     opParams(op),
		})
	}
	raw, err := k.call(ctx, "multiCall", calls)
	if err != nil {
		return nil, err
	}
	entries, ok := raw.([]any)
	if !ok || len(entries) != len(ops) {
		return nil, fmt.Errorf("multiCall: expected %d results, got %T", len(ops), raw)
	}

	results := make([]Result, len(ops))
	for i, entry := range entries {
		results[i] = Result{Op: ops[i]}
		switch e := entry.(type) {
		case map[string]any:
			results[i].Err = faultFrom(e)
		case []any:
			var value any
			if len(e) > 0 {
				value = e[0]
			}
			fillResult(&results[i], value)
		default:
			results[i].Err = fmt.Errorf("unexpected multiCall entry %T", entry)
		}
	}
	return results, nil
}

// WaitForTasks polls task states until every task is done.
func (k *KojiClient) WaitForTasks(ctx context.Context, taskIDs []int) ([]int, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	operation := func() ([]int, error) {
		calls := make([]any, 0, len(taskIDs))
		for _, id := range taskIDs {
			calls = append(calls, map[string]any{"methodName": "getTaskInfo", "params": []any{id}})
		}
		raw, err := k.call(ctx, "multiCall", calls)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		entries, _ := raw.([]any)
		if len(entries) != len(taskIDs) {
			return nil, backoff.Permanent(fmt.Errorf("getTaskInfo: expected %d results, got %d", len(taskIDs), len(entries)))
		}
		var failed []int
		for i, entry := range entries {
			state := taskState(entry)
			switch state {
			case taskClosed:
			case taskCanceled, taskFailed:
				failed = append(failed, taskIDs[i])
			default:
				return nil, errTasksPending
			}
		}
		return failed, nil
	}

	failed, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(k.pollInterval)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return nil, fmt.Errorf("waiting for tasks %v: %w", taskIDs, err)
	}
	if len(failed) > 0 {
		slog.Warn("Build system tasks failed", "tasks", failed)
	}
	return failed, nil
}

func (k *KojiClient) waitForTask(ctx context.Context, result any) error {
	id, ok := asInt(result)
	if !ok {
		return nil
	}
	failed, err := k.WaitForTasks(ctx, []int{id})
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return &TaskFailedError{TaskIDs: failed}
	}
	return nil
}

func opParams(op Op) []any {
	switch op.Kind {
	case OpAddTag:
		return []any{op.Tag, op.NVR, true}
	case OpMoveTag:
		return []any{op.FromTag, op.Tag, op.NVR, true}
	case OpRemove:
		return []any{op.Tag, op.NVR, false, true}
	case OpDelete:
		return []any{op.Tag}
	default:
		return []any{op.NVR}
	}
}

func fillResult(r *Result, value any) {
	switch r.Op.Kind {
	case OpAddTag, OpMoveTag:
		r.TaskID, _ = asInt(value)
	case OpListTags:
		r.Tags = tagNames(value)
	case OpGetBuild:
		r.Build = buildInfo(value)
		if r.Build == nil {
			r.Err = fmt.Errorf("build %s: %w", r.Op.NVR, ErrNotFound)
		}
	}
}

func tagNames(v any) []string {
	items, _ := v.([]any)
	names := make([]string, 0, len(items))
	for _, item := range items {
		m, _ := item.(map[string]any)
		if name, ok := m["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func buildInfo(v any) *BuildInfo {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	info := &BuildInfo{}
	info.ID, _ = asInt(m["id"])
	info.NVR, _ = m["nvr"].(string)
	info.Name, _ = m["name"].(string)
	info.Version, _ = m["version"].(string)
	info.Release, _ = m["release"].(string)
	if e, ok := asInt(m["epoch"]); ok {
		info.Epoch = fmt.Sprint(e)
	} else if e, ok := m["epoch"].(string); ok {
		info.Epoch = e
	}
	return info
}

func taskState(v any) int {
	m, _ := v.(map[string]any)
	if m == nil {
		// a fault entry or an unwrapped value
		if list, ok := v.([]any); ok && len(list) > 0 {
			m, _ = list[0].(map[string]any)
		}
	}
	if m == nil {
		return taskFailed
	}
	if _, isFault := m["faultCode"]; isFault {
		return taskFailed
	}
	state, ok := asInt(m["state"])
	if !ok {
		return taskFree
	}
	return state
}

var _ TagClient = (*KojiClient)(nil)
