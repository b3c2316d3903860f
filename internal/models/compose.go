package models

import (
	"fmt"
	"strings"
	"time"
)

// ComposeState is the position of a compose in its pipeline.
type ComposeState string

const (
	ComposeRequested    ComposeState = "requested"
	ComposePending      ComposeState = "pending"
	ComposeInitializing ComposeState = "initializing"
	ComposeGating       ComposeState = "gating"
	ComposeTagging      ComposeState = "tagging"
	ComposeUpdateinfo   ComposeState = "updateinfo"
	ComposePunging      ComposeState = "punging"
	ComposeSigningRepo  ComposeState = "signing_repo"
	ComposeSyncingRepo  ComposeState = "syncing_repo"
	ComposeNotifying    ComposeState = "notifying"
	ComposeCleaning     ComposeState = "cleaning"
	ComposeSuccess      ComposeState = "success"
	ComposeFailed       ComposeState = "failed"
)

// Terminal reports whether no worker will advance a compose in this state.
func (s ComposeState) Terminal() bool {
	return s == ComposeSuccess || s == ComposeFailed
}

// Compose is one in-flight push for a release and request. Its updates are
// the locked updates of the same release carrying the same request.
type Compose struct {
	ReleaseName  string        `json:"release"`
	Request      UpdateRequest `json:"request"`
	ContentType  ContentType   `json:"content_type"`
	State        ComposeState  `json:"state"`
	Checkpoints  Checkpoints   `json:"checkpoints"`
	ErrorMessage string        `json:"error_message,omitempty"`
	DateCreated  time.Time     `json:"date_created"`
	StateDate    time.Time     `json:"state_date"`
}

// NewCompose returns a compose in the requested state.
func NewCompose(release string, request UpdateRequest, contentType ContentType, now time.Time) *Compose {
	return &Compose{
		ReleaseName: release,
		Request:     request,
		ContentType: contentType,
		State:       ComposeRequested,
		Checkpoints: Checkpoints{},
		DateCreated: now,
		StateDate:   now,
	}
}

// Key identifies the compose, e.g. "F40-testing".
func (c *Compose) Key() string {
	return ComposeKey(c.ReleaseName, c.Request)
}

// ComposeKey formats the identifier of the compose for a release and request.
func ComposeKey(release string, request UpdateRequest) string {
	return fmt.Sprintf("%s-%s", release, request)
}

// ParseComposeKey splits a compose identifier produced by ComposeKey.
func ParseComposeKey(key string) (string, UpdateRequest, error) {
	i := strings.LastIndex(key, "-")
	if i <= 0 {
		return "", RequestNone, fmt.Errorf("invalid compose key %q", key)
	}
	request, err := ParseUpdateRequest(key[i+1:])
	if err != nil {
		return "", RequestNone, err
	}
	return key[:i], request, nil
}

// SetState moves the compose to state and stamps the transition time.
func (c *Compose) SetState(state ComposeState, now time.Time) {
	c.State = state
	c.StateDate = now
}

// Clone returns a deep copy of the compose.
func (c *Compose) Clone() *Compose {
	cc := *c
	cc.Checkpoints = c.Checkpoints.Clone()
	return &cc
}
