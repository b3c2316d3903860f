package models

import (
	"fmt"
	"time"
)

// UpdateStatus is where an update currently lives.
type UpdateStatus string

const (
	StatusPending  UpdateStatus = "pending"
	StatusTesting  UpdateStatus = "testing"
	StatusStable   UpdateStatus = "stable"
	StatusUnpushed UpdateStatus = "unpushed"
	StatusObsolete UpdateStatus = "obsolete"
)

// UpdateRequest is where an update has asked to go. The empty request means
// no request is pending.
type UpdateRequest string

const (
	RequestNone     UpdateRequest = ""
	RequestTesting  UpdateRequest = "testing"
	RequestStable   UpdateRequest = "stable"
	RequestObsolete UpdateRequest = "obsolete"
)

// ParseUpdateRequest parses a request name.
func ParseUpdateRequest(s string) (UpdateRequest, error) {
	switch r := UpdateRequest(s); r {
	case RequestTesting, RequestStable, RequestObsolete:
		return r, nil
	default:
		return RequestNone, fmt.Errorf("unknown update request %q", s)
	}
}

// UpdateType classifies the change an update carries.
type UpdateType string

const (
	TypeBugfix      UpdateType = "bugfix"
	TypeSecurity    UpdateType = "security"
	TypeNewPackage  UpdateType = "newpackage"
	TypeEnhancement UpdateType = "enhancement"
)

// ContentType is the kind of artifact a build produces.
type ContentType string

const (
	ContentRPM       ContentType = "rpm"
	ContentModule    ContentType = "module"
	ContentContainer ContentType = "container"
	ContentFlatpak   ContentType = "flatpak"
)

// Build is one built artifact identified by name-version-release.
type Build struct {
	NVR    string      `json:"nvr"`
	Type   ContentType `json:"type"`
	Signed bool        `json:"signed"`
	// HasOverride is set when a buildroot override exists for this build.
	HasOverride bool `json:"has_override,omitempty"`
}

// Update is a group of builds moving together between repositories.
type Update struct {
	Alias       string        `json:"alias"`
	Title       string        `json:"title"`
	ReleaseName string        `json:"release"`
	Status      UpdateStatus  `json:"status"`
	Request     UpdateRequest `json:"request,omitempty"`
	Type        UpdateType    `json:"type"`
	Locked      bool          `json:"locked"`
	Critpath    bool          `json:"critpath"`
	// CritpathApproved is false while a critical path update still needs karma.
	CritpathApproved bool `json:"critpath_approved"`
	// TestGatingStatus is the verdict of required automated tests, e.g.
	// "passed", "failed", "waiting" or "ignored".
	TestGatingStatus string   `json:"test_gating_status,omitempty"`
	Builds           []*Build `json:"builds"`
	Bugs             []int    `json:"bugs,omitempty"`
	// FromTag is the side tag the update was created from, if any.
	FromTag string `json:"from_tag,omitempty"`
	Pushed  bool   `json:"pushed"`
	// User is the submitter.
	User string `json:"user,omitempty"`

	DateSubmitted time.Time  `json:"date_submitted"`
	DateLocked    *time.Time `json:"date_locked,omitempty"`
	DateTesting   *time.Time `json:"date_testing,omitempty"`
	DateStable    *time.Time `json:"date_stable,omitempty"`
	DatePushed    *time.Time `json:"date_pushed,omitempty"`
}

// ContentType returns the content type of the update's builds. Updates
// without builds report the empty content type.
func (u *Update) ContentType() ContentType {
	if len(u.Builds) == 0 {
		return ""
	}
	return u.Builds[0].Type
}

// IsSecurity reports whether the update is a security update.
func (u *Update) IsSecurity() bool {
	return u.Type == TypeSecurity
}

// Signed reports whether every build of the update is signed.
func (u *Update) Signed() bool {
	for _, b := range u.Builds {
		if !b.Signed {
			return false
		}
	}
	return true
}

// Lock marks the update as owned by a push.
func (u *Update) Lock(now time.Time) {
	u.Locked = true
	u.DateLocked = &now
}

// Unlock releases the update and clears its request.
func (u *Update) Unlock() {
	u.Locked = false
	u.Request = RequestNone
}

// Clone returns a deep copy of the update.
func (u *Update) Clone() *Update {
	c := *u
	c.Builds = make([]*Build, len(u.Builds))
	for i, b := range u.Builds {
		bc := *b
		c.Builds[i] = &bc
	}
	c.Bugs = append([]int(nil), u.Bugs...)
	c.DateLocked = cloneTime(u.DateLocked)
	c.DateTesting = cloneTime(u.DateTesting)
	c.DateStable = cloneTime(u.DateStable)
	c.DatePushed = cloneTime(u.DatePushed)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Comment is a human-readable note attached to an update.
type Comment struct {
	ID          string    `json:"id"`
	UpdateAlias string    `json:"update"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}
