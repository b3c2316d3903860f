// Package models defines the records the compose pipeline reads and writes:
// releases, updates, builds and composes.
package models

import "strings"

// ReleaseState is the lifecycle state of a release.
type ReleaseState string

const (
	// ReleaseDisabled releases accept no pushes
	ReleaseDisabled ReleaseState = "disabled"
	// ReleasePending releases are branched but not yet published
	ReleasePending ReleaseState = "pending"
	// ReleaseFrozen releases are in a freeze
	ReleaseFrozen ReleaseState = "frozen"
	// ReleaseCurrent releases are supported and published
	ReleaseCurrent ReleaseState = "current"
	// ReleaseArchived releases are end-of-life
	ReleaseArchived ReleaseState = "archived"
)

// Release describes a distribution release and the build-system tags that
// back each of its repositories.
type Release struct {
	Name     string       `json:"name" yaml:"name"`
	LongName string       `json:"long_name" yaml:"longName"`
	Version  string       `json:"version" yaml:"version"`
	IDPrefix string       `json:"id_prefix" yaml:"idPrefix"`
	State    ReleaseState `json:"state" yaml:"state"`

	DistTag           string `json:"dist_tag" yaml:"distTag"`
	StableTag         string `json:"stable_tag" yaml:"stableTag"`
	TestingTag        string `json:"testing_tag" yaml:"testingTag"`
	CandidateTag      string `json:"candidate_tag" yaml:"candidateTag"`
	PendingSigningTag string `json:"pending_signing_tag" yaml:"pendingSigningTag"`
	PendingTestingTag string `json:"pending_testing_tag" yaml:"pendingTestingTag"`
	PendingStableTag  string `json:"pending_stable_tag" yaml:"pendingStableTag"`
	OverrideTag       string `json:"override_tag" yaml:"overrideTag"`
}

// PrefixKey returns the release prefix used to build configuration keys,
// e.g. "fedora" for a release whose id prefix is "FEDORA".
func (r *Release) PrefixKey() string {
	return strings.ReplaceAll(strings.ToLower(r.IDPrefix), "-", "_")
}

// RequestedTag returns the tag builds should land in when a request is
// fulfilled. Stable pushes to a pending release go to the dist tag since
// there is no stable repository to compose yet.
func (r *Release) RequestedTag(request UpdateRequest) (string, bool) {
	switch request {
	case RequestStable:
		if r.State == ReleasePending {
			return r.DistTag, r.DistTag != ""
		}
		return r.StableTag, r.StableTag != ""
	case RequestTesting:
		return r.TestingTag, r.TestingTag != ""
	case RequestObsolete:
		return r.CandidateTag, r.CandidateTag != ""
	default:
		return "", false
	}
}

// TagFamilies groups the candidate and testing tags of every known release.
// A build's current tag is looked up in one of these families to decide
// where a tag move starts from.
type TagFamilies struct {
	Candidate []string
	Testing   []string
}

// NewTagFamilies collects the tag families across releases.
func NewTagFamilies(releases []*Release) TagFamilies {
	var families TagFamilies
	for _, r := range releases {
		if r.CandidateTag != "" {
			families.Candidate = append(families.Candidate, r.CandidateTag)
		}
		if r.TestingTag != "" {
			families.Testing = append(families.Testing, r.TestingTag)
		}
	}
	return families
}

// ForStatus returns the family a build of an update in the given status is
// expected to be tagged into.
func (f TagFamilies) ForStatus(status UpdateStatus) []string {
	if status == StatusTesting {
		return f.Testing
	}
	return f.Candidate
}
