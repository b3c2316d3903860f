package push

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
)

// Filter narrows the updates offered for a push. Zero fields match everything.
type Filter struct {
	Releases []string
	Request  models.UpdateRequest
	// Builds selects updates containing any of the named NVRs
	Builds []string
}

// Candidates is the outcome of candidate selection.
type Candidates struct {
	// Updates can be pushed
	Updates []*models.Update
	// Unsigned updates still have unsigned builds and are left out
	Unsigned []*models.Update
	// Stranded updates are locked although no compose owns them. Signed
	// ones are also in Updates so the push takes them again.
	Stranded []*models.Update
}

// FindCandidates returns the updates with a testing or stable request that
// match f. Locked updates owned by an existing compose are left to it;
// locked updates without one are stranded and offered again.
func FindCandidates(ctx context.Context, s store.Store, f Filter) (*Candidates, error) {
	found, err := s.FindUpdates(ctx, store.UpdateFilter{
		Releases:   f.Releases,
		Request:    f.Request,
		HasRequest: true,
	})
	if err != nil {
		return nil, fmt.Errorf("finding updates: %w", err)
	}

	out := &Candidates{}
	for _, u := range found {
		if u.Request != models.RequestTesting && u.Request != models.RequestStable {
			continue
		}
		if len(f.Builds) > 0 && !hasAnyBuild(u, f.Builds) {
			continue
		}
		if u.Locked {
			_, err := s.GetCompose(ctx, u.ReleaseName, u.Request)
			switch {
			case errors.Is(err, store.ErrComposeNotFound):
				out.Stranded = append(out.Stranded, u)
			case err != nil:
				return nil, fmt.Errorf("checking compose of %s: %w", u.Alias, err)
			default:
				continue
			}
		}
		if !u.Signed() {
			out.Unsigned = append(out.Unsigned, u)
			continue
		}
		out.Updates = append(out.Updates, u)
	}
	return out, nil
}

func hasAnyBuild(u *models.Update, nvrs []string) bool {
	for _, b := range u.Builds {
		if slices.Contains(nvrs, b.NVR) {
			return true
		}
	}
	return false
}
