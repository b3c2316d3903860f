package compose

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
)

type moduleBuild struct {
	name, stream, context string
	version               int64
}

func (m moduleBuild) key() string {
	return m.name + ":" + m.stream
}

func (m moduleBuild) String() string {
	s := fmt.Sprintf("%s:%s:%d", m.name, m.stream, m.version)
	if m.context != "" {
		s += ":" + m.context
	}
	return s
}

// moduleList returns the newest build of every module stream in the release,
// with the builds of the batch taking precedence, as
// "name:stream:version[:context]" entries.
func moduleList(ctx context.Context, tags buildsys.TagClient, s store.Store, st *State) ([]string, error) {
	published, err := s.FindUpdates(ctx, store.UpdateFilter{Releases: []string{st.Release.Name}})
	if err != nil {
		return nil, err
	}

	var ops []buildsys.Op
	for _, u := range published {
		if u.Status != models.StatusStable && u.Status != models.StatusTesting {
			continue
		}
		for _, b := range u.Builds {
			ops = append(ops, buildsys.Op{Kind: buildsys.OpGetBuild, NVR: b.NVR})
		}
	}
	batchStart := len(ops)
	for _, u := range st.Updates {
		for _, b := range u.Builds {
			ops = append(ops, buildsys.Op{Kind: buildsys.OpGetBuild, NVR: b.NVR})
		}
	}
	if len(ops) == 0 {
		return nil, nil
	}

	results, err := tags.Batch(ctx, ops)
	if err != nil {
		return nil, fmt.Errorf("fetching module builds: %w", err)
	}

	newest := map[string]moduleBuild{}
	for i, r := range results {
		if r.Err != nil {
			return nil, fmt.Errorf("getBuild(%s) failed: %w", r.Op.NVR, r.Err)
		}
		mb, err := parseModuleBuild(r.Build)
		if err != nil {
			return nil, err
		}
		cur, seen := newest[mb.key()]
		if i >= batchStart || !seen || mb.version > cur.version {
			newest[mb.key()] = mb
		}
	}

	out := make([]string, 0, len(newest))
	for _, mb := range newest {
		out = append(out, mb.String())
	}
	sort.Strings(out)
	return out, nil
}

// parseModuleBuild reads a module build, whose release field carries
// "version.context".
func parseModuleBuild(info *buildsys.BuildInfo) (moduleBuild, error) {
	if info == nil {
		return moduleBuild{}, fmt.Errorf("missing build info")
	}
	version, context, _ := strings.Cut(info.Release, ".")
	v, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return moduleBuild{}, fmt.Errorf("module build %s has a non-numeric version %q", info.NVR, version)
	}
	return moduleBuild{name: info.Name, stream: info.Version, version: v, context: context}, nil
}
