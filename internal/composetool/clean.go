package composetool

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CleanOldComposes deletes all but the newest keep output directories of
// every compose series in dir. A series is the set of directories that
// differ only in a trailing numeric suffix such as "-20240501.0". It returns
// the deleted paths.
func CleanOldComposes(dir string, keep int, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose directory %s: %w", dir, err)
	}

	series := make(map[string][]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		i := strings.LastIndex(name, "-")
		if i < 0 {
			continue
		}
		if _, err := strconv.ParseFloat(name[i+1:], 64); err != nil {
			continue
		}
		prefix := name[:i+1]
		series[prefix] = append(series[prefix], name)
	}

	var doomed []string
	for _, dirs := range series {
		if len(dirs) <= keep {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
		doomed = append(doomed, dirs[keep:]...)
	}
	sort.Strings(doomed)

	var deleted []string
	for _, name := range doomed {
		path := filepath.Join(dir, name)
		logger.Info("Deleting old compose", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", path, err)
		}
		deleted = append(deleted, path)
	}
	return deleted, nil
}
