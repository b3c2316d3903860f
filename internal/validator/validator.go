// Package validator checks a generated compose tree before it is published.
package validator

import (
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/relengtools/composer/internal/models"
)

var (
	// ErrEmptyCompose is returned when the compose has no architectures
	ErrEmptyCompose = errors.New("empty compose found")

	// ErrSymlinkFound is returned when a package file is a symlink
	ErrSymlinkFound = errors.New("symlinks found")

	// ErrInvalidRepodata is returned when repository metadata is missing or malformed
	ErrInvalidRepodata = errors.New("invalid repodata")
)

// RepoType selects which metadata a repository must carry.
type RepoType string

const (
	RepoYum    RepoType = "yum"
	RepoModule RepoType = "module"
	RepoSource RepoType = "source"
)

// requiredData lists the repomd data types each repository type must have.
var requiredData = map[RepoType][]string{
	RepoYum:    {"primary", "filelists", "updateinfo", "group"},
	RepoModule: {"primary", "filelists", "updateinfo", "modules"},
	RepoSource: {"primary", "filelists", "updateinfo"},
}

// Validator checks compose trees.
type Validator struct {
	logger *slog.Logger
}

// New creates a validator.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Arches returns the architecture directories of a compose, sorted.
func Arches(composePath string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(composePath, "compose", "Everything"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyCompose, err)
	}
	var arches []string
	for _, e := range entries {
		if e.IsDir() {
			arches = append(arches, e.Name())
		}
	}
	if len(arches) == 0 {
		return nil, ErrEmptyCompose
	}
	slices.Sort(arches)
	return arches, nil
}

// RepodataDir returns the repodata directory of one architecture.
func RepodataDir(composePath, arch string) string {
	if arch == "source" {
		return filepath.Join(composePath, "compose", "Everything", arch, "tree", "repodata")
	}
	return filepath.Join(composePath, "compose", "Everything", arch, "os", "repodata")
}

// Validate checks every architecture of the compose at path: its metadata
// must be complete and parse, and sampled package files must not be symlinks.
func (v *Validator) Validate(path string, contentType models.ContentType) error {
	v.logger.Info("Running sanity checks", "path", path)

	arches, err := Arches(path)
	if err != nil {
		return err
	}

	for _, arch := range arches {
		repoType := RepoYum
		switch {
		case arch == "source":
			repoType = RepoSource
		case contentType == models.ContentModule:
			repoType = RepoModule
		}

		if err := CheckRepodata(RepodataDir(path, arch), repoType); err != nil {
			return fmt.Errorf("%s: %w", arch, err)
		}
		if err := checkPackageLinks(path, arch); err != nil {
			return err
		}
	}
	return nil
}

// checkPackageLinks samples the first rpm of every package subdirectory.
func checkPackageLinks(path, arch string) error {
	base := filepath.Join(path, "compose", "Everything", arch)
	dirs := [][]string{{"debug", "tree", "Packages"}, {"os", "Packages"}}
	if arch == "source" {
		dirs = [][]string{{"tree", "Packages"}}
	}

	for _, parts := range dirs {
		checkDir := filepath.Join(append([]string{base}, parts...)...)
		subdirs, err := os.ReadDir(checkDir)
		if err != nil {
			return fmt.Errorf("unable to check composed packages in %s: %w", checkDir, err)
		}
		for _, sub := range subdirs {
			files, err := os.ReadDir(filepath.Join(checkDir, sub.Name()))
			if err != nil {
				return fmt.Errorf("unable to check composed packages in %s: %w", sub.Name(), err)
			}
			for _, f := range files {
				if !strings.HasSuffix(f.Name(), ".rpm") {
					continue
				}
				if f.Type()&os.ModeSymlink != 0 {
					return fmt.Errorf("%w: %s", ErrSymlinkFound, filepath.Join(checkDir, sub.Name(), f.Name()))
				}
				break
			}
		}
	}
	return nil
}

type repomd struct {
	Data []struct {
		Type     string `xml:"type,attr"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
	} `xml:"data"`
}

// CheckRepodata validates the repodata directory of one repository.
func CheckRepodata(dir string, repoType RepoType) error {
	required, ok := requiredData[repoType]
	if !ok {
		return fmt.Errorf("repo type must be one of yum, module or source, got %q", repoType)
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Clean(dir), "repomd.xml"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRepodata, err)
	}
	var md repomd
	if err := xml.Unmarshal(raw, &md); err != nil {
		return fmt.Errorf("%w: repomd.xml: %v", ErrInvalidRepodata, err)
	}

	// Locations are relative to the repository root, the parent of repodata.
	root := filepath.Dir(dir)
	files := make(map[string]string, len(md.Data))
	for _, d := range md.Data {
		p := filepath.Join(root, filepath.FromSlash(d.Location.Href))
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s listed in repomd.xml is missing", ErrInvalidRepodata, d.Location.Href)
		}
		files[d.Type] = p
	}

	var missing []string
	for _, part := range required {
		if _, ok := files[part]; !ok {
			missing = append(missing, part)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: required parts not in repomd.xml: %s", ErrInvalidRepodata, strings.Join(missing, ", "))
	}

	if err := checkPrimary(files["primary"]); err != nil {
		return err
	}
	if err := checkUpdateinfo(files["updateinfo"]); err != nil {
		return err
	}
	if repoType == RepoYum {
		if err := checkComps(files["group"]); err != nil {
			return err
		}
	}
	return nil
}

// openMetadata opens a metadata file, transparently decompressing gzip.
func openMetadata(path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

func checkPrimary(path string) error {
	r, err := openMetadata(path)
	if err != nil {
		return fmt.Errorf("%w: primary: %v", ErrInvalidRepodata, err)
	}
	defer r.Close()

	var primary struct {
		Packages int `xml:"packages,attr"`
		Package  []struct {
			Name string `xml:"name"`
		} `xml:"package"`
	}
	if err := xml.NewDecoder(r).Decode(&primary); err != nil {
		return fmt.Errorf("%w: primary: %v", ErrInvalidRepodata, err)
	}
	if len(primary.Package) == 0 {
		return fmt.Errorf("%w: primary lists no packages", ErrInvalidRepodata)
	}
	return nil
}

func checkUpdateinfo(path string) error {
	r, err := openMetadata(path)
	if err != nil {
		return fmt.Errorf("%w: updateinfo: %v", ErrInvalidRepodata, err)
	}
	defer r.Close()

	var updateinfo struct {
		Updates []struct {
			ID string `xml:"id"`
		} `xml:"update"`
	}
	if err := xml.NewDecoder(r).Decode(&updateinfo); err != nil {
		return fmt.Errorf("%w: updateinfo: %v", ErrInvalidRepodata, err)
	}
	for _, u := range updateinfo.Updates {
		if strings.TrimSpace(u.ID) == "" {
			return fmt.Errorf("%w: updateinfo contains empty ID tags", ErrInvalidRepodata)
		}
	}
	return nil
}

func checkComps(path string) error {
	r, err := openMetadata(path)
	if err != nil {
		return fmt.Errorf("%w: comps: %v", ErrInvalidRepodata, err)
	}
	defer r.Close()

	var comps struct {
		Groups []struct {
			ID string `xml:"id"`
		} `xml:"group"`
	}
	if err := xml.NewDecoder(r).Decode(&comps); err != nil {
		return fmt.Errorf("%w: comps file unable to be parsed: %v", ErrInvalidRepodata, err)
	}
	if len(comps.Groups) == 0 {
		return fmt.Errorf("%w: comps file empty", ErrInvalidRepodata)
	}
	return nil
}
