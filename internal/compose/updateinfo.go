package compose

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/validator"
	"github.com/relengtools/composer/internal/versions"
)

// UpdateInfoGenerator builds the update metadata merged into a repository.
type UpdateInfoGenerator interface {
	Generate(ctx context.Context, release *models.Release, request models.UpdateRequest,
		batch []*models.Update) (UpdateInfo, error)
}

// UpdateInfo is generated update metadata ready to be merged into a compose.
type UpdateInfo interface {
	Insert(composePath string) error
}

// updateinfoFile is the file name written next to repomd.xml.
const updateinfoFile = "updateinfo.xml"

type xmlUpdates struct {
	XMLName xml.Name    `xml:"updates"`
	Updates []xmlUpdate `xml:"update"`
}

type xmlUpdate struct {
	From       string         `xml:"from,attr"`
	Status     string         `xml:"status,attr"`
	Type       string         `xml:"type,attr"`
	Version    string         `xml:"version,attr"`
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Release    string         `xml:"release"`
	Issued     xmlDate        `xml:"issued"`
	References []xmlReference `xml:"references>reference"`
	Collection xmlCollection  `xml:"pkglist>collection"`
}

type xmlDate struct {
	Date string `xml:"date,attr"`
}

type xmlReference struct {
	Href string `xml:"href,attr"`
	ID   string `xml:"id,attr"`
	Type string `xml:"type,attr"`
}

type xmlCollection struct {
	Short    string       `xml:"short,attr"`
	Name     string       `xml:"name"`
	Packages []xmlPackage `xml:"package"`
}

type xmlPackage struct {
	Name     string `xml:"name,attr"`
	Version  string `xml:"version,attr"`
	Release  string `xml:"release,attr"`
	Epoch    string `xml:"epoch,attr"`
	Arch     string `xml:"arch,attr"`
	Filename string `xml:"filename"`
}

// StoreUpdateInfo generates updateinfo from the updates already published
// to the requested repository plus the batch being pushed.
type StoreUpdateInfo struct {
	store  store.Store
	from   string
	bugURL string
}

// NewStoreUpdateInfo creates a generator. from is the sender address
// recorded in each entry.
func NewStoreUpdateInfo(s store.Store, from string) *StoreUpdateInfo {
	return &StoreUpdateInfo{store: s, from: from, bugURL: "https://bugzilla.redhat.com/show_bug.cgi?id="}
}

// Generate implements UpdateInfoGenerator.
func (g *StoreUpdateInfo) Generate(ctx context.Context, release *models.Release, request models.UpdateRequest,
	batch []*models.Update) (UpdateInfo, error) {
	published, err := g.store.FindUpdates(ctx, store.UpdateFilter{
		Releases: []string{release.Name},
		Status:   models.UpdateStatus(request),
	})
	if err != nil {
		return nil, fmt.Errorf("listing published updates: %w", err)
	}

	seen := map[string]bool{}
	var doc xmlUpdates
	for _, u := range append(published, batch...) {
		if seen[u.Alias] || u.Alias == "" {
			continue
		}
		seen[u.Alias] = true
		doc.Updates = append(doc.Updates, g.entry(release, request, u))
	}
	sort.Slice(doc.Updates, func(i, j int) bool { return doc.Updates[i].ID < doc.Updates[j].ID })

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return &xmlUpdateInfo{data: append([]byte(xml.Header), data...)}, nil
}

func (g *StoreUpdateInfo) entry(release *models.Release, request models.UpdateRequest, u *models.Update) xmlUpdate {
	issued := u.DateSubmitted
	if u.DatePushed != nil {
		issued = *u.DatePushed
	}
	title := u.Title
	if title == "" {
		nvrs := make([]string, len(u.Builds))
		for i, b := range u.Builds {
			nvrs[i] = b.NVR
		}
		title = strings.Join(nvrs, " ")
	}

	entry := xmlUpdate{
		From:    g.from,
		Status:  string(request),
		Type:    string(u.Type),
		Version: "2.0",
		ID:      u.Alias,
		Title:   title,
		Release: release.LongName,
		Issued:  xmlDate{Date: issued.UTC().Format(time.DateTime)},
		Collection: xmlCollection{
			Short: release.Name,
			Name:  release.LongName,
		},
	}
	for _, bug := range u.Bugs {
		id := strconv.Itoa(bug)
		entry.References = append(entry.References, xmlReference{Href: g.bugURL + id, ID: id, Type: "bugzilla"})
	}
	for _, b := range u.Builds {
		parsed, err := versions.ParseNVR(b.NVR)
		if err != nil {
			continue
		}
		entry.Collection.Packages = append(entry.Collection.Packages, xmlPackage{
			Name:     parsed.Name,
			Version:  parsed.Version,
			Release:  parsed.Release,
			Epoch:    parsed.Epoch,
			Arch:     "src",
			Filename: b.NVR + ".src.rpm",
		})
	}
	return entry
}

type xmlUpdateInfo struct {
	data []byte
}

// Insert writes updateinfo.xml into the repodata of every architecture and
// registers it in repomd.xml.
func (x *xmlUpdateInfo) Insert(composePath string) error {
	arches, err := validator.Arches(composePath)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(x.data)
	checksum := hex.EncodeToString(sum[:])

	for _, arch := range arches {
		repodata := validator.RepodataDir(composePath, arch)
		if err := os.WriteFile(filepath.Join(repodata, updateinfoFile), x.data, 0600); err != nil {
			return fmt.Errorf("writing updateinfo for %s: %w", arch, err)
		}
		if err := registerUpdateinfo(filepath.Join(repodata, "repomd.xml"), checksum, len(x.data)); err != nil {
			return fmt.Errorf("registering updateinfo for %s: %w", arch, err)
		}
	}
	return nil
}

// registerUpdateinfo adds an updateinfo entry to repomd.xml unless one is
// already listed, in which case the file it points at was just replaced.
func registerUpdateinfo(repomdPath, checksum string, size int) error {
	raw, err := os.ReadFile(filepath.Clean(repomdPath))
	if err != nil {
		return err
	}
	if bytes.Contains(raw, []byte(`type="updateinfo"`)) {
		return nil
	}
	end := bytes.LastIndex(raw, []byte("</repomd>"))
	if end < 0 {
		return fmt.Errorf("%s is not a repomd document", repomdPath)
	}

	entry := fmt.Sprintf(`<data type="updateinfo"><checksum type="sha256">%s</checksum>`+
		`<location href="repodata/%s"/><size>%d</size></data>`, checksum, updateinfoFile, size)
	var out bytes.Buffer
	out.Write(raw[:end])
	out.WriteString(entry)
	out.Write(raw[end:])
	return os.WriteFile(repomdPath, out.Bytes(), 0600)
}
