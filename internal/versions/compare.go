package versions

import (
	"fmt"
	"strconv"
	"strings"
)

// EVR is the epoch, version and release of a build.
type EVR struct {
	Epoch   string
	Version string
	Release string
}

// NVR is a parsed name-version-release build identifier.
type NVR struct {
	Name string
	EVR
}

// ParseNVR splits a build identifier such as "bash-5.2.26-3.fc40". The name
// may itself contain dashes; version and release may not.
func ParseNVR(nvr string) (NVR, error) {
	r := strings.LastIndex(nvr, "-")
	if r <= 0 || r == len(nvr)-1 {
		return NVR{}, fmt.Errorf("invalid nvr %q", nvr)
	}
	v := strings.LastIndex(nvr[:r], "-")
	if v <= 0 || v == r-1 {
		return NVR{}, fmt.Errorf("invalid nvr %q", nvr)
	}
	out := NVR{Name: nvr[:v], EVR: EVR{Version: nvr[v+1 : r], Release: nvr[r+1:]}}
	if e, ver, ok := strings.Cut(out.Version, ":"); ok {
		out.Epoch, out.Version = e, ver
	}
	return out, nil
}

// LabelCompare orders two builds the way rpm does: by epoch, then version,
// then release. It returns -1, 0 or 1.
func LabelCompare(a, b EVR) int {
	if c := compareEpoch(a.Epoch, b.Epoch); c != 0 {
		return c
	}
	if c := Vercmp(a.Version, b.Version); c != 0 {
		return c
	}
	return Vercmp(a.Release, b.Release)
}

// IsNewerBuild reports whether newNVR is strictly newer than oldNVR.
// Unparseable identifiers fall back to string comparison.
func IsNewerBuild(newNVR, oldNVR string) bool {
	n, errNew := ParseNVR(newNVR)
	o, errOld := ParseNVR(oldNVR)
	if errNew != nil || errOld != nil {
		return newNVR > oldNVR
	}
	return LabelCompare(n.EVR, o.EVR) > 0
}

func compareEpoch(a, b string) int {
	ea, _ := strconv.Atoi(a)
	eb, _ := strconv.Atoi(b)
	switch {
	case ea < eb:
		return -1
	case ea > eb:
		return 1
	default:
		return 0
	}
}

// Vercmp compares two version or release strings with rpm's segment rules:
// alternating numeric and alphabetic segments, numeric beating alphabetic,
// '~' sorting before anything and '^' sorting after the base version.
func Vercmp(a, b string) int {
	if a == b {
		return 0
	}
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for i < len(a) && !isAlnum(a[i]) && a[i] != '~' && a[i] != '^' {
			i++
		}
		for j < len(b) && !isAlnum(b[j]) && b[j] != '~' && b[j] != '^' {
			j++
		}

		if (i < len(a) && a[i] == '~') || (j < len(b) && b[j] == '~') {
			if i >= len(a) || a[i] != '~' {
				return 1
			}
			if j >= len(b) || b[j] != '~' {
				return -1
			}
			i++
			j++
			continue
		}

		if (i < len(a) && a[i] == '^') || (j < len(b) && b[j] == '^') {
			if i >= len(a) {
				return -1
			}
			if j >= len(b) {
				return 1
			}
			if a[i] != '^' {
				return 1
			}
			if b[j] != '^' {
				return -1
			}
			i++
			j++
			continue
		}

		if i >= len(a) || j >= len(b) {
			break
		}

		si, sj := i, j
		numeric := isDigit(a[i])
		if numeric {
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			for j < len(b) && isDigit(b[j]) {
				j++
			}
		} else {
			for i < len(a) && isAlpha(a[i]) {
				i++
			}
			for j < len(b) && isAlpha(b[j]) {
				j++
			}
		}

		segA, segB := a[si:i], b[sj:j]
		if segB == "" {
			// segments of different types: numeric is newer
			if numeric {
				return 1
			}
			return -1
		}

		if numeric {
			segA = strings.TrimLeft(segA, "0")
			segB = strings.TrimLeft(segB, "0")
			if len(segA) != len(segB) {
				if len(segA) > len(segB) {
					return 1
				}
				return -1
			}
		}
		if c := strings.Compare(segA, segB); c != 0 {
			return c
		}
	}

	switch {
	case i >= len(a) && j >= len(b):
		return 0
	case i >= len(a):
		return -1
	default:
		return 1
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isAlnum(c byte) bool { return isDigit(c) || isAlpha(c) }
