// Package update keeps the installed binary current from GitHub
// releases: a lazy background check while the assistant runs, and an
// explicit `lexvoice update` subcommand that downloads, verifies, and
// swaps the executable in place.
package update

import (
	"strconv"
	"strings"
)

const (
	Repo       = "lexvoice/lexvoice"
	BinaryName = "lexvoice"
)

// Release is one published build that could replace the running one.
type Release struct {
	Version     string
	AssetURL    string
	ChecksumURL string
}

// NewerThan reports whether the release would upgrade the given
// version. Anything unparseable never upgrades; dev builds are
// filtered out before this point.
func (r Release) NewerThan(current string) bool {
	cur, ok := parseVersion(current)
	if !ok {
		return false
	}
	rel, ok := parseVersion(r.Version)
	if !ok {
		return false
	}
	return compareVersions(rel, cur) > 0
}

// parseVersion reads "v1.2.3" (tag form) or "1.2.3", ignoring any
// prerelease or build-metadata suffix.
func parseVersion(v string) ([3]int, bool) {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return [3]int{}, false
		}
		out[i] = n
	}
	return out, true
}

func compareVersions(a, b [3]int) int {
	for i := range a {
		switch {
		case a[i] > b[i]:
			return 1
		case a[i] < b[i]:
			return -1
		}
	}
	return 0
}
