// Package version implements the two-part version scheme used by pubspec
// manifests: a major.minor.patch base plus an optional monotonic "+build"
// counter.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is an immutable parsed version. A missing "+build" suffix in the
// source string is represented as Build == 0.
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64
	Build uint64

	raw  string // original input, kept for display and audit
	base string // canonical "major.minor.patch"
}

// Parse parses a version string permissively: the text is split on "+" into a
// base and an optional build counter, the base is split on "." and any
// missing or non-numeric component is coerced to 0. Only empty (or
// whitespace-only) input fails the parse, returning nil.
func Parse(text string) *Version {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	basePart := text
	buildPart := ""
	if i := strings.Index(text, "+"); i >= 0 {
		basePart = text[:i]
		buildPart = text[i+1:]
	}

	var nums [3]uint64
	parts := strings.Split(basePart, ".")
	for i := 0; i < 3 && i < len(parts); i++ {
		nums[i] = coerce(parts[i])
	}

	v := &Version{
		Major: nums[0],
		Minor: nums[1],
		Patch: nums[2],
		Build: coerce(buildPart),
		raw:   text,
	}
	v.base = fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	return v
}

// MustParse is like Parse but panics on empty input.
func MustParse(text string) *Version {
	v := Parse(text)
	if v == nil {
		panic(fmt.Sprintf("version: cannot parse %q", text))
	}
	return v
}

// coerce converts a single component to an integer, mapping anything
// malformed or absent to 0.
func coerce(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// New constructs a Version from explicit components.
func New(major, minor, patch, build uint64) *Version {
	v := &Version{Major: major, Minor: minor, Patch: patch, Build: build}
	v.base = fmt.Sprintf("%d.%d.%d", major, minor, patch)
	v.raw = v.String()
	return v
}

// Bootstrap returns the canonical first version, 1.0.0+1. It is the
// correction target when no previous version can be parsed at all.
func Bootstrap() *Version {
	return New(1, 0, 0, 1)
}

// String formats the version canonically: the base alone when the build
// counter is zero, base+"+"+build otherwise.
func (v *Version) String() string {
	if v.Build == 0 {
		return v.base
	}
	return fmt.Sprintf("%s+%d", v.base, v.Build)
}

// Base returns the canonical "major.minor.patch" portion.
func (v *Version) Base() string {
	return v.base
}

// Raw returns the original string the version was parsed from. Versions
// constructed rather than parsed return their canonical form.
func (v *Version) Raw() string {
	return v.raw
}

// Equal reports whether the four integer components match. String formatting
// plays no part in equality.
func (v *Version) Equal(o *Version) bool {
	if v == nil || o == nil {
		return v == o
	}
	return v.Major == o.Major && v.Minor == o.Minor && v.Patch == o.Patch && v.Build == o.Build
}

// Compare orders two versions: base precedence first (standard
// major.minor.patch semantics), the build counter as tie-break. The result is
// negative when a < b, zero when all four components match, positive when
// a > b.
func Compare(a, b *Version) int {
	if c := semver.Compare("v"+a.base, "v"+b.base); c != 0 {
		return c
	}
	switch {
	case a.Build < b.Build:
		return -1
	case a.Build > b.Build:
		return 1
	}
	return 0
}

// NextAfter computes the corrective successor of prev: patch and build are
// incremented together, so any correction invalidates the current build
// counter as well. A nil prev yields the bootstrap version 1.0.0+1.
func NextAfter(prev *Version) *Version {
	if prev == nil {
		return Bootstrap()
	}
	return New(prev.Major, prev.Minor, prev.Patch+1, prev.Build+1)
}
