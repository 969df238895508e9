// # internal/cargo/version.go
package cargo

import (
	"fmt"
	"strconv"
	"strings"
)

// ReqKind classifies a parsed Cargo version requirement.
type ReqKind string

const (
	ReqCaret     ReqKind = "caret"
	ReqExact     ReqKind = "exact"
	ReqGreaterEq ReqKind = "ge"
)

// VersionRequirement is a parsed Cargo version requirement such as "^1.2.3",
// "=1.0.0" or ">=2.1".
type VersionRequirement struct {
	Kind    ReqKind
	Version [3]int
}

// ParseRequirement parses a version requirement string. Only caret, exact and
// greater-or-equal requirements are recognized; anything else, including the
// "*" wildcard, reports ok false.
func ParseRequirement(req string) (VersionRequirement, bool) {
	switch {
	case strings.HasPrefix(req, "^"):
		return parseVersion(ReqCaret, req[1:])
	case strings.HasPrefix(req, ">="):
		return parseVersion(ReqGreaterEq, req[2:])
	case strings.HasPrefix(req, "="):
		return parseVersion(ReqExact, req[1:])
	}
	return VersionRequirement{}, false
}

func parseVersion(kind ReqKind, ver string) (VersionRequirement, bool) {
	var nums [3]int
	for i, part := range strings.Split(ver, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return VersionRequirement{}, false
		}
		if i < 3 {
			nums[i] = n
		}
	}
	return VersionRequirement{Kind: kind, Version: nums}, true
}

// Merge combines this requirement with another declaration of the same
// dependency. The bool reports whether the two are compatible.
func (v VersionRequirement) Merge(other VersionRequirement) (VersionRequirement, bool) {
	switch {
	case v.Kind == ReqExact && other.Kind == ReqExact:
		if v.Version == other.Version {
			return v, true
		}
		return VersionRequirement{}, false

	case v.Kind == ReqCaret && other.Kind == ReqCaret:
		return VersionRequirement{Kind: ReqCaret, Version: maxVersion(v.Version, other.Version)}, true

	case v.Kind == ReqExact && other.Kind == ReqCaret:
		return mergeExactCaret(v.Version, other.Version)
	case v.Kind == ReqCaret && other.Kind == ReqExact:
		return mergeExactCaret(other.Version, v.Version)

	// A caret bound absorbs a >= bound at the higher of the two versions.
	case v.Kind == ReqGreaterEq && other.Kind == ReqCaret,
		v.Kind == ReqCaret && other.Kind == ReqGreaterEq:
		return VersionRequirement{Kind: ReqCaret, Version: maxVersion(v.Version, other.Version)}, true

	case v.Kind == ReqGreaterEq && other.Kind == ReqGreaterEq:
		if v.Version[0] != other.Version[0] {
			return VersionRequirement{}, false
		}
		return VersionRequirement{Kind: ReqGreaterEq, Version: maxVersion(v.Version, other.Version)}, true

	case v.Kind == ReqExact && other.Kind == ReqGreaterEq:
		return mergeExactGreaterEq(v.Version, other.Version)
	case v.Kind == ReqGreaterEq && other.Kind == ReqExact:
		return mergeExactGreaterEq(other.Version, v.Version)
	}
	return VersionRequirement{}, false
}

// An exact pin satisfies a caret bound when it is at or above the bound.
func mergeExactCaret(exact, caret [3]int) (VersionRequirement, bool) {
	if compareVersions(exact, caret) >= 0 {
		return VersionRequirement{Kind: ReqExact, Version: exact}, true
	}
	return VersionRequirement{}, false
}

// An exact pin satisfies a >= bound only within the same major version.
func mergeExactGreaterEq(exact, ge [3]int) (VersionRequirement, bool) {
	if compareVersions(exact, ge) >= 0 && exact[0] == ge[0] {
		return VersionRequirement{Kind: ReqExact, Version: exact}, true
	}
	return VersionRequirement{}, false
}

// Format renders the requirement in Cargo syntax, omitting trailing zero
// components.
func (v VersionRequirement) Format() string {
	var ver string
	switch {
	case v.Version[2] != 0:
		ver = fmt.Sprintf("%d.%d.%d", v.Version[0], v.Version[1], v.Version[2])
	case v.Version[1] != 0:
		ver = fmt.Sprintf("%d.%d", v.Version[0], v.Version[1])
	default:
		ver = strconv.Itoa(v.Version[0])
	}

	switch v.Kind {
	case ReqCaret:
		return "^" + ver
	case ReqExact:
		return "=" + ver
	case ReqGreaterEq:
		return ">=" + ver
	}
	return ver
}

func compareVersions(a, b [3]int) int {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func maxVersion(a, b [3]int) [3]int {
	if compareVersions(a, b) >= 0 {
		return a
	}
	return b
}
