// Package versionpolicy is the Version Policy (C3): decides, given a
// router's current firmware string and the fleet's known-latest table,
// whether an update is available, and orders two version strings when a
// rollout needs to pick the newest of several candidates.
package versionpolicy

import (
	"regexp"
	"strconv"
	"strings"
)

var prefixPattern = regexp.MustCompile(`^([A-Z0-9]+)_`)
var numericTailPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)\.(\d+)`)

// ExtractPrefix pulls the device-family prefix off a firmware version
// string like "RT1000_1.2.3.4", returning "" if the string doesn't match
// the expected PREFIX_version shape.
func ExtractPrefix(version string) string {
	m := prefixPattern.FindStringSubmatch(version)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}

// numeric is a parsed four-part dotted version, used for ordering.
type numeric struct {
	parts [4]int
	ok    bool
}

func parseNumeric(version string) numeric {
	m := numericTailPattern.FindStringSubmatch(version)
	if len(m) != 5 {
		return numeric{ok: false}
	}
	var n numeric
	n.ok = true
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return numeric{ok: false}
		}
		n.parts[i] = v
	}
	return n
}

// Compare orders two version strings: positive if a > b, negative if a < b,
// zero if equal. When both strings carry a four-part
// numeric tail, parts are compared numerically left to right; otherwise it
// falls back to a plain string comparison so an unexpected format still
// produces a deterministic, if arbitrary, order instead of an error.
func Compare(a, b string) int {
	na, nb := parseNumeric(a), parseNumeric(b)
	if na.ok && nb.ok {
		for i := 0; i < 4; i++ {
			if na.parts[i] != nb.parts[i] {
				return na.parts[i] - nb.parts[i]
			}
		}
		return 0
	}
	return strings.Compare(a, b)
}

// IsNewer reports whether candidate is a strictly newer version than current.
func IsNewer(current, candidate string) bool {
	return Compare(candidate, current) > 0
}

// UpdateAvailable decides whether a router running current should be
// offered candidate: the prefixes must match (same device family) and the
// candidate must be newer.
func UpdateAvailable(current, candidate string) bool {
	if current == "" || candidate == "" {
		return false
	}
	if ExtractPrefix(current) != ExtractPrefix(candidate) {
		return false
	}
	return IsNewer(current, candidate)
}
