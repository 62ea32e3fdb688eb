// Package version canonicalizes the version strings clients put in their
// package manifests. Raw strings stay the client-facing identity; the
// normalized form is what the registry orders on.
package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrMalformedVersion is returned when a raw string has no semantic-version
// interpretation, even after repair.
var ErrMalformedVersion = errors.New("malformed version")

// Normalize converts a raw version string into its canonical three-component
// semantic-version form and reports whether it carries a prerelease suffix.
//
// Clients routinely send two-part versions ("1.0") and zero-padded components
// ("01.02.03"); both are repaired before the string is coerced into strict
// semver. Build metadata is dropped from the normalized form since it plays
// no role in ordering.
func Normalize(raw string) (string, bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false, fmt.Errorf("%w: empty string", ErrMalformedVersion)
	}

	core, sep, suffix := splitSuffix(trimmed)

	segments := strings.Split(core, ".")
	for i, seg := range segments {
		segments[i] = stripLeadingZeros(seg)
	}
	repaired := strings.Join(segments, ".") + sep + suffix

	v, err := semver.NewVersion(repaired)
	if err != nil {
		return "", false, fmt.Errorf("%w: %q", ErrMalformedVersion, raw)
	}

	normalized := fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
	if pre := v.Prerelease(); pre != "" {
		normalized += "-" + pre
	}
	return normalized, v.Prerelease() != "", nil
}

// Compare orders two normalized version strings by semantic-version
// precedence. A string that fails to parse sorts before everything else, so
// damaged rows never float to "latest".
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// splitSuffix splits a raw string at the first prerelease ("-") or, failing
// that, the first build-metadata ("+") separator. The separator itself is
// preserved so the suffix kind survives reassembly.
func splitSuffix(raw string) (core, sep, suffix string) {
	if i := strings.Index(raw, "-"); i >= 0 {
		return raw[:i], "-", raw[i+1:]
	}
	if i := strings.Index(raw, "+"); i >= 0 {
		return raw[:i], "+", raw[i+1:]
	}
	return raw, "", ""
}

func stripLeadingZeros(segment string) string {
	trimmed := strings.TrimLeft(segment, "0")
	if trimmed == "" && segment != "" {
		return "0"
	}
	return trimmed
}
