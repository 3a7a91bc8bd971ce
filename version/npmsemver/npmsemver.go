// Package npmsemver implements version.Scheme for npm, wrapping
// github.com/Masterminds/semver/v3 for major.minor.patch ordering and the
// ^, ~, >=, <, ||, hyphenated, and x-range constraint grammar.
package npmsemver

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Scheme is the npm version.Scheme.
type Scheme struct{}

func (Scheme) Compare(a, b string) (int, error) {
	va, err := semver.NewVersion(normalize(a))
	if err != nil {
		return 0, fmt.Errorf("npmsemver: parse %q: %w", a, err)
	}
	vb, err := semver.NewVersion(normalize(b))
	if err != nil {
		return 0, fmt.Errorf("npmsemver: parse %q: %w", b, err)
	}
	return va.Compare(vb), nil
}

func (Scheme) Satisfies(v, c string) (bool, error) {
	if c == "" || c == "*" || c == "latest" {
		return true, nil
	}
	pv, err := semver.NewVersion(normalize(v))
	if err != nil {
		return false, fmt.Errorf("npmsemver: parse version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		return false, fmt.Errorf("npmsemver: parse constraint %q: %w", c, err)
	}
	return constraint.Check(pv), nil
}

func (Scheme) IsPrerelease(v string) bool {
	pv, err := semver.NewVersion(normalize(v))
	if err != nil {
		return false
	}
	return pv.Prerelease() != ""
}

// normalize trims whitespace and the leading "v" some registries emit. A
// bare "latest" constraint is handled in Satisfies; normalize does not
// translate dist-tags.
func normalize(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
