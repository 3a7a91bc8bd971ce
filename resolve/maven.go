package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/version"
	"github.com/a-h/airgap/version/mavenver"
)

// mavenDefaultScopes are the scopes Filter includes; "test" and
// "provided" are always excluded (no option changes this set).
var mavenDefaultScopes = map[string]bool{
	"compile": true,
	"runtime": true,
	"system":  true,
}

// MavenAdapter implements Adapter for Maven: nearest-wins
// conflict resolution and scope-based filtering.
type MavenAdapter struct {
	Fetcher *metadata.MavenFetcher
}

func NewMavenAdapter(fetcher *metadata.MavenFetcher) *MavenAdapter {
	return &MavenAdapter{Fetcher: fetcher}
}

func (a *MavenAdapter) Ecosystem() coordinate.Ecosystem { return coordinate.Maven }

func (a *MavenAdapter) IsSystemPackage(name string) bool { return false }

func (a *MavenAdapter) Resolve(ctx context.Context, name, constraint string, hints coordinate.Hints, opts Options) (string, Package, []metadata.Dependency, error) {
	target, err := a.targetVersion(ctx, name, constraint, hints, opts)
	if err != nil {
		return "", Package{}, nil, err
	}

	info, err := a.Fetcher.FetchVersion(ctx, name, target, hints)
	if err != nil {
		return "", Package{}, nil, err
	}
	if len(info.Artifacts) == 0 {
		return "", Package{}, nil, fmt.Errorf("resolve: maven: %s:%s has no artifact", name, target)
	}

	pkg := Package{
		Coord: coordinate.Coordinate{
			Ecosystem: coordinate.Maven,
			Name:      name,
			Version:   target,
			Hints:     hints,
		},
		URL:       info.Artifacts[0].URL,
		Checksum:  info.Artifacts[0].Checksum,
		Algorithm: info.Artifacts[0].Algorithm,
	}
	return target, pkg, info.Deps, nil
}

// targetVersion resolves a Maven constraint to one concrete version to
// fetch. An exact or soft version ("5.3.0") is used directly; range
// notation ("[1.0,2.0)", "[1.0,)") and an absent version consult the
// repository's maven-metadata.xml listing and select the newest satisfying
// release, considering SNAPSHOTs only when AllowSnapshots is set and no
// release matches.
func (a *MavenAdapter) targetVersion(ctx context.Context, name, constraint string, hints coordinate.Hints, opts Options) (string, error) {
	constraint = strings.TrimSpace(constraint)
	if constraint != "" && !strings.ContainsAny(constraint, "[](),") {
		return constraint, nil
	}

	candidates, err := a.Fetcher.AllVersions(ctx, name, hints)
	if err != nil {
		return "", err
	}
	if !opts.Maven.AllowSnapshots {
		kept := candidates[:0]
		for _, v := range candidates {
			if !isSnapshot(v) {
				kept = append(kept, v)
			}
		}
		candidates = kept
	}

	scheme := mavenver.Scheme{}
	best, ok, err := version.Latest(scheme, candidates, constraint)
	if err != nil {
		return "", err
	}
	if !ok && opts.Maven.AllowSnapshots {
		// Latest excludes prereleases (SNAPSHOTs included) unless the
		// constraint names one; with the flag set, a snapshot may still be
		// chosen when it is all that matches.
		best, ok = latestIncludingPrereleases(scheme, candidates, constraint)
	}
	if !ok {
		return "", fmt.Errorf("resolve: maven: no version of %s satisfies %q: %w", name, constraint, ErrNoMatchingVersion)
	}
	return best, nil
}

func isSnapshot(v string) bool {
	return strings.Contains(strings.ToUpper(v), "SNAPSHOT")
}

func latestIncludingPrereleases(scheme mavenver.Scheme, candidates []string, constraint string) (best string, ok bool) {
	for _, cand := range candidates {
		sat, err := scheme.Satisfies(cand, constraint)
		if err != nil || !sat {
			continue
		}
		if !ok {
			best, ok = cand, true
			continue
		}
		if cmp, err := scheme.Compare(cand, best); err == nil && cmp > 0 {
			best = cand
		}
	}
	return best, ok
}

func (a *MavenAdapter) Filter(dep metadata.Dependency, opts Options) (bool, string) {
	scope := dep.Scope
	if scope == "" {
		scope = "compile"
	}
	if mavenDefaultScopes[scope] {
		return true, ""
	}
	return false, ""
}

// PreferNearest implements Maven's "nearest-wins" rule: a
// transitive dependency requested again at a shallower depth replaces the
// one first recorded at a deeper depth.
func (a *MavenAdapter) PreferNearest(existingDepth, newDepth int) bool {
	return newDepth < existingDepth
}
