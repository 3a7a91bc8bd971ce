package resolve

import (
	"context"
	"fmt"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/marker"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/version"
	"github.com/a-h/airgap/version/evr"
)

// YUMAdapter implements Adapter for YUM/DNF: a Requires
// entry may name a capability rather than a package, resolved through
// metadata.YUMFetcher's capability index; Recommends are skipped unless
// opted in.
type YUMAdapter struct {
	Fetcher *metadata.YUMFetcher
}

func NewYUMAdapter(fetcher *metadata.YUMFetcher) *YUMAdapter {
	return &YUMAdapter{Fetcher: fetcher}
}

func (a *YUMAdapter) Ecosystem() coordinate.Ecosystem { return coordinate.YUM }

func (a *YUMAdapter) IsSystemPackage(name string) bool { return false }

func (a *YUMAdapter) Resolve(ctx context.Context, name, constraint string, hints coordinate.Hints, opts Options) (string, Package, []metadata.Dependency, error) {
	versions, err := a.Fetcher.AllVersions(ctx, name, hints)
	if err != nil {
		return "", Package{}, nil, err
	}
	scheme := evr.Scheme{}
	best, ok, err := version.Latest(scheme, versions, constraint)
	if err != nil {
		return "", Package{}, nil, err
	}
	if !ok {
		return "", Package{}, nil, fmt.Errorf("resolve: yum: no version of %s (or provider) satisfies %q: %w", name, constraint, ErrNoMatchingVersion)
	}

	info, err := a.Fetcher.FetchVersion(ctx, name, best, hints)
	if err != nil {
		return "", Package{}, nil, err
	}
	if len(info.Artifacts) == 0 {
		return "", Package{}, nil, fmt.Errorf("resolve: yum: %s-%s has no artifact", name, best)
	}
	artifact := info.Artifacts[0]

	if !marker.ArchitectureMatch(artifact.Platform, opts.Architecture) {
		return "", Package{}, nil, fmt.Errorf("resolve: yum: %s-%s has no build for architecture %q", name, best, opts.Architecture)
	}

	pkg := Package{
		// info.Name may differ from the requested name when name was a
		// capability resolved to its providing package.
		Coord: coordinate.Coordinate{
			Ecosystem:    coordinate.YUM,
			Name:         info.Name,
			Version:      best,
			Architecture: artifact.Platform,
			Hints:        hints,
		},
		URL:       artifact.URL,
		Checksum:  artifact.Checksum,
		Algorithm: artifact.Algorithm,
	}
	return best, pkg, info.Deps, nil
}

func (a *YUMAdapter) Filter(dep metadata.Dependency, opts Options) (bool, string) {
	if isRecommends(dep) && !opts.YUM.IncludeRecommends {
		return false, ""
	}
	return true, ""
}

func isRecommends(dep metadata.Dependency) bool {
	for _, e := range dep.Extras {
		if e == "recommends" {
			return true
		}
	}
	return false
}

func (a *YUMAdapter) PreferNearest(existingDepth, newDepth int) bool { return false }
