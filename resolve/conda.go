package resolve

import (
	"context"
	"fmt"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/version"
	"github.com/a-h/airgap/version/condaver"
)

// CondaAdapter implements Adapter for Conda: version
// selection additionally filters by Python build-tag compatibility
// (handled inside metadata.CondaFetcher), falling back to a per-label
// channel (e.g. "main/label/rc") when the primary channel yields nothing.
type CondaAdapter struct {
	Fetcher      *metadata.CondaFetcher
	LabelFetcher *metadata.CondaFetcher // optional; an RC/label channel fallback.
}

func NewCondaAdapter(fetcher, labelFetcher *metadata.CondaFetcher) *CondaAdapter {
	return &CondaAdapter{Fetcher: fetcher, LabelFetcher: labelFetcher}
}

func (a *CondaAdapter) Ecosystem() coordinate.Ecosystem { return coordinate.Conda }

func (a *CondaAdapter) IsSystemPackage(name string) bool { return false }

func (a *CondaAdapter) Resolve(ctx context.Context, name, constraint string, hints coordinate.Hints, opts Options) (string, Package, []metadata.Dependency, error) {
	best, info, err := a.selectFrom(ctx, a.Fetcher, name, constraint, hints)
	if err != nil && a.LabelFetcher != nil {
		// Drop any channel hint so the retry actually hits the label
		// channel rather than re-issuing the identical lookup.
		labelHints := hints
		labelHints.Channel = ""
		best, info, err = a.selectFrom(ctx, a.LabelFetcher, name, constraint, labelHints)
	}
	if err != nil {
		return "", Package{}, nil, err
	}
	if len(info.Artifacts) == 0 {
		return "", Package{}, nil, fmt.Errorf("resolve: conda: %s=%s has no artifact", name, best)
	}
	artifact := info.Artifacts[0]

	pkg := Package{
		Coord: coordinate.Coordinate{
			Ecosystem:    coordinate.Conda,
			Name:         name,
			Version:      best,
			Architecture: opts.Architecture,
			Hints:        hints,
		},
		URL:       artifact.URL,
		Checksum:  artifact.Checksum,
		Algorithm: artifact.Algorithm,
	}
	return best, pkg, info.Deps, nil
}

func (a *CondaAdapter) selectFrom(ctx context.Context, fetcher *metadata.CondaFetcher, name, constraint string, hints coordinate.Hints) (string, metadata.VersionInfo, error) {
	versions, err := fetcher.AllVersions(ctx, name, hints)
	if err != nil {
		return "", metadata.VersionInfo{}, err
	}
	scheme := condaver.Scheme{}
	best, ok, err := version.Latest(scheme, versions, constraint)
	if err != nil {
		return "", metadata.VersionInfo{}, err
	}
	if !ok {
		return "", metadata.VersionInfo{}, fmt.Errorf("resolve: conda: no version of %s satisfies %q: %w", name, constraint, ErrNoMatchingVersion)
	}
	info, err := fetcher.FetchVersion(ctx, name, best, hints)
	if err != nil {
		return "", metadata.VersionInfo{}, err
	}
	return best, info, nil
}

func (a *CondaAdapter) Filter(dep metadata.Dependency, opts Options) (bool, string) {
	return true, ""
}

func (a *CondaAdapter) PreferNearest(existingDepth, newDepth int) bool { return false }
