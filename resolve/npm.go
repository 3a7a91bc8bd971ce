package resolve

import (
	"context"
	"fmt"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/version"
	"github.com/a-h/airgap/version/npmsemver"
)

// NPMAdapter implements Adapter for npm.
type NPMAdapter struct {
	Fetcher *metadata.NPMFetcher
}

func NewNPMAdapter(fetcher *metadata.NPMFetcher) *NPMAdapter {
	return &NPMAdapter{Fetcher: fetcher}
}

func (a *NPMAdapter) Ecosystem() coordinate.Ecosystem { return coordinate.NPM }

// npm has no system-package deny list; every dependency is a real registry
// package.
func (a *NPMAdapter) IsSystemPackage(name string) bool { return false }

func (a *NPMAdapter) Resolve(ctx context.Context, name, constraint string, hints coordinate.Hints, opts Options) (string, Package, []metadata.Dependency, error) {
	versions, err := a.Fetcher.AllVersions(ctx, name, hints)
	if err != nil {
		return "", Package{}, nil, err
	}
	scheme := npmsemver.Scheme{}
	best, ok, err := version.Latest(scheme, versions, constraint)
	if err != nil {
		return "", Package{}, nil, err
	}
	if !ok {
		return "", Package{}, nil, fmt.Errorf("resolve: npm: no version of %s satisfies %q: %w", name, constraint, ErrNoMatchingVersion)
	}

	info, err := a.Fetcher.FetchVersion(ctx, name, best, hints)
	if err != nil {
		return "", Package{}, nil, err
	}
	if len(info.Artifacts) == 0 {
		return "", Package{}, nil, fmt.Errorf("resolve: npm: %s@%s has no tarball", name, best)
	}
	artifact := info.Artifacts[0]

	pkg := Package{
		Coord: coordinate.Coordinate{
			Ecosystem:    coordinate.NPM,
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

func (a *NPMAdapter) Filter(dep metadata.Dependency, opts Options) (bool, string) {
	return true, ""
}

// npm's DFS engine traversal is first-fit like every other ecosystem;
// hoisting is a separate post-processing pass (see Hoist) that reshapes the
// already-resolved tree into a node_modules layout.
func (a *NPMAdapter) PreferNearest(existingDepth, newDepth int) bool { return false }

// HoistedModule is one entry in the flattened node_modules-shaped tree.
type HoistedModule struct {
	Coord    coordinate.Coordinate
	Path     []string // package-name path from the top level, e.g. ["express", "qs"] for qs nested under express.
	Nested   bool
}

// Hoist walks a resolved tree and produces a node_modules shaped
// placement (the flat package list is already on
// ResolutionResult.Packages): a dependency is placed at the top level if no
// conflicting version already claims that name there; otherwise it is
// nested directly under its parent.
func Hoist(tree *DependencyNode) []HoistedModule {
	topLevel := map[string]string{} // name -> version claimed at top level.
	var out []HoistedModule

	var walk func(node *DependencyNode, parentPath []string)
	walk = func(node *DependencyNode, parentPath []string) {
		for _, child := range node.Children {
			if child.Cycle || child.Note == "skipped-system" {
				continue
			}
			name := child.Coord.Name
			claimed, exists := topLevel[name]
			nested := exists && claimed != child.Coord.Version
			var path []string
			if nested {
				path = append(append([]string{}, parentPath...), name)
			} else {
				if !exists {
					topLevel[name] = child.Coord.Version
				}
				path = []string{name}
			}
			out = append(out, HoistedModule{Coord: child.Coord, Path: path, Nested: nested})
			walk(child, path)
		}
	}
	walk(tree, nil)
	return out
}
