package resolve

import (
	"context"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/metadata"
)

// Adapter supplies the ecosystem-specific parts of the shared DFS
// algorithm: metadata lookup plus version
// selection, dependency filtering (markers/scope/arch), and the rare
// deviation from first-fit (Maven's nearest-wins).
type Adapter interface {
	Ecosystem() coordinate.Ecosystem

	// IsSystemPackage reports whether name is on the ecosystem's deny
	// list (e.g. libc, libgcc_s, __glibc) — resolved to a skipped-system
	// stub without recursion.
	IsSystemPackage(name string) bool

	// Resolve selects the highest version of name satisfying constraint,
	// fetches its metadata, and returns the resulting Package (download
	// URL/checksum) and raw dependency edges (before Filter is applied).
	Resolve(ctx context.Context, name, constraint string, hints coordinate.Hints, opts Options) (version string, pkg Package, deps []metadata.Dependency, err error)

	// Filter applies ecosystem-specific predicate filtering to one
	// dependency edge (PEP 508 markers for pip, scope for Maven,
	// architecture/OS for yum/conda/npm-optional-native). include=false
	// means "do not recurse"; note, if non-empty, is recorded as a
	// marker-filtered Conflict.
	Filter(dep metadata.Dependency, opts Options) (include bool, note string)

	// PreferNearest reports whether a second request for an already
	// visited name, arriving at newDepth, should replace the resolution
	// recorded at existingDepth. Every ecosystem except Maven returns
	// false (first-fit: the first visited resolution wins).
	PreferNearest(existingDepth, newDepth int) bool
}
