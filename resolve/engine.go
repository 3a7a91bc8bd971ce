package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/metadata"
	"golang.org/x/sync/errgroup"
)

// visitedEntry is what the engine remembers about one already-resolved
// name: the version chosen first-fit, the depth and path it was requested
// at, and the node holding its subtree.
type visitedEntry struct {
	Version string
	Depth   int
	Path    []string
	Node    *DependencyNode
}

// Engine runs the shared DFS resolution algorithm against one Adapter. An
// Engine is single-use: create one per resolve call — the visited map is
// owned by that call and never shared across jobs.
//
// Traversal is sequential, so resolution is deterministic given identical
// metadata: the only concurrency is metadata prefetching, which fans out
// over a node's children and joins before recursion continues.
type Engine struct {
	visited   map[string]*visitedEntry
	conflicts []Conflict
	failed    []Failed
	packages  []Package
	seenPkg   map[string]bool
}

func NewEngine() *Engine {
	return &Engine{
		visited: make(map[string]*visitedEntry),
		seenPkg: make(map[string]bool),
	}
}

// request is one (name, constraint) pair queued for metadata prefetch.
type request struct {
	name       string
	constraint string
	hints      coordinate.Hints
	system     bool
}

// fetched is the prefetched metadata for one request.
type fetched struct {
	version string
	pkg     Package
	deps    []metadata.Dependency
	err     error
}

// prefetch resolves metadata for every request concurrently, bounded by
// opts.MetadataConcurrency, and joins before returning. System packages
// are never fetched.
func prefetch(ctx context.Context, adapter Adapter, reqs []request, opts Options) []fetched {
	out := make([]fetched, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MetadataConcurrency)
	for i, r := range reqs {
		if r.system {
			continue
		}
		i, r := i, r
		g.Go(func() error {
			v, pkg, deps, err := adapter.Resolve(gctx, r.name, r.constraint, r.hints, opts)
			out[i] = fetched{version: v, pkg: pkg, deps: deps, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Resolve drives resolveOne for each root and returns the aggregated
// result. Root metadata is prefetched concurrently; the traversal itself
// runs in root order.
func (e *Engine) Resolve(ctx context.Context, adapter Adapter, roots []Root, opts Options) (ResolutionResult, error) {
	opts = opts.withDefaults()

	reqs := make([]request, len(roots))
	for i, r := range roots {
		reqs[i] = request{name: r.Name, constraint: r.Constraint, hints: r.Hints, system: adapter.IsSystemPackage(r.Name)}
	}
	pre := prefetch(ctx, adapter, reqs, opts)

	root := &DependencyNode{}
	for i, r := range roots {
		if ctx.Err() != nil {
			return ResolutionResult{}, fmt.Errorf("resolve: %w", ctx.Err())
		}
		if c := e.resolveOne(ctx, adapter, r.Name, r.Constraint, r.Hints, 0, nil, opts, pre[i]); c != nil {
			root.Children = append(root.Children, c)
		}
	}

	return ResolutionResult{
		Tree:      root,
		Packages:  append([]Package{}, e.packages...),
		Conflicts: append([]Conflict{}, e.conflicts...),
		Failed:    append([]Failed{}, e.failed...),
	}, nil
}

// resolveOne processes one already-prefetched dependency edge. It never
// returns a Go error for an ordinary resolution failure — a fetch failure
// is recorded in Failed and an unsatisfiable constraint as a Missing
// conflict, so unrelated roots still resolve. It returns a nil node in
// those two cases and on context cancellation.
func (e *Engine) resolveOne(ctx context.Context, adapter Adapter, name, constraint string, hints coordinate.Hints, depth int, path []string, opts Options, pre fetched) *DependencyNode {
	if ctx.Err() != nil {
		return nil
	}

	if adapter.IsSystemPackage(name) {
		return &DependencyNode{
			Coord: coordinate.Coordinate{Ecosystem: adapter.Ecosystem(), Name: name},
			Note:  "skipped-system",
		}
	}

	if pre.err != nil {
		// The registry answered but nothing satisfied the constraint:
		// that's a Missing conflict. Genuine fetch failures (network,
		// parse, unknown package) go to Failed instead.
		if errors.Is(pre.err, ErrNoMatchingVersion) {
			e.recordConflict(name, Missing, []string{constraint}, [][]string{appendPath(path, name)})
			return nil
		}
		e.recordFailed(adapter, name, constraint, hints, pre.err)
		return nil
	}
	version, pkg, deps := pre.version, pre.pkg, pre.deps

	newPath := appendPath(path, name)

	for _, p := range path {
		if p == name {
			e.recordConflict(name, Circular, []string{version}, [][]string{newPath})
			return &DependencyNode{Coord: pkg.Coord, Cycle: true}
		}
	}

	if existing, ok := e.visited[name]; ok {
		if existing.Version == version {
			return &DependencyNode{Coord: existing.Node.Coord}
		}

		e.recordConflict(name, VersionMismatch, []string{existing.Version, version}, [][]string{existing.Path, newPath})
		if !adapter.PreferNearest(existing.Depth, depth) {
			return &DependencyNode{Coord: existing.Node.Coord}
		}
		return e.expand(ctx, adapter, name, version, pkg, deps, hints, depth, path, opts)
	}

	return e.expand(ctx, adapter, name, version, pkg, deps, hints, depth, path, opts)
}

// expand records name as visited at this depth, prefetches its included
// dependencies concurrently, then recurses into them in declaration order.
func (e *Engine) expand(ctx context.Context, adapter Adapter, name, version string, pkg Package, deps []metadata.Dependency, hints coordinate.Hints, depth int, path []string, opts Options) *DependencyNode {
	node := &DependencyNode{Coord: pkg.Coord}
	newPath := appendPath(path, name)

	// A nearest-wins replacement drops the superseded version from the flat
	// list; the conflict record already explains what happened.
	if old, replaced := e.visited[name]; replaced && old.Version != version {
		key := old.Node.Coord.CanonicalKey()
		if e.seenPkg[key] {
			delete(e.seenPkg, key)
			for i, p := range e.packages {
				if p.Coord.CanonicalKey() == key {
					e.packages = append(e.packages[:i], e.packages[i+1:]...)
					break
				}
			}
		}
	}

	e.visited[name] = &visitedEntry{Version: version, Depth: depth, Path: newPath, Node: node}
	if !e.seenPkg[pkg.Coord.CanonicalKey()] {
		e.seenPkg[pkg.Coord.CanonicalKey()] = true
		e.packages = append(e.packages, pkg)
	}

	if depth >= opts.MaxDepth {
		node.Note = "depth-exceeded"
		return node
	}

	included := make([]metadata.Dependency, 0, len(deps))
	for _, d := range deps {
		if d.Optional && !opts.IncludeOptional {
			continue
		}
		include, note := adapter.Filter(d, opts)
		if !include {
			if note != "" {
				e.recordConflict(d.Name, MarkerFiltered, []string{d.Constraint}, [][]string{newPath})
			}
			continue
		}
		included = append(included, d)
	}

	reqs := make([]request, len(included))
	for i, d := range included {
		reqs[i] = request{name: d.Name, constraint: d.Constraint, hints: hints, system: adapter.IsSystemPackage(d.Name)}
	}
	pre := prefetch(ctx, adapter, reqs, opts)

	for i, d := range included {
		childNode := e.resolveOne(ctx, adapter, d.Name, d.Constraint, hints, depth+1, newPath, opts, pre[i])
		if childNode == nil {
			continue
		}
		childNode.Optional = d.Optional
		childNode.Scope = d.Scope
		childNode.Marker = d.Marker
		node.Children = append(node.Children, childNode)
	}
	return node
}

func (e *Engine) recordFailed(adapter Adapter, name, constraint string, hints coordinate.Hints, err error) {
	e.failed = append(e.failed, Failed{
		Coord: coordinate.WithConstraint{
			Ecosystem:  adapter.Ecosystem(),
			Name:       name,
			Constraint: constraint,
			Hints:      hints,
		},
		Reason: err.Error(),
	})
}

func (e *Engine) recordConflict(name string, typ ConflictType, versions []string, paths [][]string) {
	e.conflicts = append(e.conflicts, Conflict{Name: name, Type: typ, Versions: versions, RequestedBy: paths})
}

func appendPath(path []string, name string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, name)
}
