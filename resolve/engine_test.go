package resolve

import (
	"context"
	"fmt"
	"testing"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/metadata"
	"github.com/google/go-cmp/cmp"
)

// fakeAdapter serves canned metadata. Constraints are either empty (any,
// picks the highest listed version) or "==v" exact pins, which is all the
// traversal tests need.
type fakeAdapter struct {
	eco      coordinate.Ecosystem
	versions map[string][]string                       // name -> versions, ascending.
	deps     map[string][]metadata.Dependency          // "name@version" -> edges.
	system   map[string]bool
	nearest  bool
}

func (a *fakeAdapter) Ecosystem() coordinate.Ecosystem {
	if a.eco == "" {
		return coordinate.Pip
	}
	return a.eco
}

func (a *fakeAdapter) IsSystemPackage(name string) bool { return a.system[name] }

func (a *fakeAdapter) Resolve(ctx context.Context, name, constraint string, hints coordinate.Hints, opts Options) (string, Package, []metadata.Dependency, error) {
	versions, ok := a.versions[name]
	if !ok {
		return "", Package{}, nil, fmt.Errorf("not found: %s", name)
	}
	var chosen string
	for _, v := range versions {
		if constraint == "" || constraint == "=="+v {
			chosen = v
		}
	}
	if chosen == "" {
		return "", Package{}, nil, fmt.Errorf("no version of %s satisfies %q: %w", name, constraint, ErrNoMatchingVersion)
	}
	pkg := Package{
		Coord: coordinate.Coordinate{Ecosystem: a.Ecosystem(), Name: name, Version: chosen},
		URL:   fmt.Sprintf("https://example.com/%s-%s.tar.gz", name, chosen),
	}
	return chosen, pkg, a.deps[name+"@"+chosen], nil
}

func (a *fakeAdapter) Filter(dep metadata.Dependency, opts Options) (bool, string) {
	if dep.Marker == "filtered" {
		return false, dep.Marker
	}
	return true, ""
}

func (a *fakeAdapter) PreferNearest(existingDepth, newDepth int) bool {
	return a.nearest && newDepth < existingDepth
}

func coords(packages []Package) []string {
	out := make([]string, len(packages))
	for i, p := range packages {
		out[i] = p.Coord.Name + "@" + p.Coord.Version
	}
	return out
}

func TestResolveFlattensTransitiveDeps(t *testing.T) {
	adapter := &fakeAdapter{
		versions: map[string][]string{"a": {"1.0"}, "b": {"1.0"}, "c": {"1.0"}},
		deps: map[string][]metadata.Dependency{
			"a@1.0": {{Name: "b"}, {Name: "c"}},
			"b@1.0": {{Name: "c"}},
		},
	}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "a"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"a@1.0", "b@1.0", "c@1.0"}, coords(result.Packages)); diff != "" {
		t.Errorf("packages mismatch (-want +got):\n%s", diff)
	}
	if len(result.Conflicts) != 0 || len(result.Failed) != 0 {
		t.Errorf("expected clean resolution, got conflicts=%v failed=%v", result.Conflicts, result.Failed)
	}

	// Every coordinate reachable in the tree must appear in the flat list.
	inPackages := map[string]bool{}
	for _, p := range result.Packages {
		inPackages[p.Coord.CanonicalKey()] = true
	}
	var walk func(n *DependencyNode)
	walk = func(n *DependencyNode) {
		for _, c := range n.Children {
			if !c.Cycle && c.Note == "" && !inPackages[c.Coord.CanonicalKey()] {
				t.Errorf("tree coord %s missing from packages", c.Coord)
			}
			walk(c)
		}
	}
	walk(result.Tree)
}

func TestResolveDepthLimit(t *testing.T) {
	adapter := &fakeAdapter{versions: map[string][]string{}, deps: map[string][]metadata.Dependency{}}
	// A chain one longer than the depth limit.
	for i := 0; i <= 4; i++ {
		name := fmt.Sprintf("p%d", i)
		adapter.versions[name] = []string{"1.0"}
		adapter.deps[name+"@1.0"] = []metadata.Dependency{{Name: fmt.Sprintf("p%d", i+1)}}
	}
	adapter.versions["p5"] = []string{"1.0"}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "p0"}}, Options{MaxDepth: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	node := result.Tree.Children[0]
	depth := 0
	for len(node.Children) > 0 {
		node = node.Children[0]
		depth++
	}
	if depth != 3 {
		t.Errorf("expected traversal to stop at depth 3, got %d", depth)
	}
	if node.Note != "depth-exceeded" {
		t.Errorf("expected deepest node to carry depth-exceeded, got %q", node.Note)
	}
}

func TestResolveCycle(t *testing.T) {
	adapter := &fakeAdapter{
		versions: map[string][]string{"a": {"1.0"}, "b": {"1.0"}},
		deps: map[string][]metadata.Dependency{
			"a@1.0": {{Name: "b"}},
			"b@1.0": {{Name: "a"}},
		},
	}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "a"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stub := result.Tree.Children[0].Children[0].Children[0]
	if !stub.Cycle {
		t.Errorf("expected a cycle stub node, got %+v", stub)
	}
	if len(stub.Children) != 0 {
		t.Errorf("cycle stub must not recurse")
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Type != Circular {
		t.Errorf("expected one circular conflict, got %v", result.Conflicts)
	}
}

func TestResolveVersionMismatchFirstFit(t *testing.T) {
	adapter := &fakeAdapter{
		versions: map[string][]string{"a": {"1.0"}, "b": {"1.0"}, "c": {"1.0", "2.0"}},
		deps: map[string][]metadata.Dependency{
			"a@1.0": {{Name: "c", Constraint: "==1.0"}},
			"b@1.0": {{Name: "c", Constraint: "==2.0"}},
		},
	}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "a"}, {Name: "b"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"a@1.0", "c@1.0", "b@1.0"}, coords(result.Packages)); diff != "" {
		t.Errorf("packages mismatch (first-fit keeps c@1.0) (-want +got):\n%s", diff)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %v", result.Conflicts)
	}
	c := result.Conflicts[0]
	if c.Type != VersionMismatch || c.Name != "c" {
		t.Errorf("unexpected conflict: %+v", c)
	}
	if diff := cmp.Diff([]string{"1.0", "2.0"}, c.Versions); diff != "" {
		t.Errorf("conflict versions mismatch (-want +got):\n%s", diff)
	}
	if len(c.RequestedBy) != 2 {
		t.Errorf("expected both request paths, got %v", c.RequestedBy)
	}
}

func TestResolveNearestWins(t *testing.T) {
	adapter := &fakeAdapter{
		eco:     coordinate.Maven,
		nearest: true,
		versions: map[string][]string{
			"a": {"1.0"}, "mid": {"1.0"}, "b": {"1.0"}, "c": {"1.0", "2.0"},
		},
		deps: map[string][]metadata.Dependency{
			"a@1.0":   {{Name: "mid"}},
			"mid@1.0": {{Name: "c", Constraint: "==1.0"}},
			"b@1.0":   {{Name: "c", Constraint: "==2.0"}},
		},
	}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "a"}, {Name: "b"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// c is first seen at depth 2 under a->mid, then re-requested at depth 1
	// under b: the shallower request wins and replaces c@1.0.
	if diff := cmp.Diff([]string{"a@1.0", "mid@1.0", "b@1.0", "c@2.0"}, coords(result.Packages)); diff != "" {
		t.Errorf("packages mismatch (-want +got):\n%s", diff)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Type != VersionMismatch {
		t.Errorf("expected the superseded version recorded as a mismatch, got %v", result.Conflicts)
	}
}

func TestResolveMissingDependencyIsRecordedNotFatal(t *testing.T) {
	adapter := &fakeAdapter{
		versions: map[string][]string{"a": {"1.0"}, "b": {"1.0"}},
		deps: map[string][]metadata.Dependency{
			"a@1.0": {{Name: "ghost"}},
		},
	}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "a"}, {Name: "b"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].Coord.Name != "ghost" {
		t.Errorf("expected ghost in failed, got %v", result.Failed)
	}
	if diff := cmp.Diff([]string{"a@1.0", "b@1.0"}, coords(result.Packages)); diff != "" {
		t.Errorf("unrelated roots should still resolve (-want +got):\n%s", diff)
	}
}

func TestResolveUnsatisfiableConstraintRecordsMissingConflict(t *testing.T) {
	adapter := &fakeAdapter{
		versions: map[string][]string{"a": {"1.0"}, "c": {"1.0"}},
		deps: map[string][]metadata.Dependency{
			"a@1.0": {{Name: "c", Constraint: "==9.9"}},
		},
	}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "a"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %v", result.Conflicts)
	}
	c := result.Conflicts[0]
	if c.Type != Missing || c.Name != "c" {
		t.Errorf("expected a missing conflict for c, got %+v", c)
	}
	if diff := cmp.Diff([]string{"==9.9"}, c.Versions); diff != "" {
		t.Errorf("conflict should carry the unsatisfied constraint (-want +got):\n%s", diff)
	}
	// The registry knew the package, so this is a conflict, not a fetch
	// failure.
	if len(result.Failed) != 0 {
		t.Errorf("expected no failed entries, got %v", result.Failed)
	}
	if diff := cmp.Diff([]string{"a@1.0"}, coords(result.Packages)); diff != "" {
		t.Errorf("packages mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveSystemPackageSkipped(t *testing.T) {
	adapter := &fakeAdapter{
		versions: map[string][]string{"a": {"1.0"}},
		deps: map[string][]metadata.Dependency{
			"a@1.0": {{Name: "libc"}},
		},
		system: map[string]bool{"libc": true},
	}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "a"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child := result.Tree.Children[0].Children[0]
	if child.Note != "skipped-system" {
		t.Errorf("expected skipped-system stub, got %+v", child)
	}
	if diff := cmp.Diff([]string{"a@1.0"}, coords(result.Packages)); diff != "" {
		t.Errorf("system packages must not enter the flat list (-want +got):\n%s", diff)
	}
}

func TestResolveMarkerFilteredDependency(t *testing.T) {
	adapter := &fakeAdapter{
		versions: map[string][]string{"a": {"1.0"}, "winonly": {"1.0"}},
		deps: map[string][]metadata.Dependency{
			"a@1.0": {{Name: "winonly", Marker: "filtered"}},
		},
	}

	result, err := NewEngine().Resolve(context.Background(), adapter, []Root{{Name: "a"}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Type != MarkerFiltered {
		t.Errorf("expected a marker-filtered note, got %v", result.Conflicts)
	}
	if diff := cmp.Diff([]string{"a@1.0"}, coords(result.Packages)); diff != "" {
		t.Errorf("filtered deps must not be resolved (-want +got):\n%s", diff)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	adapter := &fakeAdapter{
		versions: map[string][]string{"a": {"1.0"}, "b": {"1.0"}, "c": {"1.0", "2.0"}, "d": {"1.0"}},
		deps: map[string][]metadata.Dependency{
			"a@1.0": {{Name: "c", Constraint: "==1.0"}, {Name: "d"}},
			"b@1.0": {{Name: "c", Constraint: "==2.0"}},
		},
	}
	roots := []Root{{Name: "a"}, {Name: "b"}}

	first, err := NewEngine().Resolve(context.Background(), adapter, roots, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := NewEngine().Resolve(context.Background(), adapter, roots, Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("resolution is not deterministic (-first +again):\n%s", diff)
		}
	}
}
