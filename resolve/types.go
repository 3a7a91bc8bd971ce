// Package resolve implements the ecosystem-pluggable DFS resolver: a
// single traversal algorithm shared by every ecosystem, with a thin
// per-ecosystem Adapter supplying metadata lookup, system-package detection,
// and the handful of ecosystem-specific deviations (Maven nearest-wins, npm
// hoisting, Conda build-tag filtering, YUM capability lookup).
package resolve

import (
	"errors"

	"github.com/a-h/airgap/coordinate"
)

// ErrNoMatchingVersion marks an adapter result where the registry was
// queried successfully but no version satisfied the constraint. The engine
// records it as a Missing conflict; every other adapter error (network,
// parse, unknown package) lands in Failed instead.
var ErrNoMatchingVersion = errors.New("no version satisfies constraint")

// DependencyNode is one node in a resolution tree. Nodes are
// owned exclusively by their parent; the flat Packages list in
// ResolutionResult references coordinates, not nodes.
type DependencyNode struct {
	Coord    coordinate.Coordinate `json:"coord"`
	Children []*DependencyNode     `json:"children,omitempty"`
	Optional bool                  `json:"optional,omitempty"`
	Scope    string                `json:"scope,omitempty"`  // Maven: compile/runtime/provided/test/system.
	Marker   string                `json:"marker,omitempty"` // pip only; the raw PEP 508 expression, empty if none.

	// Cycle is true for a stub node representing a detected circular
	// dependency: cycle stubs are ordinary leaf nodes with Cycle set, not
	// nodes that merely lack children, so readers can tell a stub from a
	// true leaf without guessing.
	Cycle bool `json:"cycle,omitempty"`

	// Note records why this node has no children despite the candidate
	// having real dependencies: "skipped-system", "depth-exceeded", or
	// empty. Marker-filtered dependencies get no node at all; they are
	// recorded as MarkerFiltered conflicts.
	Note string `json:"note,omitempty"`
}

// Package is one entry in ResolutionResult.Packages: a coordinate plus the
// resolved download location and checksum, if known at resolve time.
type Package struct {
	Coord     coordinate.Coordinate `json:"coord"`
	URL       string                `json:"url"`
	Checksum  string                `json:"checksum,omitempty"`
	Algorithm string                `json:"algorithm,omitempty"`
}

// ConflictType enumerates the conflict kinds recorded by the DFS algorithm
//; conflicts are recorded, never fatal by themselves.
type ConflictType string

const (
	VersionMismatch ConflictType = "version-mismatch"
	Missing         ConflictType = "missing"
	Circular        ConflictType = "circular"
	MarkerFiltered  ConflictType = "marker-filtered"
)

// Conflict records one detected conflict, with the request paths involved
// so a caller can explain it to a user.
type Conflict struct {
	Name        string       `json:"name"`
	Type        ConflictType `json:"type"`
	Versions    []string     `json:"versions"`
	RequestedBy [][]string   `json:"requested_by"`
}

// Failed records a root or transitive dependency that could not be
// resolved at all: metadata fetch failed (network, parse, unknown
// package). A constraint that no version satisfies is recorded as a
// Missing conflict instead.
type Failed struct {
	Coord  coordinate.WithConstraint `json:"coord"`
	Reason string                    `json:"reason"`
}

// ResolutionResult is the output of one resolve call. Tree is a synthetic
// root whose children are the resolved roots requested, so one call can
// carry more than one root coordinate.
type ResolutionResult struct {
	Tree      *DependencyNode `json:"tree"`
	Packages  []Package       `json:"packages"`
	Conflicts []Conflict      `json:"conflicts,omitempty"`
	Failed    []Failed        `json:"failed,omitempty"`
}

// MavenOptions configures Maven-specific resolver behavior.
type MavenOptions struct {
	// AllowSnapshots controls whether an open range like "[1.0,)" may
	// select a SNAPSHOT version; default false (selects newest
	// non-snapshot).
	AllowSnapshots bool
}

// YUMOptions configures YUM-specific resolver behavior.
type YUMOptions struct {
	// IncludeRecommends turns on weak ("Recommends") dependencies;
	// default false.
	IncludeRecommends bool
}

// Options configures one resolve() call.
type Options struct {
	TargetOS      string
	Architecture  string
	PythonVersion string

	MaxDepth            int // default 10.
	IncludeOptional     bool
	MetadataConcurrency int // default 8.

	Channels   []string          // conda.
	Registries map[string]string // npm, keyed by scope ("" = default).

	// StrictMarkers makes a marker that references an unsupported PEP 508
	// variable exclude its dependency (recorded as a MarkerFiltered
	// conflict) instead of ignoring the clause; resolution continues.
	StrictMarkers bool

	Maven MavenOptions
	YUM   YUMOptions
}

func (o Options) withDefaults() Options {
	if o.MaxDepth == 0 {
		o.MaxDepth = 10
	}
	if o.MetadataConcurrency == 0 {
		o.MetadataConcurrency = 8
	}
	return o
}

// Root is one requested root coordinate plus its version constraint.
type Root struct {
	Name       string
	Constraint string
	Hints      coordinate.Hints
}
