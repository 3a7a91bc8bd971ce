package resolve

import (
	"testing"

	"github.com/a-h/airgap/coordinate"
	"github.com/google/go-cmp/cmp"
)

func npmCoord(name, version string) coordinate.Coordinate {
	return coordinate.Coordinate{Ecosystem: coordinate.NPM, Name: name, Version: version}
}

func TestHoistFlatWhenNoConflicts(t *testing.T) {
	// express -> accepts, body-parser; body-parser -> accepts (same version).
	tree := &DependencyNode{
		Children: []*DependencyNode{
			{
				Coord: npmCoord("express", "4.18.2"),
				Children: []*DependencyNode{
					{Coord: npmCoord("accepts", "1.3.8")},
					{
						Coord:    npmCoord("body-parser", "1.20.1"),
						Children: []*DependencyNode{{Coord: npmCoord("accepts", "1.3.8")}},
					},
				},
			},
		},
	}

	modules := Hoist(tree)
	for _, m := range modules {
		if m.Nested {
			t.Errorf("no version conflicts exist, but %s was nested at %v", m.Coord, m.Path)
		}
		if len(m.Path) != 1 {
			t.Errorf("expected %s at top level, got path %v", m.Coord, m.Path)
		}
	}
}

func TestHoistNestsConflictingVersion(t *testing.T) {
	// a depends on qs@6.11.0; b depends on qs@6.5.3: the first claims the
	// top level, the second nests under its parent.
	tree := &DependencyNode{
		Children: []*DependencyNode{
			{
				Coord:    npmCoord("a", "1.0.0"),
				Children: []*DependencyNode{{Coord: npmCoord("qs", "6.11.0")}},
			},
			{
				Coord:    npmCoord("b", "1.0.0"),
				Children: []*DependencyNode{{Coord: npmCoord("qs", "6.5.3")}},
			},
		},
	}

	modules := Hoist(tree)
	byKey := map[string]HoistedModule{}
	for _, m := range modules {
		byKey[m.Coord.Name+"@"+m.Coord.Version] = m
	}

	if m := byKey["qs@6.11.0"]; m.Nested || len(m.Path) != 1 {
		t.Errorf("qs@6.11.0 should be hoisted to top level, got %+v", m)
	}
	m := byKey["qs@6.5.3"]
	if !m.Nested {
		t.Fatalf("qs@6.5.3 should be nested, got %+v", m)
	}
	if diff := cmp.Diff([]string{"b", "qs"}, m.Path); diff != "" {
		t.Errorf("nested path mismatch (-want +got):\n%s", diff)
	}
}

func TestHoistSkipsCycleStubs(t *testing.T) {
	tree := &DependencyNode{
		Children: []*DependencyNode{
			{
				Coord:    npmCoord("a", "1.0.0"),
				Children: []*DependencyNode{{Coord: npmCoord("a", "1.0.0"), Cycle: true}},
			},
		},
	}
	modules := Hoist(tree)
	if len(modules) != 1 {
		t.Errorf("cycle stubs must not be placed, got %v", modules)
	}
}
