package pep440

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "2.0", -1},
		{"2.0", "2.0", 0},
		{"2.0.1", "2.0", 1},
		{"1.0rc1", "1.0", -1},
		{"1.0.post1", "1.0", 1},
		{"1.0.dev1", "1.0rc1", -1},
		{"1!1.0", "2.0", 1},
	}
	s := Scheme{}
	for _, tt := range tests {
		got, err := s.Compare(tt.a, tt.b)
		if err != nil {
			t.Errorf("Compare(%q, %q): unexpected error: %v", tt.a, tt.b, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		v, c string
		want bool
	}{
		{"2.0.0", "==2.0.0", true},
		{"2.0.0", ">=2,<3", true},
		{"3.0.0", ">=2,<3", false},
		{"2.0.1", "~=2.0.0", true},
		{"2.1.0", "~=2.0.0", false},
		{"1.0.0", "!=1.0.0", false},
	}
	s := Scheme{}
	for _, tt := range tests {
		got, err := s.Satisfies(tt.v, tt.c)
		if err != nil {
			t.Errorf("Satisfies(%q, %q): unexpected error: %v", tt.v, tt.c, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Satisfies(%q, %q) = %t, want %t", tt.v, tt.c, got, tt.want)
		}
	}
}

func TestIsPrerelease(t *testing.T) {
	s := Scheme{}
	if !s.IsPrerelease("1.0rc1") {
		t.Errorf("1.0rc1 should be a prerelease")
	}
	if s.IsPrerelease("1.0") {
		t.Errorf("1.0 should not be a prerelease")
	}
}

func TestParseRequiresDist(t *testing.T) {
	tests := []struct {
		in             string
		wantName       string
		wantConstraint string
		wantMarker     string
		wantExtras     []string
	}{
		{"Werkzeug>=2.0", "Werkzeug", ">=2.0", "", nil},
		{"requests[socks]>=2.28,<3", "requests", ">=2.28,<3", "", []string{"socks"}},
		{`pytest ; extra == "dev"`, "pytest", "", `extra == "dev"`, nil},
		{"colorama (>=0.4) ; sys_platform == 'win32'", "colorama", ">=0.4", "sys_platform == 'win32'", nil},
		{"click", "click", "", "", nil},
	}
	for _, tt := range tests {
		name, constraint, marker, extras := ParseRequiresDist(tt.in)
		if name != tt.wantName || constraint != tt.wantConstraint || marker != tt.wantMarker {
			t.Errorf("ParseRequiresDist(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tt.in, name, constraint, marker, tt.wantName, tt.wantConstraint, tt.wantMarker)
		}
		if diff := cmp.Diff(tt.wantExtras, extras); diff != "" {
			t.Errorf("ParseRequiresDist(%q) extras mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
