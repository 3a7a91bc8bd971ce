package npmsemver

import "testing"

func TestSatisfies(t *testing.T) {
	tests := []struct {
		v, c string
		want bool
	}{
		{"4.18.2", "^4.18.0", true},
		{"5.0.0", "^4.18.0", false},
		{"1.2.9", "~1.2.3", true},
		{"1.3.0", "~1.2.3", false},
		{"2.5.0", ">=2, <3", true},
		{"1.5.0", "1.x", true},
		{"2.0.0", "1.x", false},
		{"1.5.0", "1.2.3 - 1.9.0", true},
		{"3.0.0", "^1.0.0 || ^3.0.0", true},
		{"2.0.0", "*", true},
		{"2.0.0", "", true},
		{"2.0.0", "latest", true},
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

func TestCompare(t *testing.T) {
	s := Scheme{}
	got, err := s.Compare("v1.2.3", "1.2.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -1 {
		t.Errorf("Compare(v1.2.3, 1.2.4) = %d, want -1", got)
	}
}

func TestIsPrerelease(t *testing.T) {
	s := Scheme{}
	if !s.IsPrerelease("1.0.0-beta.1") {
		t.Errorf("1.0.0-beta.1 should be a prerelease")
	}
	if s.IsPrerelease("1.0.0") {
		t.Errorf("1.0.0 should not be a prerelease")
	}
}
