package mavenver

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.1", -1},
		{"1.1", "1.0", 1},
		{"1.0-alpha", "1.0", -1},
		{"1.0-beta", "1.0-alpha", 1},
		{"1.0-rc1", "1.0-beta", 1},
		{"1.0", "1.0-sp", -1},
		{"1.0.0", "1.0", 0},
		{"2.0", "10.0", -1},
	}
	for _, tc := range tests {
		got := Compare(tc.a, tc.b)
		if sign(got) != sign(tc.want) {
			t.Errorf("Compare(%q, %q) = %d, want sign %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestSatisfiesRange(t *testing.T) {
	s := Scheme{}
	tests := []struct {
		v, c string
		want bool
	}{
		{"1.5", "[1.0,2.0)", true},
		{"2.0", "[1.0,2.0)", false},
		{"2.0", "[1.0,2.0]", true},
		{"0.9", "[1.0,2.0)", false},
		{"5.0", "[1.0,)", true},
		{"0.5", "(,1.0]", true},
		{"1.0", "(,1.0)", false},
	}
	for _, tc := range tests {
		got, err := s.Satisfies(tc.v, tc.c)
		if err != nil {
			t.Fatalf("Satisfies(%q,%q) error: %v", tc.v, tc.c, err)
		}
		if got != tc.want {
			t.Errorf("Satisfies(%q,%q) = %v, want %v", tc.v, tc.c, got, tc.want)
		}
	}
}
