package evr

import "testing"

func TestRpmvercmp(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.1", -1},
		{"1.0a", "1.0", 1},
		{"1.0", "1.0a", -1},
		{"5.5p1", "5.5p2", -1},
		{"5.5p10", "5.5p1", 1},
		{"10xyz", "10.1xyz", -1},
		{"xyz10", "xyz10.1", -1},
		{"1.0~rc1", "1.0", -1},
		{"1.0~rc1", "1.0~rc2", -1},
	}
	for _, tc := range tests {
		got := rpmvercmp(tc.a, tc.b)
		if sign(got) != sign(tc.want) {
			t.Errorf("rpmvercmp(%q,%q) = %d, want sign %d", tc.a, tc.b, got, tc.want)
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

func TestParseAndCompareEVR(t *testing.T) {
	a := Parse("2:1.0-3")
	if a.Epoch != 2 || a.Version != "1.0" || a.Release != "3" {
		t.Fatalf("unexpected parse: %+v", a)
	}
	b := Parse("1.0-4")
	if b.Epoch != 0 {
		t.Fatalf("expected default epoch 0, got %d", b.Epoch)
	}
	if Compare("2:1.0-3", "1.0-4") <= 0 {
		t.Errorf("expected higher epoch to win regardless of version/release")
	}
}

func TestSatisfies(t *testing.T) {
	s := Scheme{}
	ok, err := s.Satisfies("1.2-1", ">=1.0-1")
	if err != nil || !ok {
		t.Fatalf("expected 1.2-1 to satisfy >=1.0-1, got %v, %v", ok, err)
	}
}
