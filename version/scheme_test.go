package version_test

import (
	"testing"

	"github.com/a-h/airgap/version"
	"github.com/a-h/airgap/version/pep440"
)

func TestLatestPicksHighestSatisfying(t *testing.T) {
	best, ok, err := version.Latest(pep440.Scheme{}, []string{"1.0.0", "2.4.0", "2.1.0", "3.0.0"}, ">=2,<3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || best != "2.4.0" {
		t.Errorf("got (%q, %t), want (2.4.0, true)", best, ok)
	}
}

func TestLatestExcludesPrereleases(t *testing.T) {
	best, ok, err := version.Latest(pep440.Scheme{}, []string{"1.0.0", "2.0.0rc1"}, ">=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || best != "1.0.0" {
		t.Errorf("got (%q, %t), want (1.0.0, true): prereleases are skipped unless named", best, ok)
	}
}

func TestLatestAllowsExplicitlyNamedPrerelease(t *testing.T) {
	best, ok, err := version.Latest(pep440.Scheme{}, []string{"1.0.0", "2.0.0rc1"}, "==2.0.0rc1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || best != "2.0.0rc1" {
		t.Errorf("got (%q, %t), want (2.0.0rc1, true)", best, ok)
	}
}

func TestLatestNoMatch(t *testing.T) {
	_, ok, err := version.Latest(pep440.Scheme{}, []string{"1.0.0"}, ">=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Errorf("expected ok=false when nothing satisfies the constraint")
	}
}
