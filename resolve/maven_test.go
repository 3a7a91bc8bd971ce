package resolve

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/metadatacache"
)

const exampleMetadataXML = `<metadata>
  <groupId>com.example</groupId>
  <artifactId>thing</artifactId>
  <versioning>
    <versions>
      <version>1.0</version>
      <version>1.5</version>
      <version>2.0-SNAPSHOT</version>
    </versions>
  </versioning>
</metadata>`

const exampleThingPOM = `<project>
  <groupId>com.example</groupId>
  <artifactId>thing</artifactId>
  <version>1.5</version>
</project>`

func newMavenTestAdapter(t *testing.T) *MavenAdapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "maven-metadata.xml"):
			w.Write([]byte(exampleMetadataXML))
		case strings.HasSuffix(r.URL.Path, ".pom"):
			w.Write([]byte(exampleThingPOM))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	client := httpclient.New(httpclient.Config{MaxRetries: 1, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})
	return NewMavenAdapter(metadata.NewMavenFetcher(client, metadatacache.New(nil, 16), srv.URL))
}

func TestMavenOpenRangeSelectsNewestNonSnapshot(t *testing.T) {
	a := newMavenTestAdapter(t)

	version, pkg, _, err := a.Resolve(context.Background(), "com.example:thing", "[1.0,)", coordinate.Hints{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != "1.5" {
		t.Errorf("expected the newest non-snapshot 1.5, got %q", version)
	}
	if pkg.Coord.Version != "1.5" {
		t.Errorf("package coord version = %q, want 1.5", pkg.Coord.Version)
	}
}

func TestMavenAllowSnapshotsAdmitsSnapshotWhenOnlyMatch(t *testing.T) {
	a := newMavenTestAdapter(t)

	// Without the flag, the only version above 1.5 is a SNAPSHOT and the
	// range is unsatisfiable.
	_, _, _, err := a.Resolve(context.Background(), "com.example:thing", "(1.5,)", coordinate.Hints{}, Options{})
	if !errors.Is(err, ErrNoMatchingVersion) {
		t.Fatalf("expected no-matching-version without AllowSnapshots, got %v", err)
	}

	version, _, _, err := a.Resolve(context.Background(), "com.example:thing", "(1.5,)", coordinate.Hints{},
		Options{Maven: MavenOptions{AllowSnapshots: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != "2.0-SNAPSHOT" {
		t.Errorf("expected 2.0-SNAPSHOT with AllowSnapshots, got %q", version)
	}
}

func TestMavenExactVersionSkipsListing(t *testing.T) {
	var metadataRequests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "maven-metadata.xml"):
			metadataRequests++
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, ".pom"):
			w.Write([]byte(exampleThingPOM))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	client := httpclient.New(httpclient.Config{MaxRetries: 1, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond})
	a := NewMavenAdapter(metadata.NewMavenFetcher(client, metadatacache.New(nil, 16), srv.URL))

	version, _, _, err := a.Resolve(context.Background(), "com.example:thing", "1.5", coordinate.Hints{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != "1.5" {
		t.Errorf("version = %q, want 1.5", version)
	}
	if metadataRequests != 0 {
		t.Errorf("an exact version must not hit maven-metadata.xml, saw %d requests", metadataRequests)
	}
}
