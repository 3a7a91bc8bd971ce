package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/metadatacache"
)

const expressPackument = `{
  "name": "express",
  "versions": {
    "4.18.2": {
      "version": "4.18.2",
      "dependencies": {"body-parser": "1.20.1", "cookie": "0.5.0"},
      "dist": {
        "tarball": "https://registry.npmjs.org/express/-/express-4.18.2.tgz",
        "integrity": "sha512-deadbeef"
      }
    }
  }
}`

func TestNPMFetchVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(expressPackument))
	}))
	defer srv.Close()

	f := NewNPMFetcher(httpclient.New(httpclient.Config{}), metadatacache.New(nil, 16), srv.URL)
	info, err := f.FetchVersion(context.Background(), "express", "4.18.2", coordinate.Hints{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(info.Artifacts))
	}
	// The integrity payload is base64; it reaches the pipeline hex-encoded.
	if info.Artifacts[0].Algorithm != "sha512" || info.Artifacts[0].Checksum != "75e69d6de79f" {
		t.Errorf("expected integrity split into algorithm/hex digest, got %+v", info.Artifacts[0])
	}
	if len(info.Deps) != 2 {
		t.Fatalf("expected two dependencies, got %+v", info.Deps)
	}
}

func TestNPMFetchVersionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(expressPackument))
	}))
	defer srv.Close()

	f := NewNPMFetcher(httpclient.New(httpclient.Config{}), metadatacache.New(nil, 16), srv.URL)
	_, err := f.FetchVersion(context.Background(), "express", "9.9.9", coordinate.Hints{})
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
