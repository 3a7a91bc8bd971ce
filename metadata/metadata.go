// Package metadata implements one fetcher per ecosystem: PyPI JSON, npm
// packument, Maven POM, Conda repodata, YUM repomd/primary.xml, and an
// OCI registry fetcher for docker. Every fetcher except docker shares one
// httpclient.Client and consults the same metadatacache.Cache keyed by
// (ecosystem, url); the docker fetcher uses go-containerregistry's own
// transport and no cache.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/metadatacache"
)

// Artifact is one downloadable file belonging to a resolved version:
// a wheel, tarball, POM-declared jar, conda package, or rpm.
type Artifact struct {
	Filename     string
	URL          string
	Checksum     string // hex digest, empty if unknown.
	Algorithm    string // "sha256", "sha1", etc.
	Size         int64
	PythonTag    string // pip only.
	Platform     string // pip/conda/yum arch constraint, empty means any.
	BuildString  string // conda only.
}

// Dependency is one edge out of a resolved version, before marker/scope
// filtering is applied by the resolver.
type Dependency struct {
	Name       string
	Constraint string
	Marker     string // pip only; empty means unconditional.
	Scope      string // maven only: compile/runtime/provided/test/system.
	Optional   bool
	Extras     []string
}

// VersionInfo is what a fetcher returns for one resolved (name, version):
// its dependency edges and the artifacts available for download.
type VersionInfo struct {
	Name       string
	Version    string
	Artifacts  []Artifact
	Deps       []Dependency
}

// Fetcher is the common contract resolvers depend on: per-version
// metadata plus the AllVersions listing used by the resolver's "select
// highest satisfying" step.
type Fetcher interface {
	// FetchVersion returns dependency/artifact metadata for one resolved
	// version of name.
	FetchVersion(ctx context.Context, name, version string, hints coordinate.Hints) (VersionInfo, error)
	// AllVersions returns every version known for name, for the resolver's
	// version.Latest selection.
	AllVersions(ctx context.Context, name string, hints coordinate.Hints) ([]string, error)
}

// shared holds the dependencies every fetcher is built from.
type shared struct {
	http  *httpclient.Client
	cache *metadatacache.Cache
}

func (s shared) fetchCached(ctx context.Context, ecosystem coordinate.Ecosystem, url string, ttl time.Duration) ([]byte, error) {
	key := metadatacache.Key(string(ecosystem), url)
	body, _, err := s.cache.Fetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		resp, err := s.http.Get(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("metadata: get %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == 404 {
			return nil, errNotFound{url: url}
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("metadata: get %s: http %d", url, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	return body, err
}

type errNotFound struct{ url string }

func (e errNotFound) Error() string { return fmt.Sprintf("metadata: not found: %s", e.url) }

// IsNotFound reports whether err represents an upstream 404, for resolvers
// to distinguish "missing" from other fetch failures.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("metadata: decode json: %w", err)
	}
	return nil
}
