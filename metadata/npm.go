package metadata

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/metadatacache"
)

// NPMFetcher implements Fetcher against an npm registry packument
// endpoint: GET /{name}.
type NPMFetcher struct {
	shared
	RegistryURL string // default https://registry.npmjs.org
}

func NewNPMFetcher(http *httpclient.Client, cache *metadatacache.Cache, registryURL string) *NPMFetcher {
	if registryURL == "" {
		registryURL = "https://registry.npmjs.org"
	}
	return &NPMFetcher{shared: shared{http: http, cache: cache}, RegistryURL: registryURL}
}

type npmPackument struct {
	Name     string                    `json:"name"`
	Versions map[string]npmVersionDoc  `json:"versions"`
}

type npmVersionDoc struct {
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	OptionalDeps    map[string]string `json:"optionalDependencies"`
	PeerDeps        map[string]string `json:"peerDependencies"`
	Dist            npmDist           `json:"dist"`
	OS              []string          `json:"os"`
	CPU              []string         `json:"cpu"`
}

type npmDist struct {
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity"`
	Shasum    string `json:"shasum"`
}

func (f *NPMFetcher) registryURL(hints coordinate.Hints) string {
	if hints.Registry != "" {
		return hints.Registry
	}
	return f.RegistryURL
}

func (f *NPMFetcher) fetchPackument(ctx context.Context, name string, hints coordinate.Hints) (npmPackument, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(f.registryURL(hints), "/"), name)
	body, err := f.fetchCached(ctx, coordinate.NPM, url, metadatacache.DefaultTTL["npm"])
	if err != nil {
		return npmPackument{}, err
	}
	var pkg npmPackument
	if err := decodeJSON(body, &pkg); err != nil {
		return npmPackument{}, err
	}
	return pkg, nil
}

func (f *NPMFetcher) AllVersions(ctx context.Context, name string, hints coordinate.Hints) ([]string, error) {
	pkg, err := f.fetchPackument(ctx, name, hints)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(pkg.Versions))
	for v := range pkg.Versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (f *NPMFetcher) FetchVersion(ctx context.Context, name, version string, hints coordinate.Hints) (VersionInfo, error) {
	pkg, err := f.fetchPackument(ctx, name, hints)
	if err != nil {
		return VersionInfo{}, err
	}
	doc, ok := pkg.Versions[version]
	if !ok {
		return VersionInfo{}, errNotFound{url: fmt.Sprintf("%s@%s", name, version)}
	}

	algo, digest := "sha1", doc.Dist.Shasum
	if doc.Dist.Integrity != "" {
		if a, d := parseIntegrity(doc.Dist.Integrity); d != "" {
			algo, digest = a, d
		}
	}

	info := VersionInfo{
		Name:    name,
		Version: version,
		Artifacts: []Artifact{{
			Filename:  fmt.Sprintf("%s-%s.tgz", sanitizeNPMName(name), version),
			URL:       doc.Dist.Tarball,
			Checksum:  digest,
			Algorithm: algo,
			Platform:  strings.Join(doc.OS, ","),
		}},
	}
	for n, c := range doc.Dependencies {
		info.Deps = append(info.Deps, Dependency{Name: n, Constraint: c})
	}
	for n, c := range doc.OptionalDeps {
		info.Deps = append(info.Deps, Dependency{Name: n, Constraint: c, Optional: true})
	}
	sort.Slice(info.Deps, func(i, j int) bool { return info.Deps[i].Name < info.Deps[j].Name })
	return info, nil
}

// parseIntegrity splits a Subresource Integrity string ("sha512-base64...")
// into algorithm and hex digest; npm's dist.integrity favours sha512 over
// the legacy dist.shasum (sha1) field when both are present. The base64
// payload is re-encoded as hex so every checksum in the pipeline compares
// the same way.
func parseIntegrity(integrity string) (algo, digest string) {
	parts := strings.SplitN(integrity, "-", 2)
	if len(parts) != 2 {
		return "", ""
	}
	raw, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ""
	}
	return parts[0], hex.EncodeToString(raw)
}

func sanitizeNPMName(name string) string {
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
