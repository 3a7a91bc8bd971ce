package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/metadatacache"
	"github.com/a-h/airgap/version/pep440"
)

// PyPIFetcher implements Fetcher against the PyPI JSON API:
// GET /pypi/{name}/json for full history, GET /pypi/{name}/{version}/json
// for one version.
type PyPIFetcher struct {
	shared
	BaseURL string // default https://pypi.org
}

func NewPyPIFetcher(http *httpclient.Client, cache *metadatacache.Cache, baseURL string) *PyPIFetcher {
	if baseURL == "" {
		baseURL = "https://pypi.org"
	}
	return &PyPIFetcher{shared: shared{http: http, cache: cache}, BaseURL: baseURL}
}

type pypiResponse struct {
	Info struct {
		Name          string   `json:"name"`
		RequiresDist  []string `json:"requires_dist"`
	} `json:"info"`
	Releases map[string][]pypiFile `json:"releases"`
	URLs     []pypiFile            `json:"urls"`
}

type pypiFile struct {
	Filename      string            `json:"filename"`
	URL           string            `json:"url"`
	Digests       map[string]string `json:"digests"`
	Size          int64             `json:"size"`
	PythonVersion string            `json:"python_version"`
	PackageType   string            `json:"packagetype"`
	Yanked        bool              `json:"yanked"`
}

func (f *PyPIFetcher) AllVersions(ctx context.Context, name string, hints coordinate.Hints) ([]string, error) {
	url := fmt.Sprintf("%s/pypi/%s/json", f.BaseURL, name)
	body, err := f.fetchCached(ctx, coordinate.Pip, url, metadatacache.DefaultTTL["pypi"])
	if err != nil {
		return nil, err
	}
	var resp pypiResponse
	if err := decodeJSON(body, &resp); err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(resp.Releases))
	for v, files := range resp.Releases {
		if allYanked(files) {
			continue
		}
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func allYanked(files []pypiFile) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if !f.Yanked {
			return false
		}
	}
	return true
}

func (f *PyPIFetcher) FetchVersion(ctx context.Context, name, version string, hints coordinate.Hints) (VersionInfo, error) {
	url := fmt.Sprintf("%s/pypi/%s/%s/json", f.BaseURL, name, version)
	body, err := f.fetchCached(ctx, coordinate.Pip, url, metadatacache.DefaultTTL["pypi"])
	if err != nil {
		return VersionInfo{}, err
	}
	var resp pypiResponse
	if err := decodeJSON(body, &resp); err != nil {
		return VersionInfo{}, err
	}

	info := VersionInfo{Name: name, Version: version}
	for _, f := range resp.URLs {
		if f.Yanked {
			continue
		}
		info.Artifacts = append(info.Artifacts, pypiFileToArtifact(f))
	}
	for _, rd := range resp.Info.RequiresDist {
		dep, ok := pypiParseRequiresDist(rd)
		if ok {
			info.Deps = append(info.Deps, dep)
		}
	}
	return info, nil
}

func pypiFileToArtifact(f pypiFile) Artifact {
	algo, digest := "sha256", f.Digests["sha256"]
	if digest == "" {
		for a, d := range f.Digests {
			algo, digest = a, d
			break
		}
	}
	return Artifact{
		Filename:  f.Filename,
		URL:       f.URL,
		Checksum:  digest,
		Algorithm: algo,
		Size:      f.Size,
		PythonTag: f.PythonVersion,
		Platform:  platformFromWheelFilename(f.Filename),
	}
}

// platformFromWheelFilename extracts the platform tag from a wheel filename
// ({name}-{version}(-{build})?-{python}-{abi}-{platform}.whl), empty for
// sdists which carry no platform constraint.
func platformFromWheelFilename(filename string) string {
	if !strings.HasSuffix(filename, ".whl") {
		return ""
	}
	trimmed := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(trimmed, "-")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-1]
}

// pypiParseRequiresDist wraps version/pep440's requires_dist grammar
// (name/constraint/marker/extras split); it's a thin adapter so the fetcher
// returns ecosystem-neutral Dependency values.
func pypiParseRequiresDist(requiresDist string) (Dependency, bool) {
	name, constraint, marker, extras := pep440.ParseRequiresDist(requiresDist)
	if name == "" {
		return Dependency{}, false
	}
	return Dependency{
		Name:       name,
		Constraint: constraint,
		Marker:     marker,
		Extras:     extras,
	}, true
}
