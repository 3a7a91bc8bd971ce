package metadata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/marker"
	"github.com/a-h/airgap/metadatacache"
	"github.com/klauspost/compress/zstd"
)

// CondaFetcher implements Fetcher against a Conda channel's repodata
// index: GET {channel}/{subdir}/repodata.json.zst, falling back to the
// uncompressed .json when the .zst is not found. It queries only its own
// channel; the per-label RC fallback is a second CondaFetcher that
// resolve.CondaAdapter consults.
type CondaFetcher struct {
	shared
	DefaultChannel string // default https://conda.anaconda.org
	PythonVersion  string // requested interpreter, for build-tag filtering.
	TargetSubdir   string
}

func NewCondaFetcher(http *httpclient.Client, cache *metadatacache.Cache, defaultChannel, pythonVersion, targetSubdir string) *CondaFetcher {
	if defaultChannel == "" {
		defaultChannel = "https://conda.anaconda.org"
	}
	return &CondaFetcher{
		shared:         shared{http: http, cache: cache},
		DefaultChannel: defaultChannel,
		PythonVersion:  pythonVersion,
		TargetSubdir:   targetSubdir,
	}
}

type condaRepodata struct {
	Packages         map[string]condaPackage `json:"packages"`
	PackagesConda    map[string]condaPackage `json:"packages.conda"`
}

type condaPackage struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Build        string   `json:"build"`
	BuildNumber  int      `json:"build_number"`
	Depends      []string `json:"depends"`
	Size         int64    `json:"size"`
	SHA256       string   `json:"sha256"`
	MD5          string   `json:"md5"`
	Subdir       string   `json:"subdir"`
}

func (f *CondaFetcher) channelAndSubdir(hints coordinate.Hints) (channel, subdir string) {
	channel = f.DefaultChannel
	if hints.Channel != "" {
		channel = hints.Channel
	}
	subdir = f.TargetSubdir
	if hints.Subdir != "" {
		subdir = hints.Subdir
	}
	if subdir == "" {
		subdir = "linux-64"
	}
	return channel, subdir
}

func (f *CondaFetcher) fetchRepodata(ctx context.Context, hints coordinate.Hints) (condaRepodata, error) {
	channel, subdir := f.channelAndSubdir(hints)
	base := fmt.Sprintf("%s/%s/repodata.json", strings.TrimRight(channel, "/"), subdir)

	body, err := f.fetchCached(ctx, coordinate.Conda, base+".zst", metadatacache.DefaultTTL["conda"])
	if err == nil {
		decoded, derr := decompressZstd(body)
		if derr != nil {
			return condaRepodata{}, fmt.Errorf("metadata: decompress repodata: %w", derr)
		}
		var rd condaRepodata
		if jerr := decodeJSON(decoded, &rd); jerr != nil {
			return condaRepodata{}, jerr
		}
		return rd, nil
	}
	if !IsNotFound(err) {
		return condaRepodata{}, err
	}

	body, err = f.fetchCached(ctx, coordinate.Conda, base, metadatacache.DefaultTTL["conda"])
	if err != nil {
		return condaRepodata{}, err
	}
	var rd condaRepodata
	if jerr := decodeJSON(body, &rd); jerr != nil {
		return condaRepodata{}, jerr
	}
	return rd, nil
}

func decompressZstd(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func (f *CondaFetcher) candidatesByName(rd condaRepodata, name string) []struct {
	filename string
	pkg      condaPackage
} {
	var out []struct {
		filename string
		pkg      condaPackage
	}
	for fn, pkg := range rd.Packages {
		if pkg.Name == name {
			out = append(out, struct {
				filename string
				pkg      condaPackage
			}{fn, pkg})
		}
	}
	for fn, pkg := range rd.PackagesConda {
		if pkg.Name == name {
			out = append(out, struct {
				filename string
				pkg      condaPackage
			}{fn, pkg})
		}
	}
	return out
}

func (f *CondaFetcher) AllVersions(ctx context.Context, name string, hints coordinate.Hints) ([]string, error) {
	rd, err := f.fetchRepodata(ctx, hints)
	if err != nil {
		return nil, err
	}
	_, subdir := f.channelAndSubdir(hints)
	seen := map[string]bool{}
	var versions []string
	for _, c := range f.candidatesByName(rd, name) {
		if !marker.CondaBuildTag(c.pkg.Build, subdir, c.pkg.Subdir, f.PythonVersion) {
			continue
		}
		if !seen[c.pkg.Version] {
			seen[c.pkg.Version] = true
			versions = append(versions, c.pkg.Version)
		}
	}
	sort.Strings(versions)
	return versions, nil
}

func (f *CondaFetcher) FetchVersion(ctx context.Context, name, version string, hints coordinate.Hints) (VersionInfo, error) {
	rd, err := f.fetchRepodata(ctx, hints)
	if err != nil {
		return VersionInfo{}, err
	}
	_, subdir := f.channelAndSubdir(hints)
	channel, _ := f.channelAndSubdir(hints)

	var best *condaPackage
	var bestFilename string
	for _, c := range f.candidatesByName(rd, name) {
		if c.pkg.Version != version {
			continue
		}
		if !marker.CondaBuildTag(c.pkg.Build, subdir, c.pkg.Subdir, f.PythonVersion) {
			continue
		}
		if best == nil || c.pkg.BuildNumber > best.BuildNumber {
			pkg := c.pkg
			best = &pkg
			bestFilename = c.filename
		}
	}
	if best == nil {
		return VersionInfo{}, errNotFound{url: fmt.Sprintf("%s=%s for subdir %s", name, version, subdir)}
	}

	info := VersionInfo{Name: name, Version: version}
	info.Artifacts = []Artifact{{
		Filename:    bestFilename,
		URL:         fmt.Sprintf("%s/%s/%s", strings.TrimRight(channel, "/"), subdir, bestFilename),
		Checksum:    best.SHA256,
		Algorithm:   "sha256",
		Size:        best.Size,
		BuildString: best.Build,
		Platform:    best.Subdir,
	}}
	for _, dep := range best.Depends {
		name, constraint := splitCondaDepend(dep)
		info.Deps = append(info.Deps, Dependency{Name: name, Constraint: constraint})
	}
	return info, nil
}

// splitCondaDepend splits a conda "depends" entry ("numpy >=1.20,<2" or
// "python 3.12.*") into name and constraint; conda separates name and
// version with a space rather than an operator prefix.
func splitCondaDepend(dep string) (name, constraint string) {
	dep = strings.TrimSpace(dep)
	idx := strings.IndexByte(dep, ' ')
	if idx < 0 {
		return dep, ""
	}
	return dep[:idx], strings.TrimSpace(dep[idx+1:])
}
