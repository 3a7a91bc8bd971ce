package metadata

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/metadatacache"
	"github.com/ulikunitz/xz"
)

// YUMFetcher implements Fetcher against a YUM/DNF repository: it fetches
// {repo}/repodata/repomd.xml, then the "primary" file it
// points at (gzip or xz compressed), parsing it into an in-memory index by
// both package name and provided capability.
type YUMFetcher struct {
	shared
	RepoURL string
}

func NewYUMFetcher(http *httpclient.Client, cache *metadatacache.Cache, repoURL string) *YUMFetcher {
	return &YUMFetcher{shared: shared{http: http, cache: cache}, RepoURL: repoURL}
}

type repomd struct {
	Data []repomdData `xml:"data"`
}

type repomdData struct {
	Type     string `xml:"type,attr"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
}

type primaryMetadata struct {
	Packages []primaryPackage `xml:"package"`
}

type primaryPackage struct {
	Name    string `xml:"name"`
	Arch    string `xml:"arch"`
	Version struct {
		Epoch string `xml:"epoch,attr"`
		Ver   string `xml:"ver,attr"`
		Rel   string `xml:"rel,attr"`
	} `xml:"version"`
	Checksum struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"checksum"`
	Location struct {
		Href string `xml:"href,attr"`
	} `xml:"location"`
	Size struct {
		Package int64 `xml:"package,attr"`
	} `xml:"size"`
	Format struct {
		Requires   []yumEntry `xml:"requires>entry"`
		Recommends []yumEntry `xml:"recommends>entry"`
		Provides   []yumEntry `xml:"provides>entry"`
	} `xml:"format"`
}

type yumEntry struct {
	Name string `xml:"name,attr"`
	Flags string `xml:"flags,attr"`
	Ver  string `xml:"ver,attr"`
}

// yumIndex is the per-repo in-memory lookup built from one primary.xml fetch:
// name -> packages, and capability -> providing packages.
type yumIndex struct {
	byName       map[string][]primaryPackage
	byCapability map[string][]primaryPackage
}

func (f *YUMFetcher) buildIndex(ctx context.Context) (yumIndex, error) {
	repomdURL := fmt.Sprintf("%s/repodata/repomd.xml", strings.TrimRight(f.RepoURL, "/"))
	body, err := f.fetchCached(ctx, coordinate.YUM, repomdURL, metadatacache.DefaultTTL["yum"])
	if err != nil {
		return yumIndex{}, err
	}
	var rm repomd
	if err := xml.Unmarshal(body, &rm); err != nil {
		return yumIndex{}, fmt.Errorf("metadata: decode repomd: %w", err)
	}

	var primaryHref string
	for _, d := range rm.Data {
		if d.Type == "primary" {
			primaryHref = d.Location.Href
			break
		}
	}
	if primaryHref == "" {
		return yumIndex{}, fmt.Errorf("metadata: repomd has no primary data entry")
	}

	primaryURL := fmt.Sprintf("%s/%s", strings.TrimRight(f.RepoURL, "/"), primaryHref)
	raw, err := f.fetchCached(ctx, coordinate.YUM, primaryURL, metadatacache.DefaultTTL["yum"])
	if err != nil {
		return yumIndex{}, err
	}
	decoded, err := decompressPrimary(primaryHref, raw)
	if err != nil {
		return yumIndex{}, fmt.Errorf("metadata: decompress primary: %w", err)
	}

	var pm primaryMetadata
	if err := xml.Unmarshal(decoded, &pm); err != nil {
		return yumIndex{}, fmt.Errorf("metadata: decode primary.xml: %w", err)
	}

	idx := yumIndex{byName: map[string][]primaryPackage{}, byCapability: map[string][]primaryPackage{}}
	for _, p := range pm.Packages {
		idx.byName[p.Name] = append(idx.byName[p.Name], p)
		for _, prov := range p.Format.Provides {
			idx.byCapability[prov.Name] = append(idx.byCapability[prov.Name], p)
		}
	}
	return idx, nil
}

func decompressPrimary(href string, raw []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(href, ".gz"):
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	case strings.HasSuffix(href, ".xz"):
		xr, err := xz.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(xr)
	default:
		return raw, nil
	}
}

func (f *YUMFetcher) AllVersions(ctx context.Context, name string, hints coordinate.Hints) ([]string, error) {
	idx, err := f.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	pkgs := f.resolveCapability(idx, name)
	versions := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		versions = append(versions, evrString(p))
	}
	sort.Strings(versions)
	return versions, nil
}

// resolveCapability finds packages by name, falling back to the
// capability index for Requires entries like "libssl.so.1.1".
func (f *YUMFetcher) resolveCapability(idx yumIndex, name string) []primaryPackage {
	if pkgs, ok := idx.byName[name]; ok {
		return pkgs
	}
	return idx.byCapability[name]
}

func evrString(p primaryPackage) string {
	if p.Version.Epoch != "" && p.Version.Epoch != "0" {
		return fmt.Sprintf("%s:%s-%s", p.Version.Epoch, p.Version.Ver, p.Version.Rel)
	}
	return fmt.Sprintf("%s-%s", p.Version.Ver, p.Version.Rel)
}

func (f *YUMFetcher) FetchVersion(ctx context.Context, name, version string, hints coordinate.Hints) (VersionInfo, error) {
	idx, err := f.buildIndex(ctx)
	if err != nil {
		return VersionInfo{}, err
	}
	var found *primaryPackage
	for _, p := range f.resolveCapability(idx, name) {
		if evrString(p) == version {
			found = &p
			break
		}
	}
	if found == nil {
		return VersionInfo{}, errNotFound{url: fmt.Sprintf("%s-%s in %s", name, version, f.RepoURL)}
	}

	info := VersionInfo{Name: found.Name, Version: version}
	info.Artifacts = []Artifact{{
		Filename:  found.Location.Href,
		URL:       fmt.Sprintf("%s/%s", strings.TrimRight(f.RepoURL, "/"), found.Location.Href),
		Checksum:  found.Checksum.Value,
		Algorithm: found.Checksum.Type,
		Size:      found.Size.Package,
		Platform:  found.Arch,
	}}
	for _, r := range found.Format.Requires {
		constraint := ""
		if r.Flags != "" && r.Ver != "" {
			constraint = yumFlagsToConstraint(r.Flags) + r.Ver
		}
		info.Deps = append(info.Deps, Dependency{Name: r.Name, Constraint: constraint})
	}
	// Recommends are weak dependencies: tagged so the
	// resolver can skip them unless YUMOptions.IncludeRecommends is set,
	// independent of the general include_optional flag.
	for _, r := range found.Format.Recommends {
		constraint := ""
		if r.Flags != "" && r.Ver != "" {
			constraint = yumFlagsToConstraint(r.Flags) + r.Ver
		}
		info.Deps = append(info.Deps, Dependency{Name: r.Name, Constraint: constraint, Extras: []string{"recommends"}})
	}
	return info, nil
}

func yumFlagsToConstraint(flags string) string {
	switch flags {
	case "EQ":
		return "="
	case "LE":
		return "<="
	case "GE":
		return ">="
	case "LT":
		return "<"
	case "GT":
		return ">"
	default:
		return ""
	}
}
