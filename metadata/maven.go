package metadata

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/httpclient"
	"github.com/a-h/airgap/metadatacache"
)

// MavenFetcher implements Fetcher against a Maven repository layout:
// GET {repo}/{groupPath}/{artifact}/{version}/{artifact}-{version}.pom,
// following <parent> chains and substituting ${prop} variables, including
// those inherited from ancestor POMs.
type MavenFetcher struct {
	shared
	DefaultRepoURL string // default https://repo1.maven.org/maven2
}

func NewMavenFetcher(http *httpclient.Client, cache *metadatacache.Cache, defaultRepoURL string) *MavenFetcher {
	if defaultRepoURL == "" {
		defaultRepoURL = "https://repo1.maven.org/maven2"
	}
	return &MavenFetcher{shared: shared{http: http, cache: cache}, DefaultRepoURL: defaultRepoURL}
}

type pomProject struct {
	XMLName    xml.Name        `xml:"project"`
	GroupID    string          `xml:"groupId"`
	ArtifactID string          `xml:"artifactId"`
	Version    string          `xml:"version"`
	Packaging  string          `xml:"packaging"`
	Parent     *pomParent      `xml:"parent"`
	Properties pomProperties   `xml:"properties"`
	Dependencies      []pomDependency `xml:"dependencies>dependency"`
	DependencyManagement struct {
		Dependencies []pomDependency `xml:"dependencies>dependency"`
	} `xml:"dependencyManagement"`
}

type pomParent struct {
	GroupID      string `xml:"groupId"`
	ArtifactID   string `xml:"artifactId"`
	Version      string `xml:"version"`
	RelativePath string `xml:"relativePath"`
}

type pomDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Scope      string `xml:"scope"`
	Optional   string `xml:"optional"`
	Type       string `xml:"type"`
}

// pomProperties captures arbitrary <properties> children as a name->value
// map; Maven properties have no fixed schema.
type pomProperties map[string]string

func (p *pomProperties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	*p = make(pomProperties)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var value string
			if err := d.DecodeElement(&value, &t); err != nil {
				return err
			}
			(*p)[t.Name.Local] = value
		case xml.EndElement:
			if t.Name == start.Name {
				return nil
			}
		}
	}
}

// mavenCoords identifies a Maven artifact for fetching purposes.
type mavenCoords struct {
	GroupID, ArtifactID, Version, RepoURL string
}

func (f *MavenFetcher) pomURL(c mavenCoords) string {
	groupPath := strings.ReplaceAll(c.GroupID, ".", "/")
	repo := c.RepoURL
	if repo == "" {
		repo = f.DefaultRepoURL
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s-%s.pom", strings.TrimRight(repo, "/"), groupPath, c.ArtifactID, c.Version, c.ArtifactID, c.Version)
}

func (f *MavenFetcher) fetchPOM(ctx context.Context, c mavenCoords) (pomProject, error) {
	url := f.pomURL(c)
	body, err := f.fetchCached(ctx, coordinate.Maven, url, metadatacache.DefaultTTL["maven"])
	if err != nil {
		return pomProject{}, err
	}
	var p pomProject
	if err := xml.Unmarshal(body, &p); err != nil {
		return pomProject{}, fmt.Errorf("metadata: decode pom %s: %w", url, err)
	}
	return p, nil
}

// resolveChain walks the <parent> chain, merging properties and
// dependencyManagement entries from ancestors (ancestor entries yield to
// descendant overrides).
func (f *MavenFetcher) resolveChain(ctx context.Context, c mavenCoords) (pomProject, map[string]string, []pomDependency, error) {
	pom, err := f.fetchPOM(ctx, c)
	if err != nil {
		return pomProject{}, nil, nil, err
	}

	props := map[string]string{}
	var dm []pomDependency
	if pom.Parent != nil {
		parentCoords := mavenCoords{GroupID: pom.Parent.GroupID, ArtifactID: pom.Parent.ArtifactID, Version: pom.Parent.Version, RepoURL: c.RepoURL}
		_, parentProps, parentDM, err := f.resolveChain(ctx, parentCoords)
		if err != nil {
			return pomProject{}, nil, nil, err
		}
		for k, v := range parentProps {
			props[k] = v
		}
		dm = append(dm, parentDM...)
	}
	for k, v := range pom.Properties {
		props[k] = v
	}
	props["project.version"] = firstNonEmpty(pom.Version, props["project.version"])
	props["project.groupId"] = firstNonEmpty(pom.GroupID, props["project.groupId"])
	dm = append(dm, pom.DependencyManagement.Dependencies...)
	return pom, props, dm, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// mavenMetadata is the artifact-level maven-metadata.xml document listing
// every deployed version.
type mavenMetadata struct {
	XMLName    xml.Name `xml:"metadata"`
	Versioning struct {
		Latest   string   `xml:"latest"`
		Release  string   `xml:"release"`
		Versions []string `xml:"versions>version"`
	} `xml:"versioning"`
}

// AllVersions fetches {repo}/{groupPath}/{artifact}/maven-metadata.xml and
// returns the deployed version list, used when a constraint is a range (or
// absent) and a concrete version has to be chosen.
func (f *MavenFetcher) AllVersions(ctx context.Context, name string, hints coordinate.Hints) ([]string, error) {
	groupID, artifactID, ok := strings.Cut(name, ":")
	if !ok {
		return nil, fmt.Errorf("metadata: maven: name %q must be groupId:artifactId", name)
	}
	repo := hints.RepositoryURL
	if repo == "" {
		repo = f.DefaultRepoURL
	}
	groupPath := strings.ReplaceAll(groupID, ".", "/")
	url := fmt.Sprintf("%s/%s/%s/maven-metadata.xml", strings.TrimRight(repo, "/"), groupPath, artifactID)

	body, err := f.fetchCached(ctx, coordinate.Maven, url, metadatacache.DefaultTTL["maven"])
	if err != nil {
		return nil, err
	}
	var md mavenMetadata
	if err := xml.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("metadata: decode maven-metadata %s: %w", url, err)
	}
	return md.Versioning.Versions, nil
}

func (f *MavenFetcher) FetchVersion(ctx context.Context, name, version string, hints coordinate.Hints) (VersionInfo, error) {
	groupID, artifactID, ok := strings.Cut(name, ":")
	if !ok {
		return VersionInfo{}, fmt.Errorf("metadata: maven: name %q must be groupId:artifactId", name)
	}
	c := mavenCoords{GroupID: groupID, ArtifactID: artifactID, Version: version, RepoURL: hints.RepositoryURL}
	pom, props, dm, err := f.resolveChain(ctx, c)
	if err != nil {
		return VersionInfo{}, err
	}

	dmVersions := map[string]string{}
	for _, d := range dm {
		key := substituteProps(d.GroupID, props) + ":" + substituteProps(d.ArtifactID, props)
		if d.Version != "" {
			dmVersions[key] = substituteProps(d.Version, props)
		}
	}

	info := VersionInfo{Name: name, Version: version}
	groupPath := strings.ReplaceAll(groupID, ".", "/")
	repo := c.RepoURL
	if repo == "" {
		repo = f.DefaultRepoURL
	}
	info.Artifacts = []Artifact{{
		Filename: fmt.Sprintf("%s-%s.jar", artifactID, version),
		URL:      fmt.Sprintf("%s/%s/%s/%s/%s-%s.jar", strings.TrimRight(repo, "/"), groupPath, artifactID, version, artifactID, version),
	}}

	for _, d := range pom.Dependencies {
		depGroup := substituteProps(d.GroupID, props)
		depArtifact := substituteProps(d.ArtifactID, props)
		depVersion := substituteProps(d.Version, props)
		if depVersion == "" {
			depVersion = dmVersions[depGroup+":"+depArtifact]
		}
		scope := d.Scope
		if scope == "" {
			scope = "compile"
		}
		info.Deps = append(info.Deps, Dependency{
			Name:       depGroup + ":" + depArtifact,
			Constraint: depVersion,
			Scope:      scope,
			Optional:   d.Optional == "true",
		})
	}
	return info, nil
}

// substituteProps replaces ${prop} references, including the common
// project.version/project.groupId self-references.
func substituteProps(s string, props map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		start := strings.Index(s[i:], "${")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+start])
		rest := s[i+start+2:]
		end := strings.Index(rest, "}")
		if end < 0 {
			b.WriteString(s[i+start:])
			break
		}
		key := rest[:end]
		if v, ok := props[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString("${" + key + "}")
		}
		i = i + start + 2 + end + 1
	}
	return b.String()
}
