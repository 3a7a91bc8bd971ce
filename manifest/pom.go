package manifest

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/a-h/airgap/resolve"
)

type pomProjectDoc struct {
	XMLName              xml.Name         `xml:"project"`
	Properties           pomPropertiesDoc `xml:"properties"`
	Dependencies         []pomDependency  `xml:"dependencies>dependency"`
	DependencyManagement struct {
		Dependencies []pomDependency `xml:"dependencies>dependency"`
	} `xml:"dependencyManagement"`
}

type pomDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Scope      string `xml:"scope"`
}

// pomPropertiesDoc captures arbitrary <properties> children as a
// name->value map; Maven properties have no fixed schema.
type pomPropertiesDoc map[string]string

func (p *pomPropertiesDoc) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	*p = make(pomPropertiesDoc)
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

// ParsePOM parses a Maven pom.xml's top-level <dependencies> into roots.
// Maven coordinates are "groupId:artifactId"; a dependency with no
// explicit <version> is bound from the same file's <dependencyManagement>
// section where possible (with ${prop} references substituted from
// <properties>). A dependency still version-less after that — managed by
// an external parent or BOM import this parser cannot fetch — is passed
// through with an empty constraint, which the Maven resolver satisfies by
// selecting the newest release from the repository's version listing.
func ParsePOM(text string) ([]resolve.Root, error) {
	var doc pomProjectDoc
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("manifest: pom.xml: %w", err)
	}

	managed := make(map[string]string, len(doc.DependencyManagement.Dependencies))
	for _, d := range doc.DependencyManagement.Dependencies {
		if d.Version == "" {
			continue
		}
		key := substitutePOMProps(d.GroupID, doc.Properties) + ":" + substitutePOMProps(d.ArtifactID, doc.Properties)
		managed[key] = substitutePOMProps(d.Version, doc.Properties)
	}

	var roots []resolve.Root
	for _, d := range doc.Dependencies {
		if d.Scope == "test" || d.Scope == "provided" {
			continue
		}
		name := fmt.Sprintf("%s:%s", substitutePOMProps(d.GroupID, doc.Properties), substitutePOMProps(d.ArtifactID, doc.Properties))
		version := substitutePOMProps(d.Version, doc.Properties)
		if version == "" {
			version = managed[name]
		}
		roots = append(roots, resolve.Root{Name: name, Constraint: version})
	}
	return roots, nil
}

func substitutePOMProps(s string, props pomPropertiesDoc) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range props {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}
