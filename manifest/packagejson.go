package manifest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/a-h/airgap/resolve"
)

type packageJSONDoc struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// ParsePackageJSON parses an npm package.json into roots.
// devDependencies are treated as additional roots too: a pre-fetch bundle
// for an air-gapped build needs them present, unlike a production install.
func ParsePackageJSON(text string) ([]resolve.Root, error) {
	var doc packageJSONDoc
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("manifest: package.json: %w", err)
	}

	names := make([]string, 0, len(doc.Dependencies)+len(doc.DevDependencies))
	merged := make(map[string]string, len(doc.Dependencies)+len(doc.DevDependencies))
	for n, c := range doc.Dependencies {
		merged[n] = c
		names = append(names, n)
	}
	for n, c := range doc.DevDependencies {
		if _, ok := merged[n]; ok {
			continue
		}
		merged[n] = c
		names = append(names, n)
	}
	sort.Strings(names)

	roots := make([]resolve.Root, 0, len(names))
	for _, n := range names {
		roots = append(roots, resolve.Root{Name: n, Constraint: merged[n]})
	}
	return roots, nil
}
