package manifest

import (
	"fmt"
	"strings"

	"github.com/a-h/airgap/resolve"
	yaml "go.yaml.in/yaml/v2"
)

type environmentYMLDoc struct {
	Name         string        `yaml:"name"`
	Channels     []string      `yaml:"channels"`
	Dependencies []interface{} `yaml:"dependencies"`
}

// EnvironmentFile is the parsed shape of a conda environment.yml: conda
// dependencies plus channels, and the pip sub-list split out the
// way a real environment.yml nests a "- pip:" block alongside plain conda
// entries.
type EnvironmentFile struct {
	Name      string
	Channels  []string
	CondaDeps []resolve.Root
	PipDeps   []resolve.Root
}

// ParseEnvironmentYML parses a conda environment.yml into its conda roots
// only (matching the Parser signature used by Parsers); use
// ParseEnvironmentFile for the full split including the nested pip block.
func ParseEnvironmentYML(text string) ([]resolve.Root, error) {
	f, err := ParseEnvironmentFile(text)
	if err != nil {
		return nil, err
	}
	return f.CondaDeps, nil
}

// ParseEnvironmentFile parses the whole file, including the nested pip
// block and channel list.
func ParseEnvironmentFile(text string) (EnvironmentFile, error) {
	var doc environmentYMLDoc
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return EnvironmentFile{}, fmt.Errorf("manifest: environment.yml: %w", err)
	}

	out := EnvironmentFile{Name: doc.Name, Channels: doc.Channels}
	for _, raw := range doc.Dependencies {
		switch v := raw.(type) {
		case string:
			name, constraint := splitCondaSpec(v)
			out.CondaDeps = append(out.CondaDeps, resolve.Root{Name: name, Constraint: constraint})
		case map[interface{}]interface{}:
			for k, val := range v {
				if fmt.Sprint(k) != "pip" {
					continue
				}
				entries, ok := val.([]interface{})
				if !ok {
					continue
				}
				for _, e := range entries {
					s, ok := e.(string)
					if !ok {
						continue
					}
					name, constraint, err := splitRequirement(s)
					if err != nil {
						continue
					}
					out.PipDeps = append(out.PipDeps, resolve.Root{Name: name, Constraint: constraint})
				}
			}
		}
	}
	return out, nil
}

// splitCondaSpec splits a conda MatchSpec like "numpy=1.26.0" or "python"
// into name and constraint; conda's "=" in this position means "pinned to",
// rewritten to the "=1.26.0" constraint grammar the conda version scheme
// already accepts.
func splitCondaSpec(spec string) (name, constraint string) {
	for _, sep := range []string{">=", "<=", "!=", "==", ">", "<", "="} {
		if idx := strings.Index(spec, sep); idx >= 0 {
			return strings.TrimSpace(spec[:idx]), strings.TrimSpace(spec[idx:])
		}
	}
	return strings.TrimSpace(spec), ""
}
