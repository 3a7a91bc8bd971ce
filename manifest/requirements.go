package manifest

import (
	"fmt"
	"strings"

	"github.com/a-h/airgap/resolve"
)

// ParseRequirementsTxt parses a pip requirements.txt into roots. Each
// non-blank, non-comment line is "name[extras]constraint",
// e.g. "flask==2.0.0", "requests[socks]>=2.28,<3". Environment markers
// after a ";" and inline "--hash=" options are accepted but not carried
// into the Root — markers on the *roots themselves* aren't evaluated
// (the marker evaluator runs against transitive dependency edges, not
// the manifest's own entries); "-r other.txt" includes and "-e ..."
// editable installs are out of scope for a pre-fetch pipeline and skipped.
func ParseRequirementsTxt(text string) ([]resolve.Root, error) {
	var roots []resolve.Root
	for lineNo, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "-r") || strings.HasPrefix(line, "--requirement") ||
			strings.HasPrefix(line, "-e") || strings.HasPrefix(line, "--editable") ||
			strings.HasPrefix(line, "-") {
			continue
		}
		if idx := strings.Index(line, ";"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if idx := strings.Index(line, "--hash"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		name, constraint, err := splitRequirement(line)
		if err != nil {
			return nil, fmt.Errorf("manifest: requirements.txt line %d: %w", lineNo+1, err)
		}
		roots = append(roots, resolve.Root{Name: name, Constraint: constraint})
	}
	return roots, nil
}

// splitRequirement splits "name[extras]op-version-op-version..." at the
// first PEP 440 comparison operator; everything before it (minus any
// "[extras]" suffix) is the package name.
func splitRequirement(s string) (name, constraint string, err error) {
	cut := len(s)
	for i, r := range s {
		switch r {
		case '=', '<', '>', '!', '~':
			cut = i
		}
		if cut != len(s) {
			break
		}
	}
	name = strings.TrimSpace(s[:cut])
	constraint = strings.TrimSpace(s[cut:])
	if idx := strings.Index(name, "["); idx >= 0 {
		name = name[:idx]
	}
	if name == "" {
		return "", "", fmt.Errorf("empty package name in %q", s)
	}
	return name, constraint, nil
}
