// Package pep440 implements version.Scheme for pip, wrapping
// github.com/aquasecurity/go-pep440-version for parsing and constraint
// checking per PEP 440.
package pep440

import (
	"fmt"

	pep440version "github.com/aquasecurity/go-pep440-version"
)

// Scheme is the pip version.Scheme.
type Scheme struct{}

func (Scheme) Compare(a, b string) (int, error) {
	va, err := pep440version.Parse(a)
	if err != nil {
		return 0, fmt.Errorf("pep440: parse %q: %w", a, err)
	}
	vb, err := pep440version.Parse(b)
	if err != nil {
		return 0, fmt.Errorf("pep440: parse %q: %w", b, err)
	}
	return va.Compare(vb), nil
}

func (Scheme) Satisfies(v, c string) (bool, error) {
	pv, err := pep440version.Parse(v)
	if err != nil {
		return false, fmt.Errorf("pep440: parse version %q: %w", v, err)
	}
	constraints, err := pep440version.NewSpecifiers(c)
	if err != nil {
		return false, fmt.Errorf("pep440: parse constraint %q: %w", c, err)
	}
	return constraints.Check(pv), nil
}

func (Scheme) IsPrerelease(v string) bool {
	pv, err := pep440version.Parse(v)
	if err != nil {
		return false
	}
	return pv.IsPreRelease()
}

// ParseRequiresDist splits a PyPI requires_dist entry ("foo[extra]>=1,<2; sys_platform=='win32'")
// into the package name, the version constraint, the extras list, and the
// trailing PEP 508 marker expression (evaluated by marker.EvaluatePip).
func ParseRequiresDist(requiresDist string) (name, constraint, marker string, extras []string) {
	s := requiresDist
	if idx := indexByte(s, ';'); idx >= 0 {
		marker = trimSpace(s[idx+1:])
		s = s[:idx]
	}
	s = trimSpace(s)

	if idx := indexByte(s, '['); idx >= 0 {
		end := indexByte(s[idx:], ']')
		if end >= 0 {
			extrasStr := s[idx+1 : idx+end]
			extras = splitComma(extrasStr)
			s = s[:idx] + s[idx+end+1:]
		}
	}
	s = trimSpace(s)

	for i, r := range s {
		if r == '=' || r == '<' || r == '>' || r == '!' || r == '~' || r == ' ' || r == '(' {
			return trimSpace(s[:i]), trimSpace(stripParens(s[i:])), marker, extras
		}
	}
	return s, "", marker, extras
}

func stripParens(s string) string {
	s = trimSpace(s)
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		return trimSpace(s[1 : len(s)-1])
	}
	return s
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := trimSpace(s[start:i])
			if part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
