// Package condaver implements version.Scheme for Conda packages: PEP
// 440-like versions with an "N!" epoch, =/==/>=/<= operators, and
// wildcard segments ("1.3.*").1. Conda's numeric ordering
// is PEP 440's, so this wraps version/pep440 (which in turn wraps
// github.com/aquasecurity/go-pep440-version) rather than re-implementing
// release-segment comparison.
package condaver

import (
	"fmt"
	"strings"

	"github.com/a-h/airgap/version/pep440"
)

// Scheme is the conda version.Scheme.
type Scheme struct{}

var pip = pep440.Scheme{}

// toPEP440 normalises a conda version for the PEP 440 engine. Conda writes
// the epoch as "N!" before the version, as PEP 440 does, so such versions
// pass through unchanged; only a stray leading "!" is stripped.
func toPEP440(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, '!'); i > 0 && v[0] != '!' {
		return v // already epoch!rest, PEP 440 form.
	}
	if strings.HasPrefix(v, "!") {
		// "!1" meaning epoch 1 with no version is not valid; conda always
		// writes epoch before the version, e.g. "1!2.3".
		return strings.TrimPrefix(v, "!")
	}
	return v
}

func (Scheme) Compare(a, b string) (int, error) {
	return pip.Compare(toPEP440(a), toPEP440(b))
}

// Satisfies evaluates conda's comma-separated AND of atoms, each of which
// is =, ==, >=, <=, >, <, != or a trailing-wildcard match like "1.3.*".
func (Scheme) Satisfies(v, c string) (bool, error) {
	v = toPEP440(v)
	if c == "" {
		return true, nil
	}
	for _, atom := range strings.Split(c, ",") {
		atom = strings.TrimSpace(atom)
		if atom == "" {
			continue
		}
		ok, err := satisfiesAtom(v, atom)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func satisfiesAtom(v, atom string) (bool, error) {
	if strings.HasSuffix(atom, ".*") {
		prefix := strings.TrimSuffix(atom, ".*")
		return strings.HasPrefix(v, prefix+"."), nil
	}

	op, rest := splitOperator(atom)
	rest = toPEP440(rest)
	cmp, err := pip.Compare(v, rest)
	if err != nil {
		return false, fmt.Errorf("condaver: %w", err)
	}
	switch op {
	case "==", "=":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case ">=":
		return cmp >= 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case "<":
		return cmp < 0, nil
	default:
		return false, fmt.Errorf("condaver: unknown operator in %q", atom)
	}
}

func splitOperator(atom string) (op, rest string) {
	for _, candidate := range []string{">=", "<=", "==", "!=", ">", "<", "="} {
		if strings.HasPrefix(atom, candidate) {
			return candidate, strings.TrimSpace(strings.TrimPrefix(atom, candidate))
		}
	}
	return "==", atom
}

func (Scheme) IsPrerelease(v string) bool {
	return pip.IsPrerelease(toPEP440(v))
}
