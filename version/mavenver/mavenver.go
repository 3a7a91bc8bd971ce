// Package mavenver implements version.Scheme for Maven coordinates:
// dot/hyphen segmented versions with qualifier ordering
// (alpha < beta < milestone < rc < snapshot < "" < sp) and range notation
// like "[1.0,2.0)".
//
// No Go library implements Maven's qualifier ordering rules, so this is a
// direct, hand-written port of the algorithm Maven's own ComparableVersion
// uses.
package mavenver

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme is the Maven version.Scheme.
type Scheme struct{}

func (Scheme) Compare(a, b string) (int, error) {
	return Compare(a, b), nil
}

func (Scheme) Satisfies(v, c string) (bool, error) {
	c = strings.TrimSpace(c)
	if c == "" {
		return true, nil
	}
	if isRange(c) {
		return satisfiesRange(v, c)
	}
	// A bare version in Maven is a "soft" requirement: accept an exact
	// match, or treat absence of a hard range as "nearest wins" (handled by
	// the resolver, not the version grammar) — here we just check equality.
	return Compare(v, c) == 0, nil
}

func (Scheme) IsPrerelease(v string) bool {
	q := qualifierOf(v)
	switch strings.ToLower(q) {
	case "alpha", "beta", "milestone", "m", "cr", "rc", "snapshot":
		return true
	}
	return false
}

func isRange(c string) bool {
	return strings.HasPrefix(c, "[") || strings.HasPrefix(c, "(")
}

// satisfiesRange evaluates Maven range notation: "[1.0,2.0)", "(,1.0]",
// "[1.0,)", or a comma-separated union of such intervals.
func satisfiesRange(v, ranges string) (bool, error) {
	for _, r := range splitUnion(ranges) {
		ok, err := satisfiesInterval(v, r)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func splitUnion(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
			if depth == 0 {
				out = append(out, s[start:i+1])
				start = i + 1
			}
		}
	}
	if start < len(s) {
		rest := strings.TrimSpace(s[start:])
		if rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

func satisfiesInterval(v, interval string) (bool, error) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return false, fmt.Errorf("mavenver: malformed range %q", interval)
	}
	lowInclusive := interval[0] == '['
	highInclusive := interval[len(interval)-1] == ']'
	body := interval[1 : len(interval)-1]
	parts := strings.SplitN(body, ",", 2)
	low := strings.TrimSpace(parts[0])
	high := ""
	if len(parts) == 2 {
		high = strings.TrimSpace(parts[1])
	} else {
		// A single version without a comma inside brackets, e.g. "[1.0]",
		// means exactly that version.
		return Compare(v, low) == 0, nil
	}

	if low != "" {
		cmp := Compare(v, low)
		if lowInclusive && cmp < 0 {
			return false, nil
		}
		if !lowInclusive && cmp <= 0 {
			return false, nil
		}
	}
	if high != "" {
		cmp := Compare(v, high)
		if highInclusive && cmp > 0 {
			return false, nil
		}
		if !highInclusive && cmp >= 0 {
			return false, nil
		}
	}
	return true, nil
}

// qualifierRank ranks Maven's well-known qualifier strings; an empty
// qualifier (a plain release) ranks between "rc"/"snapshot" and "sp".
func qualifierRank(q string) int {
	// Rank by the leading letters, so "rc1" ranks as rc and "beta-2" as beta.
	q = strings.ToLower(q)
	if i := strings.IndexFunc(q, func(r rune) bool { return r < 'a' || r > 'z' }); i > 0 {
		q = q[:i]
	}
	switch q {
	case "alpha", "a":
		return 0
	case "beta", "b":
		return 1
	case "milestone", "m":
		return 2
	case "rc", "cr":
		return 3
	case "snapshot":
		return 4
	case "":
		return 5
	case "sp":
		return 6
	default:
		return 5 // unknown qualifiers sort as a release, compared lexically as a tiebreak.
	}
}

func qualifierOf(v string) string {
	_, qualifier := splitQualifier(v)
	return qualifier
}

// splitQualifier separates the numeric/dot/hyphen segments from a trailing
// alphabetic qualifier token, e.g. "1.0.0-beta-2" -> ("1.0.0", "beta-2").
func splitQualifier(v string) (numeric, qualifier string) {
	idx := strings.IndexAny(v, "-")
	if idx < 0 {
		return v, ""
	}
	return v[:idx], v[idx+1:]
}

type token struct {
	isNumeric bool
	num       int64
	str       string
}

func tokenize(segment string) []token {
	var toks []token
	var cur strings.Builder
	curIsDigit := false
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		s := cur.String()
		if curIsDigit {
			n, err := strconv.ParseInt(s, 10, 64)
			if err == nil {
				toks = append(toks, token{isNumeric: true, num: n})
				cur.Reset()
				return
			}
		}
		toks = append(toks, token{str: strings.ToLower(s)})
		cur.Reset()
	}
	for i, r := range segment {
		isDigit := r >= '0' && r <= '9'
		if i > 0 && isDigit != curIsDigit {
			flush()
		}
		if r == '.' {
			flush()
			continue
		}
		curIsDigit = isDigit
		cur.WriteRune(r)
	}
	flush()
	return toks
}

// Compare implements Maven's ComparableVersion ordering: numeric segments
// compare numerically, alphabetic segments compare by qualifier rank and
// then lexically, and a missing trailing segment compares as zero/empty.
func Compare(a, b string) int {
	numA, qualA := splitQualifier(a)
	numB, qualB := splitQualifier(b)

	if c := compareSegments(strings.Split(numA, "."), strings.Split(numB, ".")); c != 0 {
		return c
	}
	return compareQualifiers(qualA, qualB)
}

func compareSegments(a, b []string) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(a) {
			sa = a[i]
		}
		if i < len(b) {
			sb = b[i]
		}
		na, erra := strconv.ParseInt(sa, 10, 64)
		nb, errb := strconv.ParseInt(sb, 10, 64)
		if erra != nil {
			na = 0
		}
		if errb != nil {
			nb = 0
		}
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func compareQualifiers(a, b string) int {
	ra, rb := qualifierRank(a), qualifierRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	if ra != 5 || (a == "" && b == "") {
		ta, tb := tokenize(a), tokenize(b)
		return compareTokens(ta, tb)
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func compareTokens(a, b []token) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var ta, tb token
		if i < len(a) {
			ta = a[i]
		}
		if i < len(b) {
			tb = b[i]
		}
		if ta.isNumeric && tb.isNumeric {
			if ta.num != tb.num {
				if ta.num < tb.num {
					return -1
				}
				return 1
			}
			continue
		}
		if !ta.isNumeric && !tb.isNumeric {
			if c := strings.Compare(ta.str, tb.str); c != 0 {
				return c
			}
			continue
		}
		// Mixed, including a missing token against a numeric one: the
		// numeric side sorts higher.
		if ta.isNumeric {
			return 1
		}
		return -1
	}
	return 0
}
