package resolve

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/marker"
	"github.com/a-h/airgap/metadata"
	"github.com/a-h/airgap/version"
	"github.com/a-h/airgap/version/pep440"
)

// pipSystemPackages is pip's system-package deny list: these never appear as real PyPI packages but show up as markers in
// some constraint files.
var pipSystemPackages = map[string]bool{
	"libc":     true,
	"libgcc_s": true,
	"__glibc":  true,
}

// PipAdapter implements Adapter for PyPI.
type PipAdapter struct {
	Fetcher *metadata.PyPIFetcher
	Env     marker.Environment
}

func NewPipAdapter(fetcher *metadata.PyPIFetcher, env marker.Environment) *PipAdapter {
	return &PipAdapter{Fetcher: fetcher, Env: env}
}

func (a *PipAdapter) Ecosystem() coordinate.Ecosystem { return coordinate.Pip }

func (a *PipAdapter) IsSystemPackage(name string) bool { return pipSystemPackages[name] }

func (a *PipAdapter) Resolve(ctx context.Context, name, constraint string, hints coordinate.Hints, opts Options) (string, Package, []metadata.Dependency, error) {
	versions, err := a.Fetcher.AllVersions(ctx, name, hints)
	if err != nil {
		return "", Package{}, nil, err
	}
	scheme := pep440.Scheme{}
	best, ok, err := version.Latest(scheme, versions, constraint)
	if err != nil {
		return "", Package{}, nil, err
	}
	if !ok {
		return "", Package{}, nil, fmt.Errorf("resolve: pip: no version of %s satisfies %q: %w", name, constraint, ErrNoMatchingVersion)
	}

	info, err := a.Fetcher.FetchVersion(ctx, name, best, hints)
	if err != nil {
		return "", Package{}, nil, err
	}

	artifact, err := selectWheel(info.Artifacts, opts)
	if err != nil {
		return "", Package{}, nil, err
	}

	pkg := Package{
		Coord: coordinate.Coordinate{
			Ecosystem:    coordinate.Pip,
			Name:         name,
			Version:      best,
			Architecture: opts.Architecture,
			Hints:        hints,
		},
		URL:       artifact.URL,
		Checksum:  artifact.Checksum,
		Algorithm: artifact.Algorithm,
	}
	return best, pkg, info.Deps, nil
}

// selectWheel picks the wheel whose platform matches the target
// architecture and whose python tag is compatible with the target
// interpreter, falling back to an sdist only if no compatible wheel
// exists.
func selectWheel(artifacts []metadata.Artifact, opts Options) (metadata.Artifact, error) {
	var sdist *metadata.Artifact
	for i, a := range artifacts {
		if !marker.ArchitectureMatch(a.Platform, opts.Architecture) {
			continue
		}
		if a.PythonTag == "" || a.PythonTag == "source" {
			if sdist == nil {
				sdist = &artifacts[i]
			}
			continue
		}
		if pythonTagCompatible(a.PythonTag, a.Filename, opts.PythonVersion) {
			return a, nil
		}
	}
	if sdist != nil {
		return *sdist, nil
	}
	if len(artifacts) > 0 {
		return artifacts[0], nil
	}
	return metadata.Artifact{}, fmt.Errorf("resolve: pip: no downloadable artifact found")
}

// pythonTagCompatible reports whether a wheel's python tag can run on the
// target interpreter: generic "py2"/"py3" tags match on major version,
// "cpXY"/"ppXY"/"pyXY" tags match the exact X.Y, and abi3 wheels (stable
// ABI, detected from the filename) accept any interpreter at or above the
// cpXY they were built for. An empty target accepts every tag.
func pythonTagCompatible(tag, filename, pythonVersion string) bool {
	major, minor, ok := splitPythonVersion(pythonVersion)
	if !ok {
		return true
	}
	abi3 := strings.Contains(filename, "abi3")

	for _, part := range strings.Split(strings.ToLower(tag), ".") {
		if part == "py"+strconv.Itoa(major) {
			return true
		}
		var xy string
		switch {
		case strings.HasPrefix(part, "cp"), strings.HasPrefix(part, "pp"), strings.HasPrefix(part, "py"):
			xy = part[2:]
		default:
			continue
		}
		tagMajor, tagMinor, ok := splitPythonTag(xy)
		if !ok || tagMajor != major {
			continue
		}
		if tagMinor == minor {
			return true
		}
		if abi3 && tagMinor <= minor {
			return true
		}
	}
	return false
}

// splitPythonVersion parses "3.11" into (3, 11).
func splitPythonVersion(v string) (major, minor int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// splitPythonTag parses the digits of a "cpXY" tag ("311" -> 3, 11; the
// major version is always one digit).
func splitPythonTag(xy string) (major, minor int, ok bool) {
	if len(xy) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(xy[:1])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(xy[1:])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

func (a *PipAdapter) Filter(dep metadata.Dependency, opts Options) (bool, string) {
	if dep.Marker == "" {
		return true, ""
	}
	res, err := marker.EvaluatePip(dep.Marker, a.Env, opts.StrictMarkers)
	if err != nil {
		return false, dep.Marker
	}
	if !res.Satisfied {
		return false, dep.Marker
	}
	return true, ""
}

func (a *PipAdapter) PreferNearest(existingDepth, newDepth int) bool { return false }
