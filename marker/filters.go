package marker

import (
	"fmt"
	"strings"
)

// CondaBuildTag reports whether a Conda candidate's build string is
// compatible with the requested CPython version: for a requested X.Y,
// builds whose string carries a python tag are kept only if it is "pyXY"
// or "noarch"; builds with an empty string or no python tag at all are
// kept; subdir-incompatible builds are rejected.
func CondaBuildTag(build string, subdir string, candidateSubdir string, pythonVersion string) bool {
	if candidateSubdir == "noarch" {
		// noarch python builds ("pyh..._0") run on any interpreter; their
		// python constraint lives in depends, not the build string.
		return true
	}
	if candidateSubdir != "" && subdir != "" && candidateSubdir != subdir {
		return false
	}
	if build == "" {
		return true
	}
	lower := strings.ToLower(build)
	if strings.Contains(lower, "noarch") {
		return true
	}
	tag := pyBuildTag(pythonVersion)
	if tag == "" {
		return true
	}
	if !strings.Contains(lower, "py") {
		return true // build string carries no python tag, e.g. a pure C library.
	}
	return strings.Contains(lower, tag)
}

// pyBuildTag converts "3.12" to the "py312" tag conda embeds in build
// strings.
func pyBuildTag(pythonVersion string) string {
	major, minor, ok := splitMajorMinor(pythonVersion)
	if !ok {
		return ""
	}
	return fmt.Sprintf("py%s%s", major, minor)
}

func splitMajorMinor(v string) (major, minor string, ok bool) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ArchitectureMatch reports whether a candidate's declared architecture is
// compatible with the requested target architecture, for yum/conda/npm
// optional-native filtering. An empty declared architecture
// means "any" and always matches; "noarch" always matches.
func ArchitectureMatch(declared, target string) bool {
	if declared == "" || declared == "noarch" || declared == "any" {
		return true
	}
	if target == "" {
		return true
	}
	if normalizeArch(declared) == normalizeArch(target) {
		return true
	}
	// Wheel platform tags embed the arch in a longer string, e.g.
	// "manylinux2014_x86_64" or "macosx_11_0_arm64".
	d := "_" + strings.ToLower(declared) + "_"
	for _, alias := range archAliases(target) {
		if strings.Contains(d, "_"+alias+"_") {
			return true
		}
	}
	return false
}

func archAliases(target string) []string {
	switch normalizeArch(target) {
	case "x86_64":
		return []string{"x86_64", "amd64"}
	case "aarch64":
		return []string{"aarch64", "arm64"}
	case "i686":
		return []string{"i686", "i386"}
	default:
		return []string{strings.ToLower(target)}
	}
}

func normalizeArch(a string) string {
	switch strings.ToLower(a) {
	case "x86_64", "amd64":
		return "x86_64"
	case "aarch64", "arm64":
		return "aarch64"
	case "i386", "i686", "x86":
		return "i686"
	default:
		return strings.ToLower(a)
	}
}

// OSMatch reports whether a candidate's declared OS/platform string is
// compatible with the requested target OS.
func OSMatch(declared, target string) bool {
	if declared == "" || target == "" {
		return true
	}
	return normalizeOS(declared) == normalizeOS(target)
}

func normalizeOS(o string) string {
	switch strings.ToLower(o) {
	case "linux", "manylinux", "manylinux1", "manylinux2010", "manylinux2014", "musllinux":
		return "linux"
	case "darwin", "macos", "osx":
		return "darwin"
	case "win32", "windows", "win":
		return "windows"
	default:
		return strings.ToLower(o)
	}
}
