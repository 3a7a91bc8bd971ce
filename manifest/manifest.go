// Package manifest implements parse_manifest: turning an
// ecosystem's native dependency-manifest file into the root coordinates a
// resolver traverses. Each parser returns []resolve.Root, the same type
// resolve.Engine.Resolve already accepts for its roots parameter.
package manifest

import "github.com/a-h/airgap/resolve"

// Ecosystem identifies which parser to apply, mirroring coordinate.Ecosystem
// without importing resolve's dependency on it directly (parse_manifest is
// a pure text-in, roots-out operation; it never touches a network).
type Ecosystem string

const (
	Pip   Ecosystem = "pip"
	NPM   Ecosystem = "npm"
	Maven Ecosystem = "maven"
	Conda Ecosystem = "conda"
)

// Parser parses one ecosystem's manifest text into root constraints.
type Parser func(text string) ([]resolve.Root, error)

// Parsers maps each supported ecosystem manifest format to its parser.
var Parsers = map[Ecosystem]Parser{
	Pip:   ParseRequirementsTxt,
	NPM:   ParsePackageJSON,
	Maven: ParsePOM,
	Conda: ParseEnvironmentYML,
}
