package resolve

import (
	"context"
	"fmt"

	"github.com/a-h/airgap/coordinate"
	"github.com/a-h/airgap/metadata"
)

// ResolveDocker resolves one image reference into a ResolutionResult.
// An image pull has no named transitive packages the
// way the other ecosystems do, so rather than force it through the
// name/constraint DFS engine, this flattens the manifest's layer blobs (and
// its config blob) directly into the package list, with the image itself
// as the tree root — "dependencies" are blobs, flattened the same way any
// other ecosystem's tree is.
func ResolveDocker(ctx context.Context, fetcher *metadata.DockerFetcher, repo, reference string, hints coordinate.Hints) (ResolutionResult, error) {
	info, err := fetcher.FetchVersion(ctx, repo, reference, hints)
	if err != nil {
		return ResolutionResult{}, fmt.Errorf("resolve: docker: %w", err)
	}

	root := &DependencyNode{
		Coord: coordinate.Coordinate{Ecosystem: coordinate.Docker, Name: repo, Version: reference},
	}

	var packages []Package
	for _, artifact := range info.Artifacts {
		coord := coordinate.Coordinate{
			Ecosystem: coordinate.Docker,
			Name:      repo,
			Version:   artifact.Filename, // blob digest, used as the content-addressed identity.
		}
		root.Children = append(root.Children, &DependencyNode{Coord: coord})
		packages = append(packages, Package{
			Coord:     coord,
			URL:       artifact.URL,
			Checksum:  artifact.Checksum,
			Algorithm: artifact.Algorithm,
		})
	}

	return ResolutionResult{Tree: root, Packages: packages}, nil
}
