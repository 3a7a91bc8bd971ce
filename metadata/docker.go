package metadata

import (
	"context"
	"fmt"

	"github.com/a-h/airgap/coordinate"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/opencontainers/go-digest"
	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerFetcher implements Fetcher against an OCI distribution-spec
// registry: GET /v2/{name}/manifests/{reference} and
// GET /v2/{name}/blobs/{digest}, via go-containerregistry's remote package
// rather than the shared httpclient — the library owns its own transport,
// auth, and retry handling for registry protocol quirks (manifest-list
// negotiation, token auth).
//
// A docker "version" is an image reference tag or digest; its "metadata"
// is the resolved manifest/config, and its artifacts are the image's
// layer blobs plus its config blob. A manifest list contributes only the
// one child image selected for Platform; the other per-platform manifests
// are not returned. It does not use the shared metadata cache.
type DockerFetcher struct {
	Registry string // hint only; callers pass a fully qualified reference as name.
	Platform *v1.Platform
}

func NewDockerFetcher(registry string, platform *v1.Platform) *DockerFetcher {
	return &DockerFetcher{Registry: registry, Platform: platform}
}

// AllVersions is not meaningful for docker: an image reference is already a
// concrete tag or digest, there is no "list all tags then pick highest"
// step analogous to the other ecosystems' AllVersions.
func (f *DockerFetcher) AllVersions(ctx context.Context, name_ string, hints coordinate.Hints) ([]string, error) {
	return nil, fmt.Errorf("metadata: docker: AllVersions is not supported; pass a concrete reference")
}

// FetchVersion resolves name:version (e.g. "library/nginx:1.27") to its
// image manifest, descending through a manifest list to the entry matching
// f.Platform if present, and returns one Artifact per distributable layer
// digest plus one for the config blob (no Deps) so the resolver can
// flatten an image pull into per-blob DownloadItems.
func (f *DockerFetcher) FetchVersion(ctx context.Context, repoName, reference string, hints coordinate.Hints) (VersionInfo, error) {
	ref, err := name.ParseReference(fmt.Sprintf("%s:%s", repoName, reference))
	if err != nil {
		return VersionInfo{}, fmt.Errorf("metadata: docker: parse reference %s:%s: %w", repoName, reference, err)
	}

	opts := []remote.Option{remote.WithContext(ctx)}
	desc, err := remote.Get(ref, opts...)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("metadata: docker: get manifest %s: %w", ref, err)
	}

	img, err := desc.Image()
	if err != nil {
		return VersionInfo{}, fmt.Errorf("metadata: docker: resolve image for %s: %w", ref, err)
	}
	if f.Platform != nil && desc.MediaType.IsIndex() {
		idx, err := desc.ImageIndex()
		if err != nil {
			return VersionInfo{}, fmt.Errorf("metadata: docker: resolve index for %s: %w", ref, err)
		}
		img, err = selectPlatform(idx, *f.Platform)
		if err != nil {
			return VersionInfo{}, err
		}
	}

	manifest, err := img.Manifest()
	if err != nil {
		return VersionInfo{}, fmt.Errorf("metadata: docker: read manifest for %s: %w", ref, err)
	}

	info := VersionInfo{Name: repoName, Version: reference}
	registryRepo := ref.Context()
	for _, layer := range manifest.Layers {
		if nonDistributable(layer.MediaType) {
			// Foreign layers must be pulled from their upstream URLs, not
			// mirrored from the registry; leave them out of the bundle.
			continue
		}
		if _, err := digest.Parse(layer.Digest.String()); err != nil {
			return VersionInfo{}, fmt.Errorf("metadata: docker: invalid layer digest %q: %w", layer.Digest, err)
		}
		info.Artifacts = append(info.Artifacts, Artifact{
			Filename:  layer.Digest.String(),
			URL:       fmt.Sprintf("https://%s/v2/%s/blobs/%s", registryRepo.RegistryStr(), registryRepo.RepositoryStr(), layer.Digest),
			Checksum:  layer.Digest.Hex,
			Algorithm: layer.Digest.Algorithm,
			Size:      layer.Size,
		})
	}
	info.Artifacts = append(info.Artifacts, Artifact{
		Filename:  manifest.Config.Digest.String(),
		URL:       fmt.Sprintf("https://%s/v2/%s/blobs/%s", registryRepo.RegistryStr(), registryRepo.RepositoryStr(), manifest.Config.Digest),
		Checksum:  manifest.Config.Digest.Hex,
		Algorithm: manifest.Config.Digest.Algorithm,
		Size:      manifest.Config.Size,
	})
	return info, nil
}

// nonDistributable reports whether a layer's media type marks it as a
// foreign layer, under either the Docker or the OCI naming.
func nonDistributable(mt types.MediaType) bool {
	switch string(mt) {
	case string(types.DockerForeignLayer),
		ociv1.MediaTypeImageLayerNonDistributable,
		ociv1.MediaTypeImageLayerNonDistributableGzip,
		ociv1.MediaTypeImageLayerNonDistributableZstd:
		return true
	}
	return false
}

func selectPlatform(idx v1.ImageIndex, platform v1.Platform) (v1.Image, error) {
	indexManifest, err := idx.IndexManifest()
	if err != nil {
		return nil, fmt.Errorf("metadata: docker: read index manifest: %w", err)
	}
	for _, m := range indexManifest.Manifests {
		if m.Platform == nil {
			continue
		}
		if m.Platform.Architecture == platform.Architecture && m.Platform.OS == platform.OS {
			return idx.Image(m.Digest)
		}
	}
	return nil, fmt.Errorf("metadata: docker: no manifest for platform %s/%s", platform.OS, platform.Architecture)
}
