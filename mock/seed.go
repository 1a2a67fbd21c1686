package mock

import (
	"encoding/json"
	"fmt"

	"imgsync/impl/codec"
	"imgsync/impl/manifest"
)

// SeededImage describes one image seeded into a mock registry.
type SeededImage struct {
	ManifestDigest string
	ManifestBytes  []byte
	ConfigDigest   string
	LayerDigests   []string
}

// SeedImage seeds a minimal concrete image into the registry: a config
// blob, one gzipped layer per passed payload, and an OCI manifest served
// at the passed tag (and at its digest).
func (r *Registry) SeedImage(repo string, tag string, layerPayloads ...[]byte) SeededImage {
	if len(layerPayloads) == 0 {
		layerPayloads = [][]byte{[]byte("default layer payload")}
	}
	config := []byte(fmt.Sprintf(`{"architecture":"amd64","os":"linux","config":{},"rootfs":{"type":"layers","diff_ids":[]},"history":[{"created_by":"%s"}]}`, tag))
	configDigest := r.SeedBlob(config)

	im := manifest.ImageManifest{
		SchemaVersion: 2,
		MediaType:     manifest.MediaTypeOciManifest,
		Config: manifest.Descriptor{
			MediaType: "application/vnd.oci.image.config.v1+json",
			Digest:    configDigest,
			Size:      int64(len(config)),
		},
	}
	var layerDigests []string
	for _, payload := range layerPayloads {
		zipped, err := codec.Gzip(payload)
		if err != nil {
			panic(err)
		}
		layerDigest := r.SeedBlob(zipped)
		layerDigests = append(layerDigests, layerDigest)
		im.Layers = append(im.Layers, manifest.Descriptor{
			MediaType: "application/vnd.oci.image.layer.v1.tar+gzip",
			Digest:    layerDigest,
			Size:      int64(len(zipped)),
		})
	}
	body, err := json.Marshal(im)
	if err != nil {
		panic(err)
	}
	return SeededImage{
		ManifestDigest: r.SeedManifest(repo, tag, body, manifest.MediaTypeOciManifest),
		ManifestBytes:  body,
		ConfigDigest:   configDigest,
		LayerDigests:   layerDigests,
	}
}

// SeedIndex seeds an image index at the passed tag whose entries are the
// passed already-seeded images, alternating amd64/arm64 platforms.
func (r *Registry) SeedIndex(repo string, tag string, children ...SeededImage) (string, []byte) {
	ix := manifest.ImageIndex{
		SchemaVersion: 2,
		MediaType:     manifest.MediaTypeOciIndex,
	}
	platforms := []manifest.Platform{{Architecture: "amd64", Os: "linux"}, {Architecture: "arm64", Os: "linux"}}
	for i, child := range children {
		platform := platforms[i%len(platforms)]
		ix.Manifests = append(ix.Manifests, manifest.Descriptor{
			MediaType: manifest.MediaTypeOciManifest,
			Digest:    child.ManifestDigest,
			Size:      int64(len(child.ManifestBytes)),
			Platform:  &platform,
		})
	}
	body, err := json.Marshal(ix)
	if err != nil {
		panic(err)
	}
	return r.SeedManifest(repo, tag, body, manifest.MediaTypeOciIndex), body
}
