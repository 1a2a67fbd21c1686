package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Media types accepted from and relayed to registries. The OCI types come
// from the image-spec module, the Docker v2 types predate it.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeOciManifest        = ocispec.MediaTypeImageManifest
	MediaTypeOciIndex           = ocispec.MediaTypeImageIndex
)

// AllMediaTypes returns the manifest media types the replicator accepts,
// in the order offered to registries in the Accept header.
func AllMediaTypes() []string {
	return []string{
		MediaTypeDockerManifestList,
		MediaTypeOciIndex,
		MediaTypeDockerManifest,
		MediaTypeOciManifest,
	}
}

// Type classifies a fetched manifest.
type Type int

const (
	// IndexType is a multi-platform manifest list / image index
	IndexType Type = iota
	// ImageType is a concrete single-platform image manifest
	ImageType
)

// Holder wraps one fetched manifest: the exact bytes received (which are
// what gets republished - digests are only stable if the body is relayed
// unmodified), the media type from the response Content-Type header, the
// canonical digest, and the parsed form.
type Holder struct {
	Bytes     []byte        `json:"bytes"`
	MediaType string        `json:"mediaType"`
	Digest    string        `json:"digest"`
	Type      Type          `json:"type"`
	Im        ImageManifest `json:"im"`
	Ix        ImageIndex    `json:"ix"`
}

// IsIndex returns true if the passed media type identifies a manifest
// list / image index. Classification is driven entirely by the media type
// the registry declared - never inferred from the body.
func IsIndex(mediaType string) bool {
	return mediaType == MediaTypeDockerManifestList || mediaType == MediaTypeOciIndex
}

// IsManifest returns true if the passed media type identifies a concrete
// image manifest.
func IsManifest(mediaType string) bool {
	return mediaType == MediaTypeDockerManifest || mediaType == MediaTypeOciManifest
}

// NewHolder parses the passed manifest bytes according to the passed media
// type (from the response Content-Type header) into a 'Holder'. The passed
// digest is the canonical digest of 'body'.
func NewHolder(body []byte, mediaType string, dgst string) (*Holder, error) {
	mh := &Holder{
		Bytes:     body,
		MediaType: mediaType,
		Digest:    dgst,
	}
	switch {
	case IsIndex(mediaType):
		mh.Type = IndexType
		if err := json.Unmarshal(body, &mh.Ix); err != nil {
			return nil, fmt.Errorf("error parsing image index: %w", err)
		}
	case IsManifest(mediaType):
		mh.Type = ImageType
		if err := json.Unmarshal(body, &mh.Im); err != nil {
			return nil, fmt.Errorf("error parsing image manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest media type: %s", mediaType)
	}
	return mh, nil
}

// IsImageManifest returns true if the holder has a concrete image manifest,
// and false if it has a fat manifest (i.e. a manifest containing a list of
// image manifests.)
func (mh *Holder) IsImageManifest() bool {
	return mh.Type == ImageType
}

// IsForeignLayer returns true if the passed descriptor references a foreign
// (cross-registry) layer. Foreign layers are not transferred - their bytes
// live outside the source registry - but their descriptors carry through to
// the republished manifest untouched.
func IsForeignLayer(desc Descriptor) bool {
	return strings.Contains(desc.MediaType, "foreign")
}

// BlobDescriptors returns the descriptors of every blob that must be
// transferred to replicate the held image manifest: the config followed by
// each non-foreign layer, de-duplicated by digest. Order within the result
// carries no transfer-ordering meaning.
func (mh *Holder) BlobDescriptors() []Descriptor {
	if !mh.IsImageManifest() {
		return nil
	}
	seen := map[string]bool{}
	descs := make([]Descriptor, 0, len(mh.Im.Layers)+1)
	for _, desc := range append([]Descriptor{mh.Im.Config}, mh.Im.Layers...) {
		if IsForeignLayer(desc) {
			continue
		}
		if seen[desc.Digest] {
			continue
		}
		seen[desc.Digest] = true
		descs = append(descs, desc)
	}
	return descs
}

// ChildDigests returns the manifest digest of each entry of the held index.
func (mh *Holder) ChildDigests() []string {
	digests := make([]string, 0, len(mh.Ix.Manifests))
	for _, desc := range mh.Ix.Manifests {
		digests = append(digests, desc.Digest)
	}
	return digests
}
