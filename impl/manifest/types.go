// Package manifest has the manifest and image-index types and the media-type
// dispatch logic that classifies a fetched manifest. Both Docker v2 and OCI
// v1 documents parse into the same structs - the wire shapes are compatible
// for every field the replicator touches.
package manifest

// Platform is the 'platform' entry of an index 'Descriptor'.
type Platform struct {
	Architecture string   `json:"architecture"`
	Os           string   `json:"os"`
	OsVersion    string   `json:"os.version,omitempty"`
	OsFeatures   []string `json:"os.features,omitempty"`
	Variant      string   `json:"variant,omitempty"`
}

// Descriptor identifies one content-addressed object: the config, a layer,
// or - in an index - a platform-specific manifest.
type Descriptor struct {
	MediaType   string            `json:"mediaType"`
	Digest      string            `json:"digest"`
	Size        int64             `json:"size"`
	URLs        []string          `json:"urls,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	Platform    *Platform         `json:"platform,omitempty"`
}

// ImageManifest is a concrete (single-platform) image manifest.
type ImageManifest struct {
	SchemaVersion int64             `json:"schemaVersion"`
	MediaType     string            `json:"mediaType,omitempty"`
	Config        Descriptor        `json:"config"`
	Layers        []Descriptor      `json:"layers"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

// ImageIndex is a multi-platform manifest list / image index.
type ImageIndex struct {
	SchemaVersion int64             `json:"schemaVersion"`
	MediaType     string            `json:"mediaType,omitempty"`
	Manifests     []Descriptor      `json:"manifests"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}
