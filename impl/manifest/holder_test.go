package manifest

import (
	"strings"
	"testing"
)

const imageManifestJson = `{
  "schemaVersion": 2,
  "mediaType": "application/vnd.oci.image.manifest.v1+json",
  "config": {
    "mediaType": "application/vnd.oci.image.config.v1+json",
    "digest": "sha256:d2c94e258dcb3c5ac2798d32e1249e42ef01cba4841c2234249495f87264ac5a",
    "size": 581
  },
  "layers": [
    {
      "mediaType": "application/vnd.oci.image.layer.v1.tar+gzip",
      "digest": "sha256:c1ec31eb59444d78df06a974d155e597c894ab4cda84f08294145e845394988e",
      "size": 2459
    },
    {
      "mediaType": "application/vnd.docker.image.rootfs.foreign.diff.tar.gzip",
      "digest": "sha256:aaaa31eb59444d78df06a974d155e597c894ab4cda84f08294145e845394aaaa",
      "size": 1000
    }
  ]
}`

const imageIndexJson = `{
  "schemaVersion": 2,
  "mediaType": "application/vnd.oci.image.index.v1+json",
  "manifests": [
    {
      "mediaType": "application/vnd.oci.image.manifest.v1+json",
      "digest": "sha256:e2fc4e5012d16e7fe466f5291c476431beaa1f9b90a5c2125b493ed28e2aba57",
      "size": 861,
      "platform": {"architecture": "amd64", "os": "linux"}
    },
    {
      "mediaType": "application/vnd.oci.image.manifest.v1+json",
      "digest": "sha256:f1fc4e5012d16e7fe466f5291c476431beaa1f9b90a5c2125b493ed28e2aba58",
      "size": 861,
      "platform": {"architecture": "arm64", "os": "linux"}
    }
  ]
}`

func TestDispatchByMediaType(t *testing.T) {
	mh, err := NewHolder([]byte(imageManifestJson), MediaTypeOciManifest, "sha256:ignored")
	if err != nil {
		t.Fatal(err)
	}
	if !mh.IsImageManifest() {
		t.Fail()
	}
	mh, err = NewHolder([]byte(imageIndexJson), MediaTypeOciIndex, "sha256:ignored")
	if err != nil {
		t.Fatal(err)
	}
	if mh.IsImageManifest() {
		t.Fail()
	}
	if len(mh.ChildDigests()) != 2 {
		t.Errorf("expected 2 children, got %d", len(mh.ChildDigests()))
	}
	if _, err := NewHolder([]byte(imageManifestJson), "application/vnd.frobozz+json", "sha256:ignored"); err == nil {
		t.Error("expected unsupported media type error")
	}
}

// the media type from the response header drives dispatch, even when the
// body says otherwise
func TestDispatchIgnoresBody(t *testing.T) {
	body := strings.Replace(imageIndexJson, MediaTypeOciIndex, MediaTypeOciManifest, 1)
	mh, err := NewHolder([]byte(body), MediaTypeOciIndex, "sha256:ignored")
	if err != nil {
		t.Fatal(err)
	}
	if mh.Type != IndexType {
		t.Error("dispatch must follow the header media type")
	}
}

func TestBlobDescriptorsSkipForeign(t *testing.T) {
	mh, err := NewHolder([]byte(imageManifestJson), MediaTypeOciManifest, "sha256:ignored")
	if err != nil {
		t.Fatal(err)
	}
	descs := mh.BlobDescriptors()
	// config + one layer; the foreign layer is skipped
	if len(descs) != 2 {
		t.Fatalf("expected 2 blob descriptors, got %d", len(descs))
	}
	for _, desc := range descs {
		if IsForeignLayer(desc) {
			t.Error("foreign layer must not be transferred")
		}
	}
	// but the foreign layer descriptor remains in the parsed manifest
	if len(mh.Im.Layers) != 2 {
		t.Error("foreign layer descriptor must carry through")
	}
}

func TestBlobDescriptorsDeDup(t *testing.T) {
	body := strings.ReplaceAll(imageManifestJson,
		"sha256:c1ec31eb59444d78df06a974d155e597c894ab4cda84f08294145e845394988e",
		"sha256:d2c94e258dcb3c5ac2798d32e1249e42ef01cba4841c2234249495f87264ac5a")
	mh, err := NewHolder([]byte(body), MediaTypeOciManifest, "sha256:ignored")
	if err != nil {
		t.Fatal(err)
	}
	if len(mh.BlobDescriptors()) != 1 {
		t.Error("duplicate digests must be transferred once")
	}
}
