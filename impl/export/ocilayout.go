package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"imgsync/impl/codec"
	"imgsync/impl/imageref"
	"imgsync/impl/manifest"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	specs "github.com/opencontainers/image-spec/specs-go"
	log "github.com/sirupsen/logrus"
)

// SaveAsOCIImageLayout writes the image at 'mh' into the passed directory
// as an OCI image layout: content-addressed files under blobs/sha256 for
// the config, each layer, and the manifest, plus index.json and the
// oci-layout marker file. The index entry is annotated with the passed
// reference's tag.
//
// The written manifest is regenerated, not relayed: layer descriptors are
// normalized per the package compression policy, so its digest generally
// differs from the source manifest's.
func SaveAsOCIImageLayout(ctx context.Context, src BlobSource, mh *manifest.Holder, ref imageref.ImageReference, dir string) error {
	if err := requireImage(mh); err != nil {
		return err
	}
	blobDir := filepath.Join(dir, "blobs", "sha256")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return err
	}

	configBytes, err := src(ctx, mh.Im.Config.Digest)
	if err != nil {
		return err
	}
	if err := writeBlob(blobDir, mh.Im.Config.Digest, configBytes); err != nil {
		return err
	}

	im := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config: ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageConfig,
			Digest:    digest.Digest(mh.Im.Config.Digest),
			Size:      int64(len(configBytes)),
		},
	}
	for _, layer := range mh.Im.Layers {
		if manifest.IsForeignLayer(layer) {
			log.Infof("skipping foreign layer %s", layer.Digest)
			continue
		}
		layerBytes, err := src(ctx, layer.Digest)
		if err != nil {
			return err
		}
		layerDigest := layer.Digest
		if !codec.IsGzip(layerBytes) {
			// freshly produced bytes: digest recomputed, never assumed
			layerBytes, err = codec.Gzip(layerBytes)
			if err != nil {
				return err
			}
			layerDigest = codec.SHA256(layerBytes).String()
		}
		if err := writeBlob(blobDir, layerDigest, layerBytes); err != nil {
			return err
		}
		im.Layers = append(im.Layers, ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageLayerGzip,
			Digest:    digest.Digest(layerDigest),
			Size:      int64(len(layerBytes)),
		})
	}

	manifestBytes, err := json.Marshal(im)
	if err != nil {
		return err
	}
	manifestDigest := codec.SHA256(manifestBytes)
	if err := writeBlob(blobDir, manifestDigest.String(), manifestBytes); err != nil {
		return err
	}

	tag := ref.Reference
	if ref.RefType == imageref.ByDigest {
		tag = "latest"
	}
	ix := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{{
			MediaType:   ocispec.MediaTypeImageManifest,
			Digest:      manifestDigest,
			Size:        int64(len(manifestBytes)),
			Annotations: map[string]string{ocispec.AnnotationRefName: tag},
		}},
	}
	indexBytes, err := json.Marshal(ix)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "index.json"), indexBytes, 0644); err != nil {
		return err
	}
	layoutBytes, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ocispec.ImageLayoutFile), layoutBytes, 0644); err != nil {
		return err
	}
	log.Infof("wrote OCI image layout for %s to %s", ref.Url(), dir)
	return nil
}

// writeBlob writes one content-addressed file named by the digest hex.
func writeBlob(blobDir string, dgst string, body []byte) error {
	return os.WriteFile(filepath.Join(blobDir, digest.Digest(dgst).Encoded()), body, 0644)
}
