// Package export writes a pulled image to local disk in one of two formats:
// the legacy docker-save tarball, or the OCI image layout directory.
//
// Layer compression in the OCI layout follows one policy: the actual bytes
// decide. A layer whose bytes begin with the gzip magic is written verbatim
// and keeps its digest; a raw layer is compressed and its descriptor digest
// and size are recomputed from the compressed bytes. Either way the layer
// media type in the layout ends in +gzip.
package export

import (
	"context"
	"fmt"

	"imgsync/impl/manifest"
)

// BlobSource returns the bytes of one blob by digest. The export writers
// pull config and layer blobs through it so they are agnostic to whether
// the image comes from a registry or a local store.
type BlobSource func(ctx context.Context, dgst string) ([]byte, error)

// requireImage rejects an index holder - export operates on one concrete
// image, resolved per platform before export.
func requireImage(mh *manifest.Holder) error {
	if !mh.IsImageManifest() {
		return fmt.Errorf("cannot export %s: a multi-platform index must be resolved to one platform manifest first", mh.Digest)
	}
	return nil
}
