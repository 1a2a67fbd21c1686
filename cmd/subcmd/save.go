package subcmd

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"imgsync/impl/export"
	"imgsync/impl/imageref"
	"imgsync/impl/manifest"
	"imgsync/impl/regclient"

	log "github.com/sirupsen/logrus"
)

// Save runs the save sub-command: pull the image given in args[0] and
// write it to the path in args[1] in the passed format - "oci" (image
// layout directory) or "tarball" (legacy docker-save archive). A
// multi-platform index is resolved to the platform of the running host.
func Save(args []string, format string) error {
	if len(args) != 2 {
		return fmt.Errorf("the save command needs an image reference and an output path")
	}
	ref, err := parseRef(args[0])
	if err != nil {
		return err
	}
	client, err := newClient(ref)
	if err != nil {
		return err
	}
	ctx := context.Background()
	mh, err := client.GetManifest(ctx, ref.Repository, ref.Reference)
	if err != nil {
		return err
	}
	if !mh.IsImageManifest() {
		mh, err = resolvePlatform(ctx, client, ref, mh)
		if err != nil {
			return err
		}
	}
	src := export.BlobSource(func(ctx context.Context, dgst string) ([]byte, error) {
		body, _, err := client.PullBlobStream(ctx, ref.Repository, dgst)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		return io.ReadAll(body)
	})
	switch format {
	case "tarball":
		return export.SaveAsTarball(ctx, src, mh, ref, args[1])
	default:
		return export.SaveAsOCIImageLayout(ctx, src, mh, ref, args[1])
	}
}

// resolvePlatform picks the index entry matching the running host's
// platform and fetches its manifest. Falls back to the first entry when
// the index has no match (e.g. an attestation-only index).
func resolvePlatform(ctx context.Context, client *regclient.Client, ref imageref.ImageReference, mh *manifest.Holder) (*manifest.Holder, error) {
	if len(mh.Ix.Manifests) == 0 {
		return nil, fmt.Errorf("index %s has no manifests", mh.Digest)
	}
	selected := mh.Ix.Manifests[0]
	for _, desc := range mh.Ix.Manifests {
		if desc.Platform != nil && desc.Platform.Os == runtime.GOOS && desc.Platform.Architecture == runtime.GOARCH {
			selected = desc
			break
		}
	}
	log.Infof("resolved index %s to platform manifest %s", mh.Digest, selected.Digest)
	return client.GetManifest(ctx, ref.Repository, selected.Digest)
}
