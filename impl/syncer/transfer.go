package syncer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"imgsync/impl/codec"
	"imgsync/impl/imageref"
	"imgsync/impl/manifest"
	"imgsync/impl/metrics"
	"imgsync/impl/regclient"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// transferBlob moves one blob from source to destination. It runs as a work
// queue job: the memory gate is consulted first, so under heap pressure the
// transfer parks without holding any stream open.
func (s *Syncer) transferBlob(ctx context.Context, desc manifest.Descriptor, src imageref.ImageReference, dest imageref.ImageReference, srcClient *regclient.Client, destClient *regclient.Client, mode Mode, staging *stagingDir) error {
	if err := s.queue.MemGate(ctx); err != nil {
		return err
	}
	exists, err := destClient.HasBlob(ctx, dest.Repository, desc.Digest)
	if err == nil && exists {
		log.Debugf("blob %s already at %s - skipping", desc.Digest, dest.Registry)
		return nil
	}
	var size int64
	if mode == ModeTarball {
		size, err = s.transferViaFile(ctx, desc, src, dest, srcClient, destClient, staging)
	} else {
		size, err = s.transferStreaming(ctx, desc, src, dest, srcClient, destClient)
	}
	if err != nil {
		return err
	}
	metrics.IncBlobsCopied()
	metrics.DeltaBlobBytesCopied(float64(size))
	return nil
}

// transferStreaming pipes the pull stream straight into the push. The
// declared descriptor size is authoritative for the upload Content-Length;
// the pull's Content-Length is a fallback when the descriptor carries none.
func (s *Syncer) transferStreaming(ctx context.Context, desc manifest.Descriptor, src imageref.ImageReference, dest imageref.ImageReference, srcClient *regclient.Client, destClient *regclient.Client) (int64, error) {
	body, pulledSize, err := srcClient.PullBlobStream(ctx, src.Repository, desc.Digest)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	size := desc.Size
	if size <= 0 {
		size = pulledSize
	}
	if err := destClient.PushBlobStream(ctx, dest.Repository, desc.Digest, body, size); err != nil {
		return 0, err
	}
	return size, nil
}

// transferViaFile stages the blob in the passed staging directory, verifies
// its digest against the actual bytes on disk, then uploads from the file.
// The file is removed whether or not the upload succeeds.
func (s *Syncer) transferViaFile(ctx context.Context, desc manifest.Descriptor, src imageref.ImageReference, dest imageref.ImageReference, srcClient *regclient.Client, destClient *regclient.Client, staging *stagingDir) (int64, error) {
	body, _, err := srcClient.PullBlobStream(ctx, src.Repository, desc.Digest)
	if err != nil {
		return 0, err
	}
	path, size, err := staging.stage(desc.Digest, body)
	body.Close()
	if err != nil {
		return 0, err
	}
	defer staging.remove(path)
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if err := destClient.PushBlobStream(ctx, dest.Repository, desc.Digest, f, size); err != nil {
		return 0, err
	}
	return size, nil
}

// stagingDir is a per-invocation temp directory holding tarball-mode blob
// files. Files are named after their digest with the colon replaced so the
// name is portable.
type stagingDir struct {
	path string
}

func newStagingDir(parent string) (*stagingDir, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	path := filepath.Join(parent, "imgsync-"+uuid.NewString())
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &stagingDir{path: path}, nil
}

// stage writes the stream to a file named for the passed digest, computing
// the actual digest of the bytes as they land. A mismatch removes the file
// and fails the stage.
func (d *stagingDir) stage(dgst string, body io.Reader) (string, int64, error) {
	path := filepath.Join(d.path, strings.ReplaceAll(dgst, ":", "-"))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	actual, size, err := codec.SHA256Tee(body, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		d.remove(path)
		return "", 0, err
	}
	if actual.String() != dgst {
		d.remove(path)
		return "", 0, fmt.Errorf("staged blob digest %s does not match declared %s", actual, dgst)
	}
	return path, size, nil
}

// remove deletes one staged file. Cleanup failures are not load-bearing -
// the transfer result stands - so they only warn.
func (d *stagingDir) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("unable to remove staged blob file %s: %s", path, err)
	}
}

// cleanup removes the staging directory and anything left in it, warning
// rather than failing if the filesystem won't cooperate.
func (d *stagingDir) cleanup() {
	if err := os.RemoveAll(d.path); err != nil {
		log.Warnf("unable to remove staging directory %s: %s", d.path, err)
	}
}
