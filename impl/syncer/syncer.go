// Package syncer drives image replication: resolve the source manifest,
// fan out per platform for an index, transfer every blob through the
// memory-gated work queue, then republish the manifest byte-for-byte at the
// destination.
//
// Parallelism comes from two independent knobs: the work queue's adaptive
// concurrency (at most workqueue.MaxConcurrency blob transfers per image)
// and the index recursion limiter (indexParallelism concurrent sub-copies).
// Total in-flight blob transfers for one index copy is therefore bounded by
// indexParallelism x the queue's current concurrency.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"imgsync/impl/imageref"
	"imgsync/impl/manifest"
	"imgsync/impl/metrics"
	"imgsync/impl/regclient"
	"imgsync/impl/workqueue"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Mode selects the blob transfer strategy.
type Mode int

const (
	// ModeBuffer pipes the pull stream directly into the push - constant
	// memory, no local disk
	ModeBuffer Mode = iota
	// ModeTarball stages each blob in a temp file before re-upload -
	// trades memory for disk I/O and makes partial downloads inspectable
	ModeTarball
)

// ParseMode parses "buffer" or "tarball".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "buffer":
		return ModeBuffer, nil
	case "tarball":
		return ModeTarball, nil
	}
	return ModeBuffer, fmt.Errorf("unknown sync mode: %s", s)
}

const defaultIndexParallelism = 2

// ErrBlobTooLarge means a blob's probed size exceeds the configured
// maximum - the sync fails before any bytes of that image are transferred.
var ErrBlobTooLarge = errors.New("blob exceeds the configured maximum size")

// Opts configures a 'Syncer'.
type Opts struct {
	// MaxBlobSize fails a sync whose image has any blob larger than this.
	// Zero means unlimited. Sizes are probed with HEAD before transfer.
	MaxBlobSize int64
	// TempDir is where tarball-mode staging directories are created,
	// defaulting to the OS temp dir
	TempDir string
	// IndexParallelism bounds concurrent per-platform sub-copies of one
	// index, defaulting to 2
	IndexParallelism int
	// RegistryOpts resolves per-registry client options (scheme, TLS).
	// Nil means defaults (https) for every registry.
	RegistryOpts func(registry string) regclient.Opts
}

// Syncer replicates images between registries. Each instance owns its work
// queue; multiple syncers (e.g. one per registry pair) can coexist with
// independent queues.
type Syncer struct {
	queue *workqueue.Queue
	opts  Opts

	mu      sync.Mutex
	clients map[string]*regclient.Client
}

// New creates a 'Syncer' around the passed work queue. The queue's
// lifecycle belongs to the caller.
func New(queue *workqueue.Queue, opts Opts) *Syncer {
	if opts.IndexParallelism <= 0 {
		opts.IndexParallelism = defaultIndexParallelism
	}
	return &Syncer{
		queue:   queue,
		opts:    opts,
		clients: map[string]*regclient.Client{},
	}
}

// GetMetrics returns the work queue metrics snapshot.
func (s *Syncer) GetMetrics() workqueue.Metrics {
	return s.queue.GetMetrics()
}

// SyncImage replicates the image at 'src' to 'dest'. For a multi-platform
// index every child manifest is copied first (bounded parallelism) and the
// index body is republished unchanged only after all children succeed. For
// a concrete manifest every blob is transferred, then the manifest body is
// republished unchanged - digests and sizes preserved. Any blob failure
// aborts the invocation with no manifest republish. Cancelling the passed
// context unwinds pending transfers and memory-gate waits.
func (s *Syncer) SyncImage(ctx context.Context, src imageref.ImageReference, dest imageref.ImageReference, mode Mode) error {
	err := s.syncImage(ctx, src, dest, mode)
	if err != nil {
		metrics.IncSyncErrors()
		log.Errorf("sync %s -> %s failed: %s", src.Url(), dest.Url(), err)
	}
	return err
}

func (s *Syncer) syncImage(ctx context.Context, src imageref.ImageReference, dest imageref.ImageReference, mode Mode) error {
	srcClient, err := s.client(src)
	if err != nil {
		return err
	}
	destClient, err := s.client(dest)
	if err != nil {
		return err
	}
	log.Infof("sync %s -> %s", src.Url(), dest.Url())
	mh, err := srcClient.GetManifest(ctx, src.Repository, src.Reference)
	if err != nil {
		return err
	}
	if mh.IsImageManifest() {
		return s.copyManifest(ctx, mh, src, dest, srcClient, destClient, mode)
	}
	return s.copyIndex(ctx, mh, src, dest, destClient, mode)
}

// copyIndex recursively copies each entry of the passed index, then
// republishes the index body at the destination reference. A failed child
// fails the whole copy - a partial index is never published.
func (s *Syncer) copyIndex(ctx context.Context, mh *manifest.Holder, src imageref.ImageReference, dest imageref.ImageReference, destClient *regclient.Client, mode Mode) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.IndexParallelism)
	for _, childDigest := range mh.ChildDigests() {
		childDigest := childDigest
		group.Go(func() error {
			return s.syncImage(groupCtx, src.WithDigest(childDigest), dest.WithDigest(childDigest), mode)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	if err := destClient.PutManifest(ctx, dest.Repository, dest.Reference, mh.Bytes, mh.MediaType); err != nil {
		return err
	}
	metrics.IncIndexesCopied()
	log.Infof("republished index %s at %s", mh.Digest, dest.Url())
	return nil
}

// copyManifest transfers every blob of the passed concrete manifest, then
// republishes the manifest body. Blob sizes are probed up front so an
// over-limit blob fails the sync before any bytes move.
func (s *Syncer) copyManifest(ctx context.Context, mh *manifest.Holder, src imageref.ImageReference, dest imageref.ImageReference, srcClient *regclient.Client, destClient *regclient.Client, mode Mode) error {
	descs := mh.BlobDescriptors()
	if s.opts.MaxBlobSize > 0 {
		for _, desc := range descs {
			size, err := srcClient.HeadBlobSize(ctx, src.Repository, desc.Digest)
			if err != nil {
				return err
			}
			if size > s.opts.MaxBlobSize {
				return fmt.Errorf("blob %s is %d bytes (limit %d): %w", desc.Digest, size, s.opts.MaxBlobSize, ErrBlobTooLarge)
			}
		}
	}

	var staging *stagingDir
	if mode == ModeTarball {
		var err error
		staging, err = newStagingDir(s.opts.TempDir)
		if err != nil {
			return err
		}
		defer staging.cleanup()
	}

	pendings := make([]*workqueue.Pending, 0, len(descs))
	for _, desc := range descs {
		desc := desc
		pending, err := s.queue.Enqueue(func(jobCtx context.Context) error {
			return s.transferBlob(ctx, desc, src, dest, srcClient, destClient, mode, staging)
		})
		if err != nil {
			if errors.Is(err, workqueue.ErrQueueOverflow) {
				metrics.IncQueueRejections()
			}
			// settle what was already admitted before surfacing
			for _, admitted := range pendings {
				admitted.Wait(ctx)
			}
			return err
		}
		pendings = append(pendings, pending)
	}

	var transferErr error
	for _, pending := range pendings {
		if err := pending.Wait(ctx); err != nil && transferErr == nil {
			transferErr = err
		}
	}
	if transferErr != nil {
		return transferErr
	}

	// strictly ordered after every blob of this manifest settled
	if err := destClient.PutManifest(ctx, dest.Repository, dest.Reference, mh.Bytes, mh.MediaType); err != nil {
		return err
	}
	metrics.IncManifestsCopied()
	log.Infof("republished manifest %s at %s", mh.Digest, dest.Url())
	return nil
}

// client returns the (cached) protocol client for the passed reference's
// registry and credential.
func (s *Syncer) client(ref imageref.ImageReference) (*regclient.Client, error) {
	key := ref.Registry + "|" + ref.Credential.User + "|" + ref.Credential.Token
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, exists := s.clients[key]; exists {
		return c, nil
	}
	opts := regclient.Opts{}
	if s.opts.RegistryOpts != nil {
		opts = s.opts.RegistryOpts(ref.Registry)
	}
	c, err := regclient.New(ref.Registry, ref.Credential, opts)
	if err != nil {
		return nil, err
	}
	s.clients[key] = c
	return c, nil
}
