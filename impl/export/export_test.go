package export

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"imgsync/impl/codec"
	"imgsync/impl/imageref"
	"imgsync/impl/manifest"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// testImage builds a two-layer image: the first layer gzipped, the second
// raw bytes. Returns the holder, a blob source over the built blobs, and
// the two layer payloads (uncompressed).
func testImage(t *testing.T) (*manifest.Holder, BlobSource, []byte, []byte) {
	t.Helper()
	blobs := map[string][]byte{}
	put := func(b []byte) string {
		dgst := codec.SHA256(b).String()
		blobs[dgst] = b
		return dgst
	}
	payloadOne := []byte("files of the first layer")
	payloadTwo := []byte("files of the second layer")
	zippedOne, err := codec.Gzip(payloadOne)
	if err != nil {
		t.Fatal(err)
	}
	config := []byte(`{"architecture":"amd64","os":"linux"}`)
	im := manifest.ImageManifest{
		SchemaVersion: 2,
		MediaType:     manifest.MediaTypeOciManifest,
		Config: manifest.Descriptor{
			MediaType: "application/vnd.oci.image.config.v1+json",
			Digest:    put(config),
			Size:      int64(len(config)),
		},
		Layers: []manifest.Descriptor{
			{MediaType: "application/vnd.oci.image.layer.v1.tar+gzip", Digest: put(zippedOne), Size: int64(len(zippedOne))},
			{MediaType: "application/vnd.oci.image.layer.v1.tar", Digest: put(payloadTwo), Size: int64(len(payloadTwo))},
		},
	}
	body, err := json.Marshal(im)
	if err != nil {
		t.Fatal(err)
	}
	mh, err := manifest.NewHolder(body, manifest.MediaTypeOciManifest, codec.SHA256(body).String())
	if err != nil {
		t.Fatal(err)
	}
	src := func(_ context.Context, dgst string) ([]byte, error) {
		b, exists := blobs[dgst]
		if !exists {
			return nil, fmt.Errorf("no blob %s", dgst)
		}
		return b, nil
	}
	return mh, src, payloadOne, payloadTwo
}

func TestSaveAsOCIImageLayout(t *testing.T) {
	mh, src, payloadOne, payloadTwo := testImage(t)
	dir := t.TempDir()
	ref := imageref.New("registry.example.com", "frobozz/busybox", "v1.2.3", imageref.Credential{})
	if err := SaveAsOCIImageLayout(context.Background(), src, mh, ref, dir); err != nil {
		t.Fatalf("export failed: %s", err)
	}

	layoutBytes, err := os.ReadFile(filepath.Join(dir, "oci-layout"))
	if err != nil {
		t.Fatalf("oci-layout missing: %s", err)
	}
	var layout ocispec.ImageLayout
	if err := json.Unmarshal(layoutBytes, &layout); err != nil || layout.Version != "1.0.0" {
		t.Errorf("bad oci-layout content: %s (%v)", layoutBytes, err)
	}

	indexBytes, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		t.Fatalf("index.json missing: %s", err)
	}
	var ix ocispec.Index
	if err := json.Unmarshal(indexBytes, &ix); err != nil {
		t.Fatal(err)
	}
	if len(ix.Manifests) != 1 {
		t.Fatalf("expected one index entry, got %d", len(ix.Manifests))
	}
	if ix.Manifests[0].Annotations[ocispec.AnnotationRefName] != "v1.2.3" {
		t.Errorf("index entry not annotated with the tag: %v", ix.Manifests[0].Annotations)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, "blobs", "sha256", ix.Manifests[0].Digest.Encoded()))
	if err != nil {
		t.Fatalf("manifest blob missing: %s", err)
	}
	var written ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &written); err != nil {
		t.Fatal(err)
	}
	if len(written.Layers) != 2 {
		t.Fatalf("expected two layers, got %d", len(written.Layers))
	}

	// already-gzipped layer: digest preserved, bytes verbatim
	if written.Layers[0].Digest.String() != mh.Im.Layers[0].Digest {
		t.Errorf("gzipped layer digest changed: %s vs %s", written.Layers[0].Digest, mh.Im.Layers[0].Digest)
	}
	// raw layer: compressed, digest recomputed
	if written.Layers[1].Digest.String() == mh.Im.Layers[1].Digest {
		t.Error("raw layer digest was not recomputed after compression")
	}
	for i, layer := range written.Layers {
		if !strings.HasSuffix(layer.MediaType, "+gzip") {
			t.Errorf("layer %d media type %s does not end in +gzip", i, layer.MediaType)
		}
		blobBytes, err := os.ReadFile(filepath.Join(dir, "blobs", "sha256", layer.Digest.Encoded()))
		if err != nil {
			t.Fatalf("layer blob %s missing: %s", layer.Digest, err)
		}
		if !codec.IsGzip(blobBytes) {
			t.Errorf("layer %d blob is not gzip on disk", i)
		}
		unzipped, err := codec.Gunzip(blobBytes)
		if err != nil {
			t.Fatal(err)
		}
		want := [][]byte{payloadOne, payloadTwo}[i]
		if !bytes.Equal(unzipped, want) {
			t.Errorf("layer %d content round-trip mismatch", i)
		}
	}
}

func TestSaveAsTarball(t *testing.T) {
	mh, src, payloadOne, payloadTwo := testImage(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "busybox.tar")
	ref := imageref.New("registry.example.com", "frobozz/busybox", "v1.2.3", imageref.Credential{})
	if err := SaveAsTarball(context.Background(), src, mh, ref, path); err != nil {
		t.Fatalf("export failed: %s", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	entries := map[string][]byte{}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		entries[hdr.Name] = body
	}

	var tms []tarManifest
	if err := json.Unmarshal(entries["manifest.json"], &tms); err != nil {
		t.Fatalf("manifest.json: %s", err)
	}
	if len(tms) != 1 {
		t.Fatalf("expected one manifest.json entry, got %d", len(tms))
	}
	tm := tms[0]
	if tm.Config != digest.Digest(mh.Im.Config.Digest).Encoded()+".json" {
		t.Errorf("unexpected Config entry %s", tm.Config)
	}
	if len(tm.RepoTags) != 1 || tm.RepoTags[0] != "frobozz/busybox:v1.2.3" {
		t.Errorf("unexpected RepoTags %v", tm.RepoTags)
	}
	if _, exists := entries[tm.Config]; !exists {
		t.Errorf("config file %s missing from archive", tm.Config)
	}
	if len(tm.Layers) != 2 {
		t.Fatalf("expected two layer entries, got %d", len(tm.Layers))
	}
	wantPayloads := [][]byte{payloadOne, payloadTwo}
	for i, layerPath := range tm.Layers {
		layerId := digest.Digest(mh.Im.Layers[i].Digest).Encoded()[:12]
		if layerPath != layerId+"/layer.tar" {
			t.Errorf("layer %d path %s not named by the first 12 digest chars", i, layerPath)
		}
		if string(entries[layerId+"/VERSION"]) != "1.0" {
			t.Errorf("layer %d VERSION = %q", i, entries[layerId+"/VERSION"])
		}
		var meta layerMeta
		if err := json.Unmarshal(entries[layerId+"/json"], &meta); err != nil || meta.Id != layerId {
			t.Errorf("layer %d metadata bad: %s (%v)", i, entries[layerId+"/json"], err)
		}
		// layer.tar holds the decompressed bytes regardless of source compression
		if !bytes.Equal(entries[layerPath], wantPayloads[i]) {
			t.Errorf("layer %d content mismatch", i)
		}
	}

	var repositories map[string]map[string]string
	if err := json.Unmarshal(entries["repositories"], &repositories); err != nil {
		t.Fatalf("repositories: %s", err)
	}
	topId := digest.Digest(mh.Im.Layers[1].Digest).Encoded()[:12]
	if repositories["frobozz/busybox"]["v1.2.3"] != topId {
		t.Errorf("repositories does not map to the top layer: %v", repositories)
	}
}

func TestExportRejectsIndex(t *testing.T) {
	ixBody, err := json.Marshal(manifest.ImageIndex{SchemaVersion: 2, MediaType: manifest.MediaTypeOciIndex})
	if err != nil {
		t.Fatal(err)
	}
	mh, err := manifest.NewHolder(ixBody, manifest.MediaTypeOciIndex, codec.SHA256(ixBody).String())
	if err != nil {
		t.Fatal(err)
	}
	src := func(context.Context, string) ([]byte, error) { return nil, nil }
	ref := imageref.New("registry.example.com", "frobozz/busybox", "v1", imageref.Credential{})
	if err := SaveAsOCIImageLayout(context.Background(), src, mh, ref, t.TempDir()); err == nil {
		t.Error("expected OCI layout export of an index to fail")
	}
	if err := SaveAsTarball(context.Background(), src, mh, ref, filepath.Join(t.TempDir(), "x.tar")); err == nil {
		t.Error("expected tarball export of an index to fail")
	}
}
