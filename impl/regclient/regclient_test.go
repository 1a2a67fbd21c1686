package regclient

import (
	"bytes"
	"context"
	"io"
	"testing"

	"imgsync/impl/codec"
	"imgsync/impl/imageref"
	"imgsync/mock"
)

func newTestClient(t *testing.T, reg *mock.Registry, cred imageref.Credential) *Client {
	t.Helper()
	c, err := New(reg.Url, cred, Opts{Scheme: "http"})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGetManifest(t *testing.T) {
	reg := mock.Server()
	defer reg.Close()
	seeded := reg.SeedImage("hello-world", "latest")
	c := newTestClient(t, reg, imageref.Credential{})

	mh, err := c.GetManifest(context.Background(), "hello-world", "latest")
	if err != nil {
		t.Fatal(err)
	}
	if !mh.IsImageManifest() {
		t.Fail()
	}
	if mh.Digest != seeded.ManifestDigest {
		t.Errorf("digest mismatch: %s != %s", mh.Digest, seeded.ManifestDigest)
	}
	if !bytes.Equal(mh.Bytes, seeded.ManifestBytes) {
		t.Error("manifest bytes must be relayed exactly")
	}
	// fetch by digest too
	if _, err = c.GetManifest(context.Background(), "hello-world", seeded.ManifestDigest); err != nil {
		t.Fatal(err)
	}
	// absent manifest
	if _, err = c.GetManifest(context.Background(), "hello-world", "no-such-tag"); !IsKind(err, ManifestNotFound) {
		t.Errorf("expected ManifestNotFound, got %v", err)
	}
}

func TestPutManifest(t *testing.T) {
	reg := mock.Server()
	defer reg.Close()
	seeded := reg.SeedImage("src/repo", "v1")
	c := newTestClient(t, reg, imageref.Credential{})

	if err := c.PutManifest(context.Background(), "dst/repo", "v1", seeded.ManifestBytes, "application/vnd.oci.image.manifest.v1+json"); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(reg.GetManifest("dst/repo", "v1"), seeded.ManifestBytes) {
		t.Error("stored manifest mismatch")
	}

	rejecting := mock.ServerWithParams(mock.MockParams{RejectManifestPut: true})
	defer rejecting.Close()
	c = newTestClient(t, rejecting, imageref.Credential{})
	if err := c.PutManifest(context.Background(), "dst/repo", "v1", seeded.ManifestBytes, "application/vnd.oci.image.manifest.v1+json"); !IsKind(err, ManifestPushRejected) {
		t.Errorf("expected ManifestPushRejected, got %v", err)
	}
}

func TestPullBlobStream(t *testing.T) {
	reg := mock.Server()
	defer reg.Close()
	payload := []byte("some blob bytes")
	dgst := reg.SeedBlob(payload)
	c := newTestClient(t, reg, imageref.Credential{})

	stream, size, err := c.PullBlobStream(context.Background(), "hello-world", dgst)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	if size != int64(len(payload)) {
		t.Errorf("wrong size: %d", size)
	}
	got, err := io.ReadAll(stream)
	if err != nil {
		t.Fatal(err)
	}
	if codec.SHA256(got).String() != dgst {
		t.Error("pulled bytes do not hash to the declared digest")
	}
}

func TestPullBlobStreamRedirect(t *testing.T) {
	// the mock rejects redirected requests that carry Authorization, so
	// this also proves the credential is stripped on re-request
	reg := mock.ServerWithParams(mock.MockParams{RedirectBlobs: true, Auth: mock.BASIC})
	defer reg.Close()
	payload := []byte("redirected blob bytes")
	dgst := reg.SeedBlob(payload)
	c := newTestClient(t, reg, imageref.Credential{User: "foo", Password: "bar"})

	stream, _, err := c.PullBlobStream(context.Background(), "hello-world", dgst)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()
	got, _ := io.ReadAll(stream)
	if !bytes.Equal(got, payload) {
		t.Error("redirected pull returned wrong bytes")
	}
}

func TestPullBlobStreamMissingLocation(t *testing.T) {
	reg := mock.ServerWithParams(mock.MockParams{OmitRedirectLocation: true})
	defer reg.Close()
	dgst := reg.SeedBlob([]byte("unreachable"))
	c := newTestClient(t, reg, imageref.Credential{})

	_, _, err := c.PullBlobStream(context.Background(), "hello-world", dgst)
	if !IsKind(err, MissingRedirectLocation) {
		t.Errorf("expected MissingRedirectLocation, got %v", err)
	}
}

func TestPullBlobStreamNotFound(t *testing.T) {
	reg := mock.Server()
	defer reg.Close()
	c := newTestClient(t, reg, imageref.Credential{})
	_, _, err := c.PullBlobStream(context.Background(), "hello-world",
		"sha256:1f4b135e01d3a187bf4e5756074ffdf4d0a4e56c3bd8b0cc72b5ee57e5e79ba7")
	if !IsKind(err, UnexpectedStatus) {
		t.Errorf("expected UnexpectedStatus, got %v", err)
	}
}

func TestHeadBlobSize(t *testing.T) {
	reg := mock.Server()
	defer reg.Close()
	payload := []byte("sized blob")
	dgst := reg.SeedBlob(payload)
	c := newTestClient(t, reg, imageref.Credential{})

	size, err := c.HeadBlobSize(context.Background(), "hello-world", dgst)
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len(payload)) {
		t.Errorf("wrong size: %d", size)
	}

	sizeless := mock.ServerWithParams(mock.MockParams{OmitBlobSize: true})
	defer sizeless.Close()
	dgst = sizeless.SeedBlob(payload)
	c = newTestClient(t, sizeless, imageref.Credential{})
	if _, err := c.HeadBlobSize(context.Background(), "hello-world", dgst); !IsKind(err, UnknownBlobSize) {
		t.Errorf("expected UnknownBlobSize, got %v", err)
	}
}

func TestPushBlobStream(t *testing.T) {
	reg := mock.Server()
	defer reg.Close()
	c := newTestClient(t, reg, imageref.Credential{})
	payload := []byte("pushed blob bytes")
	dgst := codec.SHA256(payload).String()

	if err := c.PushBlobStream(context.Background(), "dst/repo", dgst, bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(reg.BlobBytes(dgst), payload) {
		t.Error("pushed bytes mismatch")
	}

	rejecting := mock.ServerWithParams(mock.MockParams{RejectUploads: true})
	defer rejecting.Close()
	c = newTestClient(t, rejecting, imageref.Credential{})
	if err := c.PushBlobStream(context.Background(), "dst/repo", dgst, bytes.NewReader(payload), int64(len(payload))); !IsKind(err, UploadSessionRejected) {
		t.Errorf("expected UploadSessionRejected, got %v", err)
	}

	noLocation := mock.ServerWithParams(mock.MockParams{OmitUploadLocation: true})
	defer noLocation.Close()
	c = newTestClient(t, noLocation, imageref.Credential{})
	if _, err := c.StartBlobUpload(context.Background(), "dst/repo"); !IsKind(err, UploadSessionRejected) {
		t.Errorf("expected UploadSessionRejected, got %v", err)
	}
}

func TestPushBlobStreamRejected(t *testing.T) {
	reg := mock.Server()
	defer reg.Close()
	c := newTestClient(t, reg, imageref.Credential{})
	payload := []byte("pushed blob bytes")
	// declare a digest the bytes do not hash to, so the registry rejects
	// the finalize PUT
	wrong := codec.SHA256([]byte("different bytes")).String()

	err := c.PushBlobStream(context.Background(), "dst/repo", wrong, bytes.NewReader(payload), int64(len(payload)))
	if !IsKind(err, BlobPushRejected) {
		t.Errorf("expected BlobPushRejected, got %v", err)
	}
	if reg.HasBlob(wrong) {
		t.Error("registry stored a blob under a mismatched digest")
	}
}
