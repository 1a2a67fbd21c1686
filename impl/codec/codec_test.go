package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestSHA256(t *testing.T) {
	// sha256 of the empty string is well known
	d := SHA256([]byte{})
	if d.String() != "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("wrong digest: %s", d)
	}
}

func TestSHA256Reader(t *testing.T) {
	content := "the quick brown fox"
	d, n, err := SHA256Reader(strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(content)) {
		t.Errorf("wrong count: %d", n)
	}
	if d != SHA256([]byte(content)) {
		t.Error("reader and buffer digests disagree")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	content := []byte(strings.Repeat("layer bytes ", 100))
	zipped, err := Gzip(content)
	if err != nil {
		t.Fatal(err)
	}
	if !IsGzip(zipped) {
		t.Error("compressed bytes must carry the gzip magic")
	}
	if IsGzip(content) {
		t.Error("raw bytes must not be detected as gzip")
	}
	unzipped, err := Gunzip(zipped)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(unzipped, content) {
		t.Error("round trip mismatch")
	}
}

func TestIsGzipShort(t *testing.T) {
	if IsGzip(nil) || IsGzip([]byte{0x1f}) {
		t.Fail()
	}
	if !IsGzip([]byte{0x1f, 0x8b}) {
		t.Fail()
	}
}
