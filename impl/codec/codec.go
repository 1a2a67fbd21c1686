// Package codec has the digest and compression primitives shared by the
// transfer and export code: sha256 digest computation over buffers and
// streams, gzip magic-byte detection, and gzip encode/decode.
package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
)

// gzip streams begin with these two bytes per RFC 1952
var gzipMagic = []byte{0x1f, 0x8b}

// SHA256 computes the sha256 digest of the passed buffer, e.g.
// 'sha256:44136f...'.
func SHA256(b []byte) digest.Digest {
	return digest.FromBytes(b)
}

// SHA256Reader consumes the passed reader to EOF, returning the sha256
// digest and the byte count of everything read.
func SHA256Reader(r io.Reader) (digest.Digest, int64, error) {
	digester := digest.SHA256.Digester()
	n, err := io.Copy(digester.Hash(), r)
	if err != nil {
		return "", n, err
	}
	return digester.Digest(), n, nil
}

// SHA256Tee copies the passed reader to the passed writer, returning the
// sha256 digest and byte count of everything copied.
func SHA256Tee(r io.Reader, w io.Writer) (digest.Digest, int64, error) {
	digester := digest.SHA256.Digester()
	n, err := io.Copy(io.MultiWriter(w, digester.Hash()), r)
	if err != nil {
		return "", n, err
	}
	return digester.Digest(), n, nil
}

// IsGzip returns true if the passed buffer begins with the gzip magic
// bytes. An empty or one-byte buffer is not gzip.
func IsGzip(b []byte) bool {
	return len(b) >= 2 && bytes.Equal(b[:2], gzipMagic)
}

// Gzip compresses the passed buffer.
func Gzip(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses the passed buffer.
func Gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
