package regclient

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a registry protocol failure. Every error
// surfaced by this package is a '*RegistryError' carrying one of these.
type Kind string

const (
	// ManifestNotFound - the manifests endpoint returned non-2xx on GET
	ManifestNotFound Kind = "ManifestNotFound"
	// ManifestPushRejected - the manifests endpoint returned non-2xx on PUT
	ManifestPushRejected Kind = "ManifestPushRejected"
	// MissingRedirectLocation - a 3xx blob-pull response had no Location header
	MissingRedirectLocation Kind = "MissingRedirectLocation"
	// UnexpectedStatus - a blob pull returned something other than 2xx/3xx
	UnexpectedStatus Kind = "UnexpectedStatus"
	// UnknownBlobSize - a HEAD size probe had no parseable Content-Length
	UnknownBlobSize Kind = "UnknownBlobSize"
	// UploadSessionRejected - the upload-session POST did not answer 202 with a Location
	UploadSessionRejected Kind = "UploadSessionRejected"
	// BlobPushRejected - the finalizing blob PUT did not answer 201
	BlobPushRejected Kind = "BlobPushRejected"
)

// RegistryError is a registry protocol failure with the repository/reference
// context needed to make the terminal sync error actionable.
type RegistryError struct {
	Kind       Kind
	Registry   string
	Repository string
	// Reference is a tag, digest, or upload session url depending on the Kind
	Reference string
	Status    int
}

func (e *RegistryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s/%s %s (status %d)", e.Kind, e.Registry, e.Repository, e.Reference, e.Status)
	}
	return fmt.Sprintf("%s: %s/%s %s", e.Kind, e.Registry, e.Repository, e.Reference)
}

// IsKind returns true if the passed error is a '*RegistryError' of the
// passed kind.
func IsKind(err error, kind Kind) bool {
	var re *RegistryError
	return errors.As(err, &re) && re.Kind == kind
}
