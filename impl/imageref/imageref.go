// Package imageref parses and formats image references like
// 'quay.io/argoproj/argocd:v2.11.11' or 'docker.io/library/hello-world@sha256:...'.
package imageref

import (
	"fmt"
	"strings"
)

// RefType differentiates a reference by tag vs. by digest.
type RefType int

const (
	ByTag RefType = iota
	ByDigest
)

// Credential carries a pre-resolved credential for one registry. Either
// User/Password (basic) or Token (bearer) - never both. The zero value
// means anonymous access.
type Credential struct {
	User     string
	Password string
	Token    string
}

// IsZero returns true if the credential carries nothing.
func (c Credential) IsZero() bool {
	return c.User == "" && c.Password == "" && c.Token == ""
}

// ImageReference has the individual components of an image reference plus
// the credential resolved for its registry. If initialized with
// 'quay.io/argoproj/argocd:v2.11.11' then the struct members are like so:
//
//	RefType    = ByTag
//	Registry   = quay.io
//	Repository = argoproj/argocd
//	Reference  = v2.11.11
//
// Instances are immutable once constructed. A multi-platform copy constructs
// one child per platform with 'WithDigest'.
type ImageReference struct {
	RefType    RefType
	Registry   string
	Repository string
	Reference  string
	Credential Credential
}

// New returns an 'ImageReference' from the passed components.
func New(registry, repository, reference string, cred Credential) ImageReference {
	return ImageReference{
		RefType:    typeFromRef(reference),
		Registry:   strings.ToLower(registry),
		Repository: strings.ToLower(repository),
		Reference:  reference,
		Credential: cred,
	}
}

// Parse parses the passed image url (e.g. docker.io/library/hello-world:latest,
// or quay.io/argoproj/argocd@sha256:...) into an 'ImageReference'. The url
// MUST begin with a registry ref (e.g. quay.io) - it is not inferred.
func Parse(url string) (ImageReference, error) {
	slash := strings.Index(url, "/")
	if slash < 0 {
		return ImageReference{}, fmt.Errorf("unable to parse image url: %s", url)
	}
	registry := url[:slash]
	if !strings.Contains(registry, ".") && !strings.Contains(registry, ":") && registry != "localhost" {
		return ImageReference{}, fmt.Errorf("image url must begin with a registry host: %s", url)
	}
	remainder := url[slash+1:]
	repository := remainder
	reference := "latest"
	if at := strings.Index(remainder, "@"); at >= 0 {
		repository = remainder[:at]
		reference = remainder[at+1:]
	} else if colon := strings.LastIndex(remainder, ":"); colon >= 0 {
		repository = remainder[:colon]
		reference = remainder[colon+1:]
	}
	if repository == "" || reference == "" {
		return ImageReference{}, fmt.Errorf("unable to parse image url: %s", url)
	}
	return New(registry, repository, reference, Credential{}), nil
}

// Url formats the instance as an image reference like
// 'quay.io/argoproj/argocd:n.n.n'.
func (ref ImageReference) Url() string {
	separator := ":"
	if ref.RefType == ByDigest {
		separator = "@"
	}
	return fmt.Sprintf("%s/%s%s%s", ref.Registry, ref.Repository, separator, ref.Reference)
}

// WithDigest copies the receiver, replacing the reference with the passed
// digest. Used when recursing into the entries of an image index: each entry
// of the index is addressed by digest in the same repository.
func (ref ImageReference) WithDigest(digest string) ImageReference {
	return ImageReference{
		RefType:    ByDigest,
		Registry:   ref.Registry,
		Repository: ref.Repository,
		Reference:  digest,
		Credential: ref.Credential,
	}
}

// WithCredential copies the receiver, attaching the passed credential.
func (ref ImageReference) WithCredential(cred Credential) ImageReference {
	ref.Credential = cred
	return ref
}

// typeFromRef looks at the passed 'ref' and if it's a digest ref then returns
// 'ByDigest' else returns 'ByTag'.
func typeFromRef(ref string) RefType {
	if strings.HasPrefix(ref, "sha256:") {
		return ByDigest
	}
	return ByTag
}
