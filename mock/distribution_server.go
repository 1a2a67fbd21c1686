package mock

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"time"

	"imgsync/impl/codec"

	"github.com/google/uuid"
)

// MockParams supports different configurations for the mock OCI
// distribution server.
type MockParams struct {
	// Auth requires basic auth on every request when set
	Auth AuthType
	// DelayMs simulates slow links or large images
	DelayMs int
	// RedirectBlobs answers blob GETs with a 302 to an unauthenticated
	// second location
	RedirectBlobs bool
	// OmitRedirectLocation answers blob GETs with a bare 302 - no
	// Location header
	OmitRedirectLocation bool
	// RejectManifestPut fails every manifest PUT with 500
	RejectManifestPut bool
	// RejectUploads fails every upload-session POST with 500
	RejectUploads bool
	// OmitUploadLocation answers the upload-session POST 202 with no
	// Location header
	OmitUploadLocation bool
	// OmitBlobSize omits Content-Length from blob HEAD responses
	OmitBlobSize bool
}

type AuthType string

const (
	BASIC AuthType = "basic auth"
	NONE  AuthType = "no auth"
)

// Registry is one in-memory distribution server instance.
type Registry struct {
	Server *httptest.Server
	// Url is the server url without the scheme, usable as a registry host
	Url    string
	params MockParams

	mu        sync.Mutex
	manifests map[string]storedManifest // keyed by repo+":"+ref and repo+":"+digest
	blobs     map[string][]byte         // keyed by digest
	uploads   map[string]string         // session id -> repo
	puts      int
	// in-flight and high-water manifest GET counts, for concurrency
	// assertions
	manifestGets     int
	peakManifestGets int
}

type storedManifest struct {
	body      []byte
	mediaType string
	digest    string
}

var (
	schemeRe    = regexp.MustCompile(`https?://`)
	manifestsRe = regexp.MustCompile(`^/v2/(.*)/manifests/([^/]+)$`)
	blobsRe     = regexp.MustCompile(`^/v2/(.*)/blobs/(sha256:[a-f0-9]{64})$`)
	uploadsRe   = regexp.MustCompile(`^/v2/(.*)/blobs/uploads/$`)
	sessionRe   = regexp.MustCompile(`^/v2/(.*)/blobs/uploads/([^/?]+)$`)
	redirectRe  = regexp.MustCompile(`^/redirected/(sha256:[a-f0-9]{64})$`)
)

// Server runs a mock distribution server with default params.
func Server() *Registry {
	return ServerWithParams(MockParams{})
}

// ServerWithParams runs a mock distribution server configured by the
// passed params.
func ServerWithParams(params MockParams) *Registry {
	r := &Registry{
		params:    params,
		manifests: map[string]storedManifest{},
		blobs:     map[string][]byte{},
		uploads:   map[string]string{},
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.handle))
	r.Url = schemeRe.ReplaceAllString(r.Server.URL, "")
	return r
}

// Close stops the server.
func (r *Registry) Close() {
	r.Server.Close()
}

// SeedManifest stores a manifest so it is served at both the passed
// reference and its own digest. Returns the manifest digest.
func (r *Registry) SeedManifest(repo string, ref string, body []byte, mediaType string) string {
	dgst := codec.SHA256(body).String()
	sm := storedManifest{body: body, mediaType: mediaType, digest: dgst}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifests[repo+":"+ref] = sm
	r.manifests[repo+":"+dgst] = sm
	return dgst
}

// SeedBlob stores a blob, returning its digest.
func (r *Registry) SeedBlob(body []byte) string {
	dgst := codec.SHA256(body).String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[dgst] = body
	return dgst
}

// GetManifest returns the stored manifest for the passed repo and ref,
// or nil if absent.
func (r *Registry) GetManifest(repo string, ref string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sm, exists := r.manifests[repo+":"+ref]; exists {
		return sm.body
	}
	return nil
}

// HasBlob returns true if the blob with the passed digest was pushed or
// seeded.
func (r *Registry) HasBlob(dgst string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.blobs[dgst]
	return exists
}

// BlobBytes returns the stored bytes of the passed digest, or nil.
func (r *Registry) BlobBytes(dgst string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blobs[dgst]
}

// ManifestPuts returns the count of manifest PUT requests handled.
func (r *Registry) ManifestPuts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts
}

// PeakManifestGets returns the high-water count of concurrently in-flight
// manifest GET requests. Combine with DelayMs to observe caller-side
// parallelism.
func (r *Registry) PeakManifestGets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peakManifestGets
}

func (r *Registry) trackManifestGet() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifestGets++
	if r.manifestGets > r.peakManifestGets {
		r.peakManifestGets = r.manifestGets
	}
}

func (r *Registry) untrackManifestGet() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifestGets--
}

func (r *Registry) handle(w http.ResponseWriter, req *http.Request) {
	// the tracked window must span the delay so that overlapping requests
	// are observed as overlapping
	if req.Method == http.MethodGet && manifestsRe.MatchString(req.URL.Path) {
		r.trackManifestGet()
		defer r.untrackManifestGet()
	}
	if r.params.DelayMs != 0 {
		time.Sleep(time.Duration(r.params.DelayMs) * time.Millisecond)
	}
	if r.params.Auth == BASIC {
		if _, _, ok := req.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}
	p := req.URL.Path
	switch {
	case p == "/v2/":
		w.WriteHeader(http.StatusOK)
	case redirectRe.MatchString(p):
		// redirect target must not receive the original Authorization
		if req.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		r.serveBlob(w, req, redirectRe.FindStringSubmatch(p)[1], false)
	case uploadsRe.MatchString(p) && req.Method == http.MethodPost:
		r.handleUploadStart(w, uploadsRe.FindStringSubmatch(p)[1])
	case sessionRe.MatchString(p) && req.Method == http.MethodPut:
		r.handleUploadFinalize(w, req, sessionRe.FindStringSubmatch(p)[2])
	case manifestsRe.MatchString(p):
		m := manifestsRe.FindStringSubmatch(p)
		r.handleManifest(w, req, m[1], m[2])
	case blobsRe.MatchString(p):
		r.serveBlob(w, req, blobsRe.FindStringSubmatch(p)[2], true)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (r *Registry) handleManifest(w http.ResponseWriter, req *http.Request, repo string, ref string) {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		r.mu.Lock()
		sm, exists := r.manifests[repo+":"+ref]
		r.mu.Unlock()
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(sm.body)))
		w.Header().Set("Content-Type", sm.mediaType)
		w.Header().Set("Docker-Content-Digest", sm.digest)
		w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
		if req.Method == http.MethodGet {
			w.Write(sm.body)
		}
	case http.MethodPut:
		r.mu.Lock()
		r.puts++
		r.mu.Unlock()
		if r.params.RejectManifestPut {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body := readAll(req)
		r.SeedManifest(repo, ref, body, req.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (r *Registry) serveBlob(w http.ResponseWriter, req *http.Request, dgst string, redirectable bool) {
	if redirectable && req.Method == http.MethodGet && (r.params.RedirectBlobs || r.params.OmitRedirectLocation) {
		if !r.params.OmitRedirectLocation {
			w.Header().Set("Location", "/redirected/"+dgst)
		}
		w.WriteHeader(http.StatusFound)
		return
	}
	r.mu.Lock()
	body, exists := r.blobs[dgst]
	r.mu.Unlock()
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !(req.Method == http.MethodHead && r.params.OmitBlobSize) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if req.Method == http.MethodGet {
		w.Write(body)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

func (r *Registry) handleUploadStart(w http.ResponseWriter, repo string) {
	if r.params.RejectUploads {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	session := uuid.New().String()
	r.mu.Lock()
	r.uploads[session] = repo
	r.mu.Unlock()
	if !r.params.OmitUploadLocation {
		w.Header().Set("Location", fmt.Sprintf("/v2/%s/blobs/uploads/%s", repo, session))
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Registry) handleUploadFinalize(w http.ResponseWriter, req *http.Request, session string) {
	r.mu.Lock()
	_, exists := r.uploads[session]
	delete(r.uploads, session)
	r.mu.Unlock()
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	dgst := req.URL.Query().Get("digest")
	body := readAll(req)
	if dgst == "" || codec.SHA256(body).String() != dgst {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.blobs[dgst] = body
	r.mu.Unlock()
	w.Header().Set("Docker-Content-Digest", dgst)
	w.WriteHeader(http.StatusCreated)
}

func readAll(req *http.Request) []byte {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil
	}
	return body
}
