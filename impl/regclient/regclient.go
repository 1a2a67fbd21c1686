// Package regclient speaks the OCI distribution (registry v2) HTTP protocol
// for one registry host with one resolved credential. It covers exactly the
// operations image replication needs: manifest GET/PUT, blob pull with
// redirect handling, HEAD size probe, and the two-step blob upload session.
//
// Request execution is delegated to resty which supplies retry on HTTP 429
// with linear backoff. The two streaming operations (blob pull and push) go
// through the shared transport directly because resty buffers bodies, and a
// layer must never be materialized in memory just to relay it.
package regclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"imgsync/impl/codec"
	"imgsync/impl/imageref"
	"imgsync/impl/manifest"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

const (
	hdrContentType   = "Content-Type"
	hdrContentLength = "Content-Length"
	hdrLocation      = "Location"
	hdrDockerDigest  = "Docker-Content-Digest"

	retryCount    = 3
	retryWaitBase = time.Second
)

// Opts configures a 'Client' for one registry.
type Opts struct {
	// Scheme is http or https, defaulting to https
	Scheme string
	// TlsConfig is applied to the transport when non-nil
	TlsConfig *TlsOpts
	// OpTimeout bounds the non-streaming operations (manifest get/put,
	// head, upload session start). Zero means no client-side timeout.
	OpTimeout time.Duration
}

// TlsOpts mirrors the per-registry tls config section.
type TlsOpts struct {
	Cert               string
	Key                string
	CA                 string
	InsecureSkipVerify bool
}

// Client accesses one registry host with one resolved credential.
type Client struct {
	scheme string
	host   string
	cred   imageref.Credential
	rest   *resty.Client
	// stream issues the blob pull/push requests. Redirects are not
	// followed so the 302/307 from a blob GET can be observed and
	// re-issued without the original Authorization header.
	stream *http.Client
}

// New creates a 'Client' for the passed registry host and credential.
func New(host string, cred imageref.Credential, opts Opts) (*Client, error) {
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}
	transport, err := newTransport(opts.TlsConfig)
	if err != nil {
		return nil, err
	}
	noRedirect := func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	rest := resty.NewWithClient(&http.Client{
		Transport:     transport,
		CheckRedirect: noRedirect,
		Timeout:       opts.OpTimeout,
	})
	rest.SetRetryCount(retryCount)
	rest.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return err == nil && resp.StatusCode() == http.StatusTooManyRequests
	})
	rest.SetRetryAfter(func(c *resty.Client, resp *resty.Response) (time.Duration, error) {
		// linear, not exponential - rate-limited registries recover on
		// a fixed cadence
		return time.Duration(resp.Request.Attempt) * retryWaitBase, nil
	})
	if cred.Token != "" {
		rest.SetAuthToken(cred.Token)
	} else if cred.User != "" {
		rest.SetBasicAuth(cred.User, cred.Password)
	}
	return &Client{
		scheme: scheme,
		host:   host,
		cred:   cred,
		rest:   rest,
		stream: &http.Client{
			Transport:     transport,
			CheckRedirect: noRedirect,
		},
	}, nil
}

// Host returns the registry host this client accesses.
func (c *Client) Host() string {
	return c.host
}

// GetManifest gets the manifest for the passed repository and reference
// (tag or digest), dispatching on the response Content-Type header into a
// parsed 'manifest.Holder'. The canonical digest comes from the
// Docker-Content-Digest header when the registry provides one, otherwise
// it is computed from the body.
func (c *Client) GetManifest(ctx context.Context, repository string, reference string) (*manifest.Holder, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Accept", strings.Join(manifest.AllMediaTypes(), ", ")).
		Get(c.url("/v2/%s/manifests/%s", repository, reference))
	if err != nil {
		return nil, fmt.Errorf("error getting manifest for %s/%s: %w", c.host, repository, err)
	}
	if !is2xx(resp.StatusCode()) {
		return nil, &RegistryError{Kind: ManifestNotFound, Registry: c.host, Repository: repository, Reference: reference, Status: resp.StatusCode()}
	}
	body := resp.Body()
	dgst := resp.Header().Get(hdrDockerDigest)
	if dgst == "" {
		dgst = codec.SHA256(body).String()
	}
	return manifest.NewHolder(body, resp.Header().Get(hdrContentType), dgst)
}

// PutManifest republishes the passed manifest body at the passed reference.
// The body and media type must be exactly what was fetched from the source -
// any alteration changes the digest.
func (c *Client) PutManifest(ctx context.Context, repository string, reference string, body []byte, mediaType string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader(hdrContentType, mediaType).
		SetBody(body).
		Put(c.url("/v2/%s/manifests/%s", repository, reference))
	if err != nil {
		return fmt.Errorf("error putting manifest for %s/%s: %w", c.host, repository, err)
	}
	if !is2xx(resp.StatusCode()) {
		return &RegistryError{Kind: ManifestPushRejected, Registry: c.host, Repository: repository, Reference: reference, Status: resp.StatusCode()}
	}
	return nil
}

// PullBlobStream opens the blob with the passed digest as a stream, along
// with its size per the response Content-Length (-1 if the registry did not
// declare one). If the registry answers 302/307 the Location is re-requested
// without the original Authorization header - some backing stores (e.g.
// presigned object storage urls) reject requests carrying the registry's
// bearer token. Ownership of the returned stream transfers to the caller,
// who must drain and close it.
func (c *Client) PullBlobStream(ctx context.Context, repository string, dgst string) (io.ReadCloser, int64, error) {
	blobUrl := c.url("/v2/%s/blobs/%s", repository, dgst)
	resp, err := c.doStream(ctx, http.MethodGet, blobUrl, nil, 0, true)
	if err != nil {
		return nil, 0, fmt.Errorf("error pulling blob %s from %s/%s: %w", dgst, c.host, repository, err)
	}
	if is3xx(resp.StatusCode) {
		location := resp.Header.Get(hdrLocation)
		drain(resp.Body)
		if location == "" {
			return nil, 0, &RegistryError{Kind: MissingRedirectLocation, Registry: c.host, Repository: repository, Reference: dgst, Status: resp.StatusCode}
		}
		redirectUrl, err := c.resolveUrl(blobUrl, location)
		if err != nil {
			return nil, 0, fmt.Errorf("error parsing redirect location for blob %s: %w", dgst, err)
		}
		log.Debugf("following blob redirect for %s to %s", dgst, redirectUrl)
		resp, err = c.doStream(ctx, http.MethodGet, redirectUrl, nil, 0, false)
		if err != nil {
			return nil, 0, fmt.Errorf("error pulling redirected blob %s: %w", dgst, err)
		}
	}
	if !is2xx(resp.StatusCode) {
		drain(resp.Body)
		return nil, 0, &RegistryError{Kind: UnexpectedStatus, Registry: c.host, Repository: repository, Reference: dgst, Status: resp.StatusCode}
	}
	return resp.Body, resp.ContentLength, nil
}

// HeadBlobSize probes the size of the blob with the passed digest.
func (c *Client) HeadBlobSize(ctx context.Context, repository string, dgst string) (int64, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		Head(c.url("/v2/%s/blobs/%s", repository, dgst))
	if err != nil {
		return 0, fmt.Errorf("error probing blob %s on %s/%s: %w", dgst, c.host, repository, err)
	}
	cl := resp.Header().Get(hdrContentLength)
	size, perr := strconv.ParseInt(cl, 10, 64)
	if !is2xx(resp.StatusCode()) || cl == "" || perr != nil {
		return 0, &RegistryError{Kind: UnknownBlobSize, Registry: c.host, Repository: repository, Reference: dgst, Status: resp.StatusCode()}
	}
	return size, nil
}

// HasBlob returns true if the registry already holds the blob with the
// passed digest. Cross-repository state is not assumed - the probe is
// scoped to the passed repository.
func (c *Client) HasBlob(ctx context.Context, repository string, dgst string) (bool, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		Head(c.url("/v2/%s/blobs/%s", repository, dgst))
	if err != nil {
		return false, fmt.Errorf("error checking blob %s on %s/%s: %w", dgst, c.host, repository, err)
	}
	if is2xx(resp.StatusCode()) {
		return true, nil
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	return false, &RegistryError{Kind: UnexpectedStatus, Registry: c.host, Repository: repository, Reference: dgst, Status: resp.StatusCode()}
}

// StartBlobUpload starts an upload session, returning the session url from
// the response Location header. A fresh session is resolved for every push -
// registries invalidate sessions on error and an idempotent retry must not
// silently resume a stale one.
func (c *Client) StartBlobUpload(ctx context.Context, repository string) (string, error) {
	uploadUrl := c.url("/v2/%s/blobs/uploads/", repository)
	resp, err := c.rest.R().
		SetContext(ctx).
		Post(uploadUrl)
	if err != nil {
		return "", fmt.Errorf("error starting upload session on %s/%s: %w", c.host, repository, err)
	}
	location := resp.Header().Get(hdrLocation)
	if resp.StatusCode() != http.StatusAccepted || location == "" {
		return "", &RegistryError{Kind: UploadSessionRejected, Registry: c.host, Repository: repository, Status: resp.StatusCode()}
	}
	return c.resolveUrl(uploadUrl, location)
}

// PushBlobStream uploads the passed stream as the blob with the passed
// digest: resolve a fresh upload session, then PUT the stream to the session
// url with the digest appended. The stream is fully consumed on success.
func (c *Client) PushBlobStream(ctx context.Context, repository string, dgst string, r io.Reader, size int64) error {
	sessionUrl, err := c.StartBlobUpload(ctx, repository)
	if err != nil {
		return err
	}
	separator := "?"
	if strings.Contains(sessionUrl, "?") {
		separator = "&"
	}
	putUrl := sessionUrl + separator + "digest=" + url.QueryEscape(dgst)
	resp, err := c.doStream(ctx, http.MethodPut, putUrl, r, size, true)
	if err != nil {
		return fmt.Errorf("error pushing blob %s to %s/%s: %w", dgst, c.host, repository, err)
	}
	drain(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return &RegistryError{Kind: BlobPushRejected, Registry: c.host, Repository: repository, Reference: dgst, Status: resp.StatusCode}
	}
	return nil
}

// doStream issues one request on the streaming client. 'withAuth' is false
// when re-requesting a redirect Location.
func (c *Client) doStream(ctx context.Context, method string, rawUrl string, body io.Reader, size int64, withAuth bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawUrl, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = size
		req.Header.Set(hdrContentType, "application/octet-stream")
	}
	if withAuth {
		if c.cred.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.cred.Token)
		} else if c.cred.User != "" {
			req.SetBasicAuth(c.cred.User, c.cred.Password)
		}
	}
	return c.stream.Do(req)
}

// resolveUrl resolves a possibly-relative Location header value against the
// url of the request that produced it.
func (c *Client) resolveUrl(base string, location string) (string, error) {
	baseUrl, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	locUrl, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseUrl.ResolveReference(locUrl).String(), nil
}

func (c *Client) url(format string, args ...interface{}) string {
	return fmt.Sprintf("%s://%s", c.scheme, c.host) + fmt.Sprintf(format, args...)
}

// drain fully consumes and closes a response body so the underlying
// connection can be reused.
func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	io.Copy(io.Discard, body)
	body.Close()
}

func is2xx(status int) bool {
	return status >= 200 && status <= 299
}

func is3xx(status int) bool {
	return status >= 300 && status <= 399
}
