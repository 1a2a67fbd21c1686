package regclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
)

// newTransport builds the transport shared by the resty client and the
// streaming client. Supports 1-way TLS via the OS trust store or a
// configured CA, mTLS with a client cert/key pair, and insecure mode for
// lab registries with self-signed certs.
func newTransport(tlsOpts *TlsOpts) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsOpts == nil {
		return transport, nil
	}
	cfg := &tls.Config{
		InsecureSkipVerify: tlsOpts.InsecureSkipVerify,
	}
	if tlsOpts.Cert != "" && tlsOpts.Key != "" {
		cert, err := tls.LoadX509KeyPair(tlsOpts.Cert, tlsOpts.Key)
		if err != nil {
			return nil, fmt.Errorf("error loading client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if tlsOpts.CA != "" {
		caCert, err := os.ReadFile(tlsOpts.CA)
		if err != nil {
			return nil, fmt.Errorf("error reading CA file: %w", err)
		}
		cp := x509.NewCertPool()
		if !cp.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certs parseable in CA file %s", tlsOpts.CA)
		}
		cfg.RootCAs = cp
	}
	transport.TLSClientConfig = cfg
	return transport, nil
}
