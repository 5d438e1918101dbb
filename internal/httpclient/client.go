package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
)

// DefaultTimeout bounds a whole media download including the body.
const DefaultTimeout = 5 * time.Minute

var errNoCertificates = errors.New("no certificates found in PEM data")

// NewClient creates an http.Client trusting the system CAs plus the PEM
// encoded certificates in caPEM, for homeservers behind a private CA.
// A zero timeout selects DefaultTimeout.
func NewClient(caPEM []byte, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if len(caPEM) == 0 {
		return &http.Client{Timeout: timeout}, nil
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil || rootCAs == nil {
		errutil.LogMsg(err, "Failed to load system cert pool, trusting only the custom CA")
		rootCAs = x509.NewCertPool()
	}
	if !rootCAs.AppendCertsFromPEM(caPEM) {
		return nil, errNoCertificates
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: rootCAs}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// NewClientFromFile is NewClient with the CA read from path. An empty path
// uses only the system CAs.
func NewClientFromFile(path string, timeout time.Duration) (*http.Client, error) {
	if path == "" {
		return NewClient(nil, timeout)
	}
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	client, err := NewClient(caPEM, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate from %s: %w", path, err)
	}
	return client, nil
}
