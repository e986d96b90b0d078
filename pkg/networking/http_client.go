// Package networking builds the outbound HTTP clients used for IdP token
// requests and upstream DICOMweb forwarding.
package networking

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/dicombridge/dicombridge/pkg/logger"
)

// HttpTimeout is the total timeout for outgoing HTTP requests
const HttpTimeout = 30 * time.Second

// ConnectTimeout is the dial timeout for outgoing connections
const ConnectTimeout = 10 * time.Second

// HttpClientBuilder provides a fluent interface for building HTTP clients
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	connectTimeout        time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	insecureSkipVerify    bool
}

// NewHttpClientBuilder returns a new HttpClientBuilder
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		connectTimeout:        ConnectTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithTimeout overrides the total request timeout
func (b *HttpClientBuilder) WithTimeout(d time.Duration) *HttpClientBuilder {
	b.clientTimeout = d
	return b
}

// WithInsecureTLS disables certificate verification. Operators opt into this
// per server via VerifySSL=false; the bypass is logged so it shows up in audit
// review.
func (b *HttpClientBuilder) WithInsecureTLS(insecure bool) *HttpClientBuilder {
	b.insecureSkipVerify = insecure
	return b
}

// BuildTransport creates the configured transport without a client wrapper.
// Used by the reverse proxy, which manages its own deadlines per request.
func (b *HttpClientBuilder) BuildTransport() http.RoundTripper {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: b.connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if b.insecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled for this transport")
		transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402 - explicit operator opt-in
	}

	return transport
}

// Build creates the configured HTTP client
func (b *HttpClientBuilder) Build() *http.Client {
	return &http.Client{
		Transport: b.BuildTransport(),
		Timeout:   b.clientTimeout,
	}
}
