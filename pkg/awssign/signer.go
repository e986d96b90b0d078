// Package awssign signs forwarded requests with AWS Signature Version 4.
// AWS HealthImaging DICOMweb endpoints authenticate by IAM rather than
// OAuth2 bearer tokens, so requests to them are signed instead of carrying
// an Authorization: Bearer header.
package awssign

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// maxPayloadSize caps the request body read for hashing (100 MB). DICOM
// STOW-RS uploads can be large; anything bigger is refused rather than
// buffered.
const maxPayloadSize = 100 * 1024 * 1024

// DefaultService is the SigV4 service name for AWS HealthImaging. It appears
// in the credential scope of the Authorization header.
const DefaultService = "medical-imaging"

// emptyPayloadHash is the SHA-256 of the empty string.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Signer signs HTTP requests with SigV4 using credentials from the default
// AWS credential chain (environment, shared config, IMDS).
type Signer struct {
	signer  *v4.Signer
	creds   aws.CredentialsProvider
	region  string
	service string
}

// NewSigner resolves the AWS credential chain for a region. An empty service
// defaults to HealthImaging.
func NewSigner(ctx context.Context, region, service string) (*Signer, error) {
	if region == "" {
		return nil, fmt.Errorf("AWS region is required for SigV4 signing")
	}
	if service == "" {
		service = DefaultService
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &Signer{
		signer:  v4.NewSigner(),
		creds:   awsCfg.Credentials,
		region:  region,
		service: service,
	}, nil
}

// Sign hashes the request body, signs the request in place and restores the
// body for sending. Signing must happen after every other header mutation;
// any later change invalidates the signature.
func (s *Signer) Sign(ctx context.Context, req *http.Request) error {
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	payloadHash, bodyBytes, err := hashPayload(req)
	if err != nil {
		return fmt.Errorf("failed to hash request payload: %w", err)
	}
	if bodyBytes != nil {
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		req.ContentLength = int64(len(bodyBytes))
	}

	if err := s.signer.SignHTTP(ctx, creds, req, payloadHash, s.service, s.region, time.Now()); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}

// Transport is a RoundTripper that signs every request before delegating to
// the base transport.
type Transport struct {
	Base   http.RoundTripper
	Signer *Signer
}

// RoundTrip clones the request, signs the clone and forwards it.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	signed := req.Clone(req.Context())
	if err := t.Signer.Sign(req.Context(), signed); err != nil {
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(signed)
}

func hashPayload(req *http.Request) (string, []byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return emptyPayloadHash, nil, nil
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(req.Body, maxPayloadSize+1))
	if err != nil {
		return "", nil, err
	}
	if len(bodyBytes) > maxPayloadSize {
		return "", nil, fmt.Errorf("request body exceeds maximum size of %d bytes", maxPayloadSize)
	}
	if err := req.Body.Close(); err != nil {
		return "", nil, err
	}

	hash := sha256.Sum256(bodyBytes)
	return hex.EncodeToString(hash[:]), bodyBytes, nil
}
