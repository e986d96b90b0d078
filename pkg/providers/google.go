package providers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/dicombridge/dicombridge/pkg/errors"
)

// GoogleProvider acquires tokens via the JWT-bearer grant: a service-account
// assertion signed locally and exchanged at https://oauth2.googleapis.com/token.
type GoogleProvider struct {
	serviceAccountJSON []byte
	scope              string
	httpClient         *http.Client
}

// NewGoogle creates a provider from service-account key JSON. The
// configuration carries the JSON in the ClientSecret field (env-expanded
// from a secret reference).
func NewGoogle(serviceAccountJSON, scope string, httpClient *http.Client) *GoogleProvider {
	return &GoogleProvider{
		serviceAccountJSON: []byte(serviceAccountJSON),
		scope:              scope,
		httpClient:         httpClient,
	}
}

// Kind identifies the provider variant.
func (*GoogleProvider) Kind() string {
	return "google"
}

// AcquireToken signs a service-account assertion and exchanges it for an
// access token.
func (p *GoogleProvider) AcquireToken(ctx context.Context) (*TokenResult, error) {
	jwtConfig, err := google.JWTConfigFromJSON(p.serviceAccountJSON, p.scope)
	if err != nil {
		return nil, errors.NewMalformedResponseError("invalid service account key", err)
	}

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := jwtConfig.TokenSource(ctx).Token()
	if err != nil {
		return nil, classifyError(err)
	}

	return resultFromToken(tok, func() int64 { return time.Now().Unix() }), nil
}
