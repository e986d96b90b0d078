package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dicombridge/dicombridge/pkg/errors"
)

// azureIMDSEndpoint is the Azure instance-metadata identity endpoint.
const azureIMDSEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"

// azureIMDSAPIVersion pins the IMDS token API version.
const azureIMDSAPIVersion = "2018-02-01"

// gcpMetadataHost marks a GCP metadata-server endpoint.
const gcpMetadataHost = "metadata.google.internal"

// ManagedIdentityProvider obtains tokens from the platform metadata
// endpoint, with no client secret involved. The resource the token is
// scoped to comes from the server's Scope setting.
type ManagedIdentityProvider struct {
	endpoint   string
	resource   string
	httpClient *http.Client
}

// NewManagedIdentity creates a provider against the platform metadata
// endpoint. An empty endpoint defaults to the Azure IMDS address; a
// metadata.google.internal endpoint switches to the GCP request shape.
func NewManagedIdentity(endpoint, resource string, httpClient *http.Client) *ManagedIdentityProvider {
	if endpoint == "" {
		endpoint = azureIMDSEndpoint
	}
	return &ManagedIdentityProvider{
		endpoint:   endpoint,
		resource:   resource,
		httpClient: httpClient,
	}
}

// Kind identifies the provider variant.
func (*ManagedIdentityProvider) Kind() string {
	return "managed-identity"
}

// metadataTokenResponse tolerates both Azure IMDS (string numerics) and
// GCP metadata (integer numerics) response shapes.
type metadataTokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
	TokenType   string      `json:"token_type"`
}

// AcquireToken calls the metadata endpoint and parses the token response.
func (p *ManagedIdentityProvider) AcquireToken(ctx context.Context) (*TokenResult, error) {
	req, err := p.buildRequest(ctx)
	if err != nil {
		return nil, errors.NewMalformedResponseError("failed to build metadata request", err)
	}

	client := p.httpClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("failed to reach metadata endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewNetworkError("failed to read metadata response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.NewProviderUnavailableError(
			fmt.Sprintf("metadata endpoint returned status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, errors.NewUnauthorizedError(
			fmt.Sprintf("metadata endpoint returned status %d", resp.StatusCode), nil)
	}

	var parsed metadataTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.NewMalformedResponseError("failed to parse metadata response", err)
	}
	if parsed.AccessToken == "" {
		return nil, errors.NewMalformedResponseError("metadata response is missing access_token", nil)
	}

	expiresIn := 3600
	if parsed.ExpiresIn != "" {
		if n, err := parsed.ExpiresIn.Int64(); err == nil && n > 0 {
			expiresIn = int(n)
		}
	}

	tokenType := parsed.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &TokenResult{
		AccessToken: parsed.AccessToken,
		TokenType:   tokenType,
		ExpiresIn:   expiresIn,
	}, nil
}

func (p *ManagedIdentityProvider) buildRequest(ctx context.Context) (*http.Request, error) {
	endpoint, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(endpoint.Hostname(), gcpMetadataHost) {
		req.Header.Set("Metadata-Flavor", "Google")
		return req, nil
	}

	// Azure IMDS shape.
	query := req.URL.Query()
	query.Set("api-version", azureIMDSAPIVersion)
	query.Set("resource", p.resource)
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Metadata", "true")
	return req, nil
}
