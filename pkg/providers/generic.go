package providers

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsProvider runs the standard client-credentials grant.
// It backs the generic, azure, keycloak and aws (Cognito) variants, which
// differ only in endpoint shape and auth style.
type ClientCredentialsProvider struct {
	kind       string
	config     clientcredentials.Config
	httpClient *http.Client
}

// NewGeneric creates a provider for an arbitrary OAuth2 token endpoint.
func NewGeneric(tokenEndpoint, clientID, clientSecret, scope string, httpClient *http.Client) *ClientCredentialsProvider {
	return newClientCredentials("generic", tokenEndpoint, clientID, clientSecret, scope, oauth2.AuthStyleAutoDetect, httpClient)
}

// NewAzure creates a provider for a tenant-scoped Azure AD v2 endpoint.
// The scope is typically "https://dicom.healthcareapis.azure.com/.default".
func NewAzure(tokenEndpoint, clientID, clientSecret, scope string, httpClient *http.Client) *ClientCredentialsProvider {
	return newClientCredentials("azure", tokenEndpoint, clientID, clientSecret, scope, oauth2.AuthStyleInParams, httpClient)
}

// NewKeycloak creates a provider for a realm-scoped Keycloak endpoint.
func NewKeycloak(tokenEndpoint, clientID, clientSecret, scope string, httpClient *http.Client) *ClientCredentialsProvider {
	return newClientCredentials("keycloak", tokenEndpoint, clientID, clientSecret, scope, oauth2.AuthStyleInParams, httpClient)
}

// NewCognito creates a provider for an AWS Cognito /oauth2/token endpoint.
// Cognito requires the client credentials in the Authorization header.
func NewCognito(tokenEndpoint, clientID, clientSecret, scope string, httpClient *http.Client) *ClientCredentialsProvider {
	return newClientCredentials("aws", tokenEndpoint, clientID, clientSecret, scope, oauth2.AuthStyleInHeader, httpClient)
}

func newClientCredentials(
	kind, tokenEndpoint, clientID, clientSecret, scope string,
	authStyle oauth2.AuthStyle,
	httpClient *http.Client,
) *ClientCredentialsProvider {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenEndpoint,
		AuthStyle:    authStyle,
	}
	if scope != "" {
		cfg.Scopes = []string{scope}
	}
	return &ClientCredentialsProvider{
		kind:       kind,
		config:     cfg,
		httpClient: httpClient,
	}
}

// Kind identifies the provider variant.
func (p *ClientCredentialsProvider) Kind() string {
	return p.kind
}

// AcquireToken performs one POST to the token endpoint. A fresh token
// source is created per call; caching is the token manager's concern.
func (p *ClientCredentialsProvider) AcquireToken(ctx context.Context) (*TokenResult, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := p.config.Token(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	return resultFromToken(tok, func() int64 { return time.Now().Unix() }), nil
}
