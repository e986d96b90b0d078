// Package providers implements OAuth2 client-credentials token acquisition
// against the identity providers the broker supports: Azure AD, Google,
// AWS Cognito, Keycloak, generic OAuth2, and platform managed identity.
package providers

import (
	"context"
	stderrors "errors"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/dicombridge/dicombridge/pkg/errors"
)

// TokenResult is the transient outcome of one acquisition. It is never
// persisted; the token manager encrypts the access token immediately if it
// decides to cache it.
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
}

// Provider acquires access tokens from one identity provider.
type Provider interface {
	// AcquireToken performs a single token request against the IdP.
	AcquireToken(ctx context.Context) (*TokenResult, error)

	// Kind identifies the provider variant (azure, google, ...).
	Kind() string
}

// classifyError maps transport and IdP failures onto the error taxonomy.
//
// 4xx from the IdP means the client is misconfigured (Unauthorized, or
// ScopeDenied for scope problems); 5xx means the provider is ill; anything
// at the network layer is retriable.
func classifyError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		switch {
		case retrieveErr.ErrorCode == "invalid_scope":
			return errors.NewScopeDeniedError("identity provider rejected the requested scope", err)
		case status >= 500:
			return errors.NewProviderUnavailableError("identity provider returned a server error", err)
		case status >= 400:
			return errors.NewUnauthorizedError("identity provider rejected the credentials", err)
		default:
			return errors.NewMalformedResponseError("identity provider returned an unexpected response", err)
		}
	}

	var urlErr *url.Error
	if stderrors.As(err, &urlErr) ||
		stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, context.Canceled) {
		return errors.NewNetworkError("failed to reach identity provider", err)
	}

	return errors.NewMalformedResponseError("failed to parse identity provider response", err)
}

// resultFromToken converts an oauth2 token into a TokenResult, defaulting
// the token type and lifetime when the IdP omits them.
func resultFromToken(tok *oauth2.Token, now func() int64) *TokenResult {
	result := &TokenResult{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}
	if result.TokenType == "" {
		result.TokenType = "Bearer"
	}
	if tok.Expiry.IsZero() {
		result.ExpiresIn = 3600
	} else {
		result.ExpiresIn = int(tok.Expiry.Unix() - now())
	}
	return result
}
