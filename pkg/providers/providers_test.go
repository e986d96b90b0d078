package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/errors"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		want     string
	}{
		{"https://login.microsoftonline.com/tenant/oauth2/v2.0/token", config.ProviderAzure},
		{"https://oauth2.googleapis.com/token", config.ProviderGoogle},
		{"https://cognito-idp.us-east-1.amazonaws.com/oauth2/token", config.ProviderAWS},
		{"https://mydomain.auth.us-east-1.amazoncognito.com/oauth2/token", config.ProviderAWS},
		{"https://keycloak.example.com/realms/dicom/protocol/openid-connect/token", config.ProviderKeycloak},
		{"https://idp.example.com/oauth/token", config.ProviderGeneric},
		{"", config.ProviderGeneric},
		{"not a url %%", config.ProviderGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Detect(tt.endpoint))
		})
	}
}

func TestClientCredentialsSuccess(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "my-client", r.PostForm.Get("client_id"))
		assert.Equal(t, "my-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "dicom.read", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "T1",
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	defer idp.Close()

	p := NewAzure(idp.URL, "my-client", "my-secret", "dicom.read", idp.Client())
	result, err := p.AcquireToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "T1", result.AccessToken)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.InDelta(t, 3600, result.ExpiresIn, 5)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "azure", p.Kind())
}

func TestClientCredentialsErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		checkFn func(error) bool
	}{
		{
			name:    "401 is unauthorized",
			status:  http.StatusUnauthorized,
			body:    `{"error":"invalid_client"}`,
			checkFn: errors.IsUnauthorized,
		},
		{
			name:    "invalid_scope is scope denied",
			status:  http.StatusBadRequest,
			body:    `{"error":"invalid_scope"}`,
			checkFn: errors.IsScopeDenied,
		},
		{
			name:    "500 is provider unavailable",
			status:  http.StatusInternalServerError,
			body:    `upstream exploded`,
			checkFn: errors.IsProviderUnavailable,
		},
		{
			name:    "503 is provider unavailable",
			status:  http.StatusServiceUnavailable,
			body:    ``,
			checkFn: errors.IsProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer idp.Close()

			p := NewGeneric(idp.URL, "c", "s", "", idp.Client())
			_, err := p.AcquireToken(context.Background())
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), "unexpected error kind: %v", err)
		})
	}
}

func TestClientCredentialsNetworkError(t *testing.T) {
	t.Parallel()

	// Closed server: connection refused.
	idp := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := idp.URL
	idp.Close()

	p := NewGeneric(endpoint, "c", "s", "", nil)
	_, err := p.AcquireToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNetwork(err), "unexpected error kind: %v", err)
}

func TestCognitoUsesBasicAuth(t *testing.T) {
	t.Parallel()

	idp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok, "expected basic auth")
		assert.Equal(t, "my-client", user)
		assert.Equal(t, "my-secret", pass)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "cognito-token",
			"expires_in":   900,
			"token_type":   "Bearer",
		})
	}))
	defer idp.Close()

	p := NewCognito(idp.URL, "my-client", "my-secret", "dicom/read", idp.Client())
	result, err := p.AcquireToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cognito-token", result.AccessToken)
}

func TestManagedIdentityAzureShape(t *testing.T) {
	t.Parallel()

	metadata := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.Header.Get("Metadata"))
		assert.Equal(t, "2018-02-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "https://dicom.healthcareapis.azure.com", r.URL.Query().Get("resource"))

		// IMDS returns numerics as strings.
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"mi-token","expires_in":"3599","token_type":"Bearer"}`))
	}))
	defer metadata.Close()

	p := NewManagedIdentity(metadata.URL, "https://dicom.healthcareapis.azure.com", metadata.Client())
	result, err := p.AcquireToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "mi-token", result.AccessToken)
	assert.Equal(t, 3599, result.ExpiresIn)
	assert.Equal(t, "managed-identity", p.Kind())
}

func TestManagedIdentityErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		checkFn func(error) bool
	}{
		{"400 unauthorized", http.StatusBadRequest, "", errors.IsUnauthorized},
		{"500 unavailable", http.StatusInternalServerError, "", errors.IsProviderUnavailable},
		{"missing token", http.StatusOK, `{"token_type":"Bearer"}`, errors.IsMalformedResponse},
		{"not json", http.StatusOK, `<html>`, errors.IsMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			metadata := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer metadata.Close()

			p := NewManagedIdentity(metadata.URL, "resource", metadata.Client())
			_, err := p.AcquireToken(context.Background())
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), "unexpected error kind: %v", err)
		})
	}
}

func TestFactoryVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		providerType string
		wantKind     string
	}{
		{config.ProviderAzure, "azure"},
		{config.ProviderKeycloak, "keycloak"},
		{config.ProviderAWS, "aws"},
		{config.ProviderGeneric, "generic"},
		{config.ProviderManagedIdentity, "managed-identity"},
	}

	for _, tt := range tests {
		t.Run(tt.providerType, func(t *testing.T) {
			t.Parallel()

			p, err := New(config.Server{
				Name:          "s1",
				ProviderType:  tt.providerType,
				TokenEndpoint: "https://idp.example.com/token",
			}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, p.Kind())
		})
	}
}

func TestFactoryAutoDetect(t *testing.T) {
	t.Parallel()

	p, err := New(config.Server{
		Name:          "s1",
		ProviderType:  config.ProviderAuto,
		TokenEndpoint: "https://login.microsoftonline.com/tenant/oauth2/v2.0/token",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "azure", p.Kind())
}
