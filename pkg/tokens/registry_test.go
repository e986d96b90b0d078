package tokens

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/telemetry"
)

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse([]byte(`{
		"DicomWebOAuth": {
			"RateLimitRequests": 100,
			"RateLimitWindowSeconds": 60,
			"Servers": {
				"pacs-azure": {
					"Url": "https://dicom.azure.example.com",
					"TokenEndpoint": "https://login.microsoftonline.com/tenant/oauth2/v2.0/token",
					"ClientId": "c1",
					"ClientSecret": "s1"
				},
				"pacs-local": {
					"Url": "https://dicom.local.example.com",
					"TokenEndpoint": "https://idp.local.example.com/token",
					"ClientId": "c2",
					"ClientSecret": "s2"
				}
			}
		}
	}`))
	require.NoError(t, err)

	registry, err := NewRegistry(context.Background(), cfg, telemetry.NewMetrics(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, registry.Count())
	assert.Equal(t, []string{"pacs-azure", "pacs-local"}, registry.Names())

	m, ok := registry.Get("pacs-azure")
	require.True(t, ok)
	assert.Equal(t, "azure", m.ProviderKind())

	_, ok = registry.Get("unknown")
	assert.False(t, ok)
}

func TestNewRegistryUnknownProvider(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Servers: map[string]config.Server{
			"bad": {Name: "bad", URL: "https://x.example.com", ProviderType: "saml"},
		},
	}

	_, err := NewRegistry(context.Background(), cfg, telemetry.NewMetrics(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider type")
}
