package providers

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/errors"
	"github.com/dicombridge/dicombridge/pkg/logger"
)

var cognitoHostPattern = regexp.MustCompile(`^cognito-idp\.[a-z0-9-]+\.amazonaws\.com$`)

// Detect inspects a token endpoint and returns the provider type it most
// likely belongs to. Used when ProviderType is "auto".
func Detect(tokenEndpoint string) string {
	parsed, err := url.Parse(tokenEndpoint)
	if err != nil || parsed.Host == "" {
		return config.ProviderGeneric
	}

	host := strings.ToLower(parsed.Hostname())
	switch {
	case host == "login.microsoftonline.com":
		return config.ProviderAzure
	case host == "oauth2.googleapis.com":
		return config.ProviderGoogle
	case cognitoHostPattern.MatchString(host) || strings.HasSuffix(host, ".amazoncognito.com"):
		return config.ProviderAWS
	case strings.Contains(parsed.Path, "/realms/"):
		return config.ProviderKeycloak
	default:
		return config.ProviderGeneric
	}
}

// New constructs the provider adapter for a configured server.
func New(server config.Server, httpClient *http.Client) (Provider, error) {
	kind := server.ProviderType
	if kind == config.ProviderAuto {
		kind = Detect(server.TokenEndpoint)
		logger.Debugw("Auto-detected provider type",
			"server", server.Name, "provider", kind)
	}

	switch kind {
	case config.ProviderAzure:
		return NewAzure(server.TokenEndpoint, server.ClientID, server.ClientSecret, server.Scope, httpClient), nil
	case config.ProviderGoogle:
		return NewGoogle(server.ClientSecret, server.Scope, httpClient), nil
	case config.ProviderAWS:
		return NewCognito(server.TokenEndpoint, server.ClientID, server.ClientSecret, server.Scope, httpClient), nil
	case config.ProviderKeycloak:
		return NewKeycloak(server.TokenEndpoint, server.ClientID, server.ClientSecret, server.Scope, httpClient), nil
	case config.ProviderGeneric:
		return NewGeneric(server.TokenEndpoint, server.ClientID, server.ClientSecret, server.Scope, httpClient), nil
	case config.ProviderManagedIdentity:
		return NewManagedIdentity(server.TokenEndpoint, server.Scope, httpClient), nil
	default:
		return nil, errors.NewConfigValidationError("unknown provider type: "+kind, nil)
	}
}
