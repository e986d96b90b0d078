// Package config loads and validates the broker configuration.
//
// The configuration is read once at startup, validated, and frozen; nothing
// mutates it afterwards, so reads need no synchronization.
package config

import (
	"strings"
	"time"
)

// Provider types accepted in ServerConfig.ProviderType.
const (
	ProviderAuto            = "auto"
	ProviderAzure           = "azure"
	ProviderGoogle          = "google"
	ProviderAWS             = "aws"
	ProviderKeycloak        = "keycloak"
	ProviderGeneric         = "generic"
	ProviderManagedIdentity = "managed-identity"
)

// Defaults applied during load.
const (
	DefaultRefreshBufferSeconds = 300
	DefaultRetryMaxAttempts     = 3
	DefaultRetryInitialDelayMs  = 500
	DefaultRetryMaxDelayMs      = 10000
	DefaultRetryMultiplier      = 2.0
	DefaultRetryJitterRatio     = 0.2
	DefaultFailureThreshold     = 5
	DefaultOpenDurationMs       = 30000
	DefaultHalfOpenProbes       = 1
)

// RetryConfig bounds the retry wrapper around token acquisition.
type RetryConfig struct {
	MaxAttempts    int     `json:"MaxAttempts" validate:"gte=1"`
	InitialDelayMs int     `json:"InitialDelayMs" validate:"gte=0"`
	MaxDelayMs     int     `json:"MaxDelayMs" validate:"gte=0"`
	Multiplier     float64 `json:"Multiplier" validate:"gte=1"`
	JitterRatio    float64 `json:"JitterRatio" validate:"gte=0,lte=1"`
}

// InitialDelay returns the initial backoff delay as a duration.
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff delay cap as a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// CircuitBreakerConfig tunes the per-server circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int `json:"FailureThreshold" validate:"gte=1"`
	OpenDurationMs   int `json:"OpenDurationMs" validate:"gte=1"`
	HalfOpenProbes   int `json:"HalfOpenProbes" validate:"gte=1"`
}

// OpenDuration returns the open interval as a duration.
func (c CircuitBreakerConfig) OpenDuration() time.Duration {
	return time.Duration(c.OpenDurationMs) * time.Millisecond
}

// Server describes one upstream DICOMweb endpoint and its identity provider.
// Immutable after load.
type Server struct {
	// Name is the unique identifier, filled from the Servers map key.
	Name string `json:"-"`

	URL           string `json:"Url" validate:"required,url"`
	TokenEndpoint string `json:"TokenEndpoint"`
	ClientID      string `json:"ClientId"`
	ClientSecret  string `json:"ClientSecret"`
	Scope         string `json:"Scope"`

	ProviderType string `json:"ProviderType" validate:"omitempty,oneof=auto azure google aws keycloak generic managed-identity"`

	TokenRefreshBufferSeconds int   `json:"TokenRefreshBufferSeconds" validate:"gte=0"`
	VerifySSL                 *bool `json:"VerifySSL"`

	JWTPublicKey  string   `json:"JWTPublicKey"`
	JWTAudience   string   `json:"JWTAudience"`
	JWTIssuer     string   `json:"JWTIssuer"`
	JWTAlgorithms []string `json:"JWTAlgorithms"`

	// AWSRegion enables SigV4 signing of forwarded requests for
	// AWS HealthImaging upstreams (ProviderType "aws").
	AWSRegion string `json:"AWSRegion"`
	// AWSService is the SigV4 service name, default "medical-imaging".
	AWSService string `json:"AWSService"`

	Retry          RetryConfig          `json:"RetryConfig"`
	CircuitBreaker CircuitBreakerConfig `json:"CircuitBreakerConfig"`
}

// RefreshBuffer returns the refresh guard interval as a duration.
func (s Server) RefreshBuffer() time.Duration {
	return time.Duration(s.TokenRefreshBufferSeconds) * time.Second
}

// TLSVerify reports whether upstream certificates are verified.
func (s Server) TLSVerify() bool {
	return s.VerifySSL == nil || *s.VerifySSL
}

// UsesSigV4 reports whether forwarded requests are SigV4-signed.
func (s Server) UsesSigV4() bool {
	return s.ProviderType == ProviderAWS && s.AWSRegion != "" && s.TokenEndpoint == ""
}

// Config is the root configuration consumed by the broker. Immutable.
type Config struct {
	ConfigVersion          string            `json:"ConfigVersion"`
	LogLevel               string            `json:"LogLevel" validate:"omitempty,oneof=DEBUG INFO WARN ERROR"`
	RateLimitRequests      int               `json:"RateLimitRequests" validate:"gte=1"`
	RateLimitWindowSeconds int               `json:"RateLimitWindowSeconds" validate:"gte=1"`
	EnableMetrics          bool              `json:"EnableMetrics"`
	Servers                map[string]Server `json:"Servers" validate:"dive"`
}

// RateLimitWindow returns the sliding-window length as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// ServerNames returns the configured server names in no particular order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	return names
}

// applyDefaults fills unset fields after unmarshaling.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	for name, server := range c.Servers {
		server.Name = name
		if server.ProviderType == "" {
			server.ProviderType = ProviderAuto
		}
		server.ProviderType = strings.ToLower(server.ProviderType)
		if server.TokenRefreshBufferSeconds == 0 {
			server.TokenRefreshBufferSeconds = DefaultRefreshBufferSeconds
		}
		if len(server.JWTAlgorithms) == 0 {
			server.JWTAlgorithms = []string{"RS256"}
		}
		if server.Retry.MaxAttempts == 0 {
			server.Retry.MaxAttempts = DefaultRetryMaxAttempts
		}
		if server.Retry.InitialDelayMs == 0 {
			server.Retry.InitialDelayMs = DefaultRetryInitialDelayMs
		}
		if server.Retry.MaxDelayMs == 0 {
			server.Retry.MaxDelayMs = DefaultRetryMaxDelayMs
		}
		if server.Retry.Multiplier == 0 {
			server.Retry.Multiplier = DefaultRetryMultiplier
		}
		if server.Retry.JitterRatio == 0 {
			server.Retry.JitterRatio = DefaultRetryJitterRatio
		}
		if server.CircuitBreaker.FailureThreshold == 0 {
			server.CircuitBreaker.FailureThreshold = DefaultFailureThreshold
		}
		if server.CircuitBreaker.OpenDurationMs == 0 {
			server.CircuitBreaker.OpenDurationMs = DefaultOpenDurationMs
		}
		if server.CircuitBreaker.HalfOpenProbes == 0 {
			server.CircuitBreaker.HalfOpenProbes = DefaultHalfOpenProbes
		}
		c.Servers[name] = server
	}
}
