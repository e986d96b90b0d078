// Package auth validates bearer tokens issued by identity providers that
// publish signing keys.
package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	brokererrors "github.com/dicombridge/dicombridge/pkg/errors"
	"github.com/dicombridge/dicombridge/pkg/logger"
)

// Validation failure reasons surfaced in TokenValidationFailed errors.
const (
	ReasonSignature = "invalid_signature"
	ReasonExpired   = "token_expired"
	ReasonNotYet    = "token_not_yet_valid"
	ReasonIssuer    = "invalid_issuer"
	ReasonAudience  = "invalid_audience"
	ReasonMalformed = "malformed_token"
)

// ValidatorConfig configures a Validator for one server.
type ValidatorConfig struct {
	// PublicKeyPEM is the static verification key. When both this and
	// JWKSURL are empty, validation is disabled.
	PublicKeyPEM string

	// JWKSURL fetches keys from the provider's JWKS document instead of a
	// static key.
	JWKSURL string

	// Algorithms is the allow-list of signing algorithms.
	Algorithms []string

	// Audience, when set, must match the token's aud claim.
	Audience string

	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// Validator checks token signature and claims for one server.
type Validator struct {
	enabled    bool
	publicKey  crypto.PublicKey
	algorithms []string
	audience   string
	issuer     string

	jwksURL   string
	jwksCache *jwk.Cache
}

// NewValidator creates a validator. With no key material configured the
// validator passes every token through; that operational choice is logged
// at WARN so it is visible at startup.
func NewValidator(ctx context.Context, server string, cfg ValidatorConfig) (*Validator, error) {
	if cfg.PublicKeyPEM == "" && cfg.JWKSURL == "" {
		logger.Warnf("JWT validation is disabled for server %s: no public key or JWKS URL configured", server)
		return &Validator{enabled: false}, nil
	}

	v := &Validator{
		enabled:    true,
		algorithms: cfg.Algorithms,
		audience:   cfg.Audience,
		issuer:     cfg.Issuer,
	}
	if len(v.algorithms) == 0 {
		v.algorithms = []string{"RS256"}
	}

	if cfg.PublicKeyPEM != "" {
		key, err := parsePublicKey(cfg.PublicKeyPEM, v.algorithms)
		if err != nil {
			return nil, err
		}
		v.publicKey = key
		return v, nil
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	v.jwksURL = cfg.JWKSURL
	v.jwksCache = cache
	return v, nil
}

// parsePublicKey accepts RSA or EC keys depending on the configured
// algorithm families.
func parsePublicKey(pemData string, algorithms []string) (crypto.PublicKey, error) {
	wantsEC := false
	for _, alg := range algorithms {
		if strings.HasPrefix(alg, "ES") {
			wantsEC = true
		}
	}

	if wantsEC {
		if key, err := jwt.ParseECPublicKeyFromPEM([]byte(pemData)); err == nil {
			return key, nil
		}
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
	}
	return key, nil
}

// Enabled reports whether the validator actually verifies tokens.
func (v *Validator) Enabled() bool {
	return v.enabled
}

// Validate verifies signature, exp, nbf and the configured aud/iss claims.
// When validation is disabled it returns nil for any input. Crypto-library
// failures are mapped to a generic reason; the token value is never logged.
func (v *Validator) Validate(ctx context.Context, token string) error {
	if !v.enabled {
		return nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.algorithms),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	_, err := jwt.Parse(token, v.keyFunc(ctx), opts...)
	if err != nil {
		return brokererrors.NewTokenValidationFailedError(reasonFor(err), err)
	}
	return nil
}

func (v *Validator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if v.publicKey != nil {
			return v.publicKey, nil
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("token header missing kid")
		}

		keySet, err := v.jwksCache.Get(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}
		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
		}

		var rawKey any
		if err := key.Raw(&rawKey); err != nil {
			return nil, fmt.Errorf("failed to get raw key: %w", err)
		}
		return rawKey, nil
	}
}

// reasonFor maps golang-jwt errors to the enumerated reason codes.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ReasonNotYet
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	default:
		return ReasonSignature
	}
}
