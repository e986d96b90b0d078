// Package tokens manages the per-server access-token lifecycle: acquisition
// through the resilience layers, JWT validation, encrypted in-memory caching
// and buffered refresh.
package tokens

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dicombridge/dicombridge/pkg/audit"
	"github.com/dicombridge/dicombridge/pkg/auth"
	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/errors"
	"github.com/dicombridge/dicombridge/pkg/logger"
	"github.com/dicombridge/dicombridge/pkg/providers"
	"github.com/dicombridge/dicombridge/pkg/resilience"
	"github.com/dicombridge/dicombridge/pkg/secrets"
	"github.com/dicombridge/dicombridge/pkg/telemetry"
)

// Manager owns one server's token. Concurrent callers share a single
// acquisition flight; the cached token is held AES-GCM encrypted and
// decrypted only on the way into an Authorization header.
type Manager struct {
	server    config.Server
	provider  providers.Provider
	validator *auth.Validator
	store     *secrets.Store
	breaker   *resilience.Breaker
	retry     *resilience.Retry
	metrics   *telemetry.Metrics
	auditor   *audit.Auditor

	mu        sync.RWMutex
	encrypted []byte
	tokenType string
	expiresAt time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewManager wires a manager for one configured server. The breaker and
// retry policy come from the server's resilience settings.
func NewManager(
	server config.Server,
	provider providers.Provider,
	validator *auth.Validator,
	store *secrets.Store,
	metrics *telemetry.Metrics,
	auditor *audit.Auditor,
) *Manager {
	if auditor == nil {
		auditor = audit.NewAuditor(nil)
	}
	return &Manager{
		server:    server,
		provider:  provider,
		validator: validator,
		store:     store,
		breaker:   resilience.NewBreaker(server.Name, server.CircuitBreaker, metrics, auditor),
		retry:     resilience.NewRetry(server.Name, server.Retry),
		metrics:   metrics,
		auditor:   auditor,
		now:       time.Now,
	}
}

// GetToken returns a valid access token for the server, refreshing it when
// the cached one is absent or inside the refresh buffer. Concurrent callers
// during a refresh block on the same flight and share its outcome.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	if token, ok := m.cachedToken(); ok {
		m.recordCache("hit")
		return token, nil
	}
	m.recordCache("miss")

	result, err, _ := m.group.Do(m.server.Name, func() (any, error) {
		// A caller that lost the race may find the winner's token already
		// cached by the time its flight runs.
		if token, ok := m.cachedToken(); ok {
			return token, nil
		}
		return m.acquireAndCache(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Acquire forces a fresh acquisition, bypassing the cache read but updating
// the cache on success. Backs the connectivity-test endpoint.
func (m *Manager) Acquire(ctx context.Context) (*providers.TokenResult, error) {
	result, err, _ := m.group.Do(m.server.Name+"/acquire", func() (any, error) {
		return m.acquireFresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*providers.TokenResult), nil
}

// TokenStatus describes the cached token for the admin API. The token value
// itself is never exposed.
type TokenStatus struct {
	Cached    bool
	ExpiresAt time.Time
	TokenType string
}

// Status reports whether a token is cached and when it expires.
func (m *Manager) Status() TokenStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TokenStatus{
		Cached:    m.encrypted != nil && m.now().Before(m.expiresAt),
		ExpiresAt: m.expiresAt,
		TokenType: m.tokenType,
	}
}

// ProviderKind identifies the provider variant serving this manager.
func (m *Manager) ProviderKind() string {
	return m.provider.Kind()
}

// cachedToken decrypts and returns the cached token if it is still outside
// the refresh buffer.
func (m *Manager) cachedToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.encrypted == nil {
		return "", false
	}
	if !m.now().Add(m.server.RefreshBuffer()).Before(m.expiresAt) {
		return "", false
	}

	token, err := m.store.Decrypt(m.encrypted)
	if err != nil {
		// An undecryptable cache entry is unusable; fall through to refresh.
		logger.Errorw("Failed to decrypt cached token, forcing refresh",
			"server", m.server.Name, "error", err.Error())
		return "", false
	}
	return token, true
}

func (m *Manager) acquireAndCache(ctx context.Context) (string, error) {
	result, err := m.acquireFresh(ctx)
	if err != nil {
		return "", err
	}
	return result.AccessToken, nil
}

// acquireFresh drives one acquisition through retry, breaker and validation,
// then caches the encrypted token.
func (m *Manager) acquireFresh(ctx context.Context) (*providers.TokenResult, error) {
	start := m.now()

	raw, err := m.breaker.Execute(func() (any, error) {
		return m.retry.Run(ctx, func(ctx context.Context) (any, error) {
			return m.provider.AcquireToken(ctx)
		})
	})
	elapsed := m.now().Sub(start).Seconds()

	if err != nil {
		m.recordAcquire("failure", elapsed)
		m.auditor.Event(audit.EventAuthFailure, m.server.Name,
			"provider", m.provider.Kind(), "error", err.Error(), "error_type", errors.TypeOf(err))
		if errors.IsCircuitOpen(err) {
			return nil, err
		}
		return nil, errors.NewTokenAcquisitionFailedError(
			"failed to acquire token for server "+m.server.Name, err)
	}

	tokenResult := raw.(*providers.TokenResult)

	if err := m.validator.Validate(ctx, tokenResult.AccessToken); err != nil {
		m.recordAcquire("validation_failure", elapsed)
		m.auditor.Event(audit.EventTokenValidationFailure, m.server.Name,
			"provider", m.provider.Kind(), "error", err.Error())
		return nil, err
	}

	if err := m.cache(tokenResult); err != nil {
		m.recordAcquire("failure", elapsed)
		return nil, err
	}

	m.recordAcquire("success", elapsed)
	if m.metrics != nil {
		m.metrics.SetTokenExpiresIn(m.server.Name, float64(tokenResult.ExpiresIn))
	}
	m.auditor.Event(audit.EventAuthSuccess, m.server.Name,
		"provider", m.provider.Kind(), "expires_in", tokenResult.ExpiresIn)
	logger.Infow("Acquired access token",
		"server", m.server.Name, "provider", m.provider.Kind(), "expires_in", tokenResult.ExpiresIn)

	return tokenResult, nil
}

func (m *Manager) cache(result *providers.TokenResult) error {
	encrypted, err := m.store.Encrypt(result.AccessToken)
	if err != nil {
		return errors.NewTokenAcquisitionFailedError("failed to encrypt token for caching", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.encrypted = encrypted
	m.tokenType = result.TokenType
	m.expiresAt = m.now().Add(time.Duration(result.ExpiresIn) * time.Second)
	return nil
}

func (m *Manager) recordCache(op string) {
	if m.metrics != nil {
		m.metrics.RecordCacheOperation(m.server.Name, op)
	}
}

func (m *Manager) recordAcquire(result string, seconds float64) {
	if m.metrics != nil {
		m.metrics.RecordTokenAcquired(m.server.Name, m.provider.Kind(), result, seconds)
	}
}
