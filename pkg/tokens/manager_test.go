package tokens

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicombridge/dicombridge/pkg/auth"
	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/errors"
	"github.com/dicombridge/dicombridge/pkg/providers"
	"github.com/dicombridge/dicombridge/pkg/secrets"
	"github.com/dicombridge/dicombridge/pkg/telemetry"
)

// stubProvider counts acquisitions and serves canned results.
type stubProvider struct {
	calls   atomic.Int32
	delay   time.Duration
	results func(call int32) (*providers.TokenResult, error)
}

func (s *stubProvider) Kind() string { return "generic" }

func (s *stubProvider) AcquireToken(context.Context) (*providers.TokenResult, error) {
	call := s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.results(call)
}

func tokenOnce(token string, expiresIn int) func(int32) (*providers.TokenResult, error) {
	return func(int32) (*providers.TokenResult, error) {
		return &providers.TokenResult{AccessToken: token, TokenType: "Bearer", ExpiresIn: expiresIn}, nil
	}
}

func testServer() config.Server {
	return config.Server{
		Name:                      "s1",
		URL:                       "https://dicom.example.com",
		TokenRefreshBufferSeconds: 300,
		Retry: config.RetryConfig{
			MaxAttempts:    1,
			InitialDelayMs: 1,
			MaxDelayMs:     5,
			Multiplier:     2.0,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 5,
			OpenDurationMs:   30000,
			HalfOpenProbes:   1,
		},
	}
}

func newTestManager(t *testing.T, server config.Server, provider providers.Provider) *Manager {
	t.Helper()

	validator, err := auth.NewValidator(context.Background(), server.Name, auth.ValidatorConfig{})
	require.NoError(t, err)
	store, err := secrets.NewStore()
	require.NoError(t, err)

	return NewManager(server, provider, validator, store, telemetry.NewMetrics(), nil)
}

func TestGetTokenCoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		delay:   200 * time.Millisecond,
		results: tokenOnce("shared-token", 3600),
	}
	m := newTestManager(t, testServer(), provider)

	const callers = 100
	tokens := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-token", tokens[i])
	}
	assert.Equal(t, int32(1), provider.calls.Load(), "concurrent callers must share one acquisition")
}

func TestGetTokenServesFromCache(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{results: tokenOnce("cached-token", 3600)}
	m := newTestManager(t, testServer(), provider)

	for i := 0; i < 5; i++ {
		token, err := m.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cached-token", token)
	}
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestGetTokenRefreshesInsideBuffer(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		results: func(call int32) (*providers.TokenResult, error) {
			if call == 1 {
				return &providers.TokenResult{AccessToken: "first", TokenType: "Bearer", ExpiresIn: 3600}, nil
			}
			return &providers.TokenResult{AccessToken: "second", TokenType: "Bearer", ExpiresIn: 3600}, nil
		},
	}
	m := newTestManager(t, testServer(), provider)

	base := time.Now()
	clock := base
	var clockMu sync.Mutex
	m.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		clock = clock.Add(d)
		clockMu.Unlock()
	}

	token, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", token)

	// Just outside the 300s refresh buffer: still served from cache.
	advance(3299 * time.Second)
	token, err = m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", token)
	assert.Equal(t, int32(1), provider.calls.Load())

	// Inside the buffer: refreshed proactively.
	advance(2 * time.Second)
	token, err = m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", token)
	assert.Equal(t, int32(2), provider.calls.Load())
}

func TestGetTokenWrapsProviderFailures(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{
		results: func(int32) (*providers.TokenResult, error) {
			return nil, errors.NewUnauthorizedError("invalid client credentials", nil)
		},
	}
	m := newTestManager(t, testServer(), provider)

	_, err := m.GetToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTokenAcquisitionFailed(err), "unexpected error kind: %v", err)
	assert.True(t, errors.IsUnauthorized(err), "cause must stay reachable: %v", err)
}

func TestGetTokenSurfacesCircuitOpen(t *testing.T) {
	t.Parallel()

	server := testServer()
	server.CircuitBreaker.FailureThreshold = 1

	provider := &stubProvider{
		results: func(int32) (*providers.TokenResult, error) {
			return nil, errors.NewNetworkError("connection refused", nil)
		},
	}
	m := newTestManager(t, server, provider)

	_, err := m.GetToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTokenAcquisitionFailed(err))

	_, err = m.GetToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCircuitOpen(err), "unexpected error kind: %v", err)
	assert.False(t, errors.IsTokenAcquisitionFailed(err))
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestValidationFailureIsNotCached(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	validator, err := auth.NewValidator(context.Background(), "s1", auth.ValidatorConfig{
		PublicKeyPEM: publicPEM,
		Algorithms:   []string{"RS256"},
	})
	require.NoError(t, err)
	store, err := secrets.NewStore()
	require.NoError(t, err)

	provider := &stubProvider{results: tokenOnce("opaque-not-a-jwt", 3600)}
	m := NewManager(testServer(), provider, validator, store, telemetry.NewMetrics(), nil)

	for i := int32(1); i <= 2; i++ {
		_, err := m.GetToken(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsTokenValidationFailed(err), "unexpected error kind: %v", err)
		assert.Equal(t, i, provider.calls.Load(), "rejected tokens must not be cached")
	}

	status := m.Status()
	assert.False(t, status.Cached)
}

func TestAcquireUpdatesCache(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{results: tokenOnce("fresh-token", 900)}
	m := newTestManager(t, testServer(), provider)

	result, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", result.AccessToken)
	assert.Equal(t, 900, result.ExpiresIn)

	status := m.Status()
	assert.True(t, status.Cached)
	assert.Equal(t, "Bearer", status.TokenType)

	token, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, int32(1), provider.calls.Load())
}
