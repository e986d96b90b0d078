package tokens

import (
	"context"
	"fmt"
	"sort"

	"github.com/dicombridge/dicombridge/pkg/audit"
	"github.com/dicombridge/dicombridge/pkg/auth"
	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/networking"
	"github.com/dicombridge/dicombridge/pkg/providers"
	"github.com/dicombridge/dicombridge/pkg/secrets"
	"github.com/dicombridge/dicombridge/pkg/telemetry"
)

// Registry holds one Manager per configured server. Built once at startup
// and read-only afterwards.
type Registry struct {
	managers map[string]*Manager
}

// NewRegistry builds the full manager set from a validated configuration.
// Each server gets its own provider adapter, validator, encryption key and
// resilience state.
func NewRegistry(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, auditor *audit.Auditor) (*Registry, error) {
	if auditor == nil {
		auditor = audit.NewAuditor(nil)
	}

	managers := make(map[string]*Manager, len(cfg.Servers))
	for name, server := range cfg.Servers {
		builder := networking.NewHttpClientBuilder()
		if !server.TLSVerify() {
			builder.WithInsecureTLS(true)
			auditor.Event(audit.EventSSLVerificationFailure, name,
				"reason", "verification_disabled_by_configuration")
		}
		httpClient := builder.Build()

		provider, err := providers.New(server, httpClient)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}

		validator, err := auth.NewValidator(ctx, name, auth.ValidatorConfig{
			PublicKeyPEM: server.JWTPublicKey,
			Algorithms:   server.JWTAlgorithms,
			Audience:     server.JWTAudience,
			Issuer:       server.JWTIssuer,
		})
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}

		store, err := secrets.NewStore()
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}

		managers[name] = NewManager(server, provider, validator, store, metrics, auditor)
	}

	return &Registry{managers: managers}, nil
}

// NewRegistryFromManagers wires a registry from pre-built managers.
func NewRegistryFromManagers(managers map[string]*Manager) *Registry {
	return &Registry{managers: managers}
}

// Get returns the manager for a server name.
func (r *Registry) Get(name string) (*Manager, bool) {
	m, ok := r.managers[name]
	return m, ok
}

// Names returns the configured server names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of configured servers.
func (r *Registry) Count() int {
	return len(r.managers)
}
