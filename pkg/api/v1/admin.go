package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dicombridge/dicombridge/pkg/audit"
	"github.com/dicombridge/dicombridge/pkg/errors"
	"github.com/dicombridge/dicombridge/pkg/tokens"
)

// AdminRouter serves the /dicomweb-oauth management endpoints. The
// connectivity test shares the proxy's rate limiter, keyed by client IP.
func AdminRouter(registry *tokens.Registry, auditor *audit.Auditor, rateLimit func(http.Handler) http.Handler) http.Handler {
	routes := &adminRoutes{registry: registry, auditor: auditor}
	r := chi.NewRouter()
	r.Get("/status", routes.getStatus)
	r.Get("/servers", routes.listServers)
	if rateLimit != nil {
		r.With(rateLimit).Post("/servers/{name}/test", routes.testServer)
	} else {
		r.Post("/servers/{name}/test", routes.testServer)
	}
	return r
}

type adminRoutes struct {
	registry *tokens.Registry
	auditor  *audit.Auditor
}

type statusData struct {
	Status            string `json:"status"`
	TokenManagers     int    `json:"token_managers"`
	ServersConfigured int    `json:"servers_configured"`
}

type serverListData struct {
	Servers []string `json:"servers"`
}

type testData struct {
	Server       string `json:"server"`
	Provider     string `json:"provider"`
	TokenPreview string `json:"token_preview"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func (a *adminRoutes) getStatus(w http.ResponseWriter, _ *http.Request) {
	WriteData(w, http.StatusOK, statusData{
		Status:            "active",
		TokenManagers:     a.registry.Count(),
		ServersConfigured: a.registry.Count(),
	})
}

func (a *adminRoutes) listServers(w http.ResponseWriter, _ *http.Request) {
	WriteData(w, http.StatusOK, serverListData{Servers: a.registry.Names()})
}

func (a *adminRoutes) testServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	manager, ok := a.registry.Get(name)
	if !ok {
		a.auditor.Event(audit.EventUnauthorizedAccess, name,
			"path", r.URL.Path, "reason", "unknown_server")
		WriteError(w, errors.NewConfigValidationError("unknown server: "+name, nil))
		return
	}

	result, err := manager.Acquire(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteData(w, http.StatusOK, testData{
		Server:       name,
		Provider:     manager.ProviderKind(),
		TokenPreview: tokenPreview(result.AccessToken),
		TokenType:    result.TokenType,
		ExpiresIn:    result.ExpiresIn,
	})
}

// tokenPreview masks a token down to its first characters. Enough to
// correlate with provider logs, useless for replay.
func tokenPreview(token string) string {
	const visible = 7
	if len(token) > visible {
		token = token[:visible]
	}
	return token + "…"
}
