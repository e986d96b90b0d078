// Package audit provides the security-event audit trail for dicombridge.
//
// Security events are a second logical channel over the structured log sink:
// every event is emitted at WARN or higher, tagged security_event=true, and
// carries an enumerated kind plus structured fields. Redaction of sensitive
// field values happens inside the log handler, not here.
package audit

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/dicombridge/dicombridge/pkg/logger"
)

// Security event kinds.
const (
	// EventAuthSuccess records a successful token acquisition
	EventAuthSuccess = "auth_success"
	// EventAuthFailure records a failed token acquisition
	EventAuthFailure = "auth_failure"
	// EventTokenValidationFailure records a token that failed JWT validation
	EventTokenValidationFailure = "token_validation_failure"
	// EventRateLimitExceeded records a request rejected by the rate limiter
	EventRateLimitExceeded = "rate_limit_exceeded"
	// EventSSLVerificationFailure records a TLS verification problem or bypass
	EventSSLVerificationFailure = "ssl_verification_failure"
	// EventConfigChange records a configuration load
	EventConfigChange = "config_change"
	// EventUnauthorizedAccess records a request for an unknown server
	EventUnauthorizedAccess = "unauthorized_access"
	// EventCircuitOpened records a circuit breaker opening
	EventCircuitOpened = "circuit_opened"
	// EventCircuitClosed records a circuit breaker closing
	EventCircuitClosed = "circuit_closed"
)

// Auditor emits security events to the structured log sink.
type Auditor struct {
	log *slog.Logger
}

// NewAuditor creates an auditor over the given logger. A nil logger falls
// back to the package singleton.
func NewAuditor(log *slog.Logger) *Auditor {
	if log == nil {
		log = logger.Get()
	}
	return &Auditor{log: log}
}

// Event emits one security event of the given kind for a server.
// Fields are alternating key-value pairs in the slog convention.
func (a *Auditor) Event(kind, server string, fields ...any) {
	attrs := make([]any, 0, len(fields)+6)
	attrs = append(attrs,
		"security_event", true,
		"event_id", uuid.NewString(),
		"server", server,
	)
	attrs = append(attrs, fields...)
	a.log.Warn(kind, attrs...)
}
