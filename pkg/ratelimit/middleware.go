package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/dicombridge/dicombridge/pkg/audit"
	"github.com/dicombridge/dicombridge/pkg/logger"
	"github.com/dicombridge/dicombridge/pkg/telemetry"
)

// keyKindClientIP labels rejections keyed by the caller's address.
const keyKindClientIP = "client_ip"

// rejectionBody is the 429 response payload.
type rejectionBody struct {
	Error         string `json:"error"`
	MaxRequests   int    `json:"max_requests"`
	WindowSeconds int    `json:"window_seconds"`
}

// ClientIP extracts the caller's address for use as a rate-limit key.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces the limiter per client IP. Rejected requests get a
// 429 with the limit parameters in the body, one rate_limit_exceeded
// security event, and a rejection metric.
func Middleware(limiter *Limiter, auditor *audit.Auditor, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := ClientIP(r)
			decision := limiter.CheckAndRecord(clientIP)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			windowSeconds := int(decision.Window.Seconds())
			if auditor != nil {
				auditor.Event(audit.EventRateLimitExceeded, "",
					"client_ip", clientIP,
					"limit", decision.Limit,
					"window", windowSeconds,
				)
			}
			if metrics != nil {
				metrics.RecordRateLimitRejected(keyKindClientIP)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			err := json.NewEncoder(w).Encode(rejectionBody{
				Error:         "Rate limit exceeded, try again later",
				MaxRequests:   decision.Limit,
				WindowSeconds: windowSeconds,
			})
			if err != nil {
				logger.Errorf("Failed to write rate limit response: %v", err)
			}
		})
	}
}
