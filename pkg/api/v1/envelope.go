// Package v1 serves the admin REST interface consumed by the host DICOM
// server, and the response envelope shared with the proxy's own failures.
package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dicombridge/dicombridge/pkg/errors"
	"github.com/dicombridge/dicombridge/pkg/logger"
	"github.com/dicombridge/dicombridge/pkg/versions"
)

// APIVersion is the wire version reported in every envelope.
const APIVersion = "2.0"

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope wraps every admin response and every proxy-originated error.
type Envelope struct {
	PluginVersion string `json:"plugin_version"`
	APIVersion    string `json:"api_version"`
	Timestamp     string `json:"timestamp"`
	Data          any    `json:"data"`
}

// errorData is the data payload of an error envelope.
type errorData struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// WriteData writes a success envelope.
func WriteData(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, data)
}

// WriteError maps a broker error to its HTTP status and writes an error
// envelope carrying the typed kind.
func WriteError(w http.ResponseWriter, err error) {
	errorType := errors.TypeOf(err)
	if errorType == "" {
		errorType = "InternalError"
	}
	writeEnvelope(w, HTTPStatusFor(err), errorData{
		Error:     err.Error(),
		ErrorType: errorType,
	})
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Envelope{
		PluginVersion: versions.GetVersionInfo().Version,
		APIVersion:    APIVersion,
		Timestamp:     time.Now().UTC().Format(timestampLayout),
		Data:          data,
	}); err != nil {
		logger.Errorf("Failed to encode response envelope: %v", err)
	}
}

// HTTPStatusFor maps a broker error chain to its wire status. Infrastructure
// failures are 503, upstream auth rejections are 502.
func HTTPStatusFor(err error) int {
	switch {
	case errors.IsRateLimitExceeded(err):
		return http.StatusTooManyRequests
	case errors.IsCircuitOpen(err):
		return http.StatusServiceUnavailable
	case errors.IsNetwork(err), errors.IsProviderUnavailable(err), errors.IsRetriesExhausted(err):
		return http.StatusServiceUnavailable
	case errors.IsTokenValidationFailed(err), errors.IsUnauthorized(err),
		errors.IsScopeDenied(err), errors.IsMalformedResponse(err):
		return http.StatusBadGateway
	case errors.IsConfigValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
