package resilience

import (
	stderrors "errors"
	"fmt"

	"github.com/sony/gobreaker"

	"github.com/dicombridge/dicombridge/pkg/audit"
	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/errors"
	"github.com/dicombridge/dicombridge/pkg/logger"
	"github.com/dicombridge/dicombridge/pkg/telemetry"
)

// Breaker guards one server's identity provider. It opens after a run of
// consecutive infrastructure failures and rejects calls while open.
//
// Credential and scope rejections never count as failures: a misconfigured
// client would otherwise wedge the circuit open with no chance of recovery.
type Breaker struct {
	server string
	cb     *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker for one server. Transitions are logged,
// counted in metrics, and the open/close edges emit security events.
func NewBreaker(server string, cfg config.CircuitBreakerConfig, metrics *telemetry.Metrics, auditor *audit.Auditor) *Breaker {
	settings := gobreaker.Settings{
		Name:        server,
		MaxRequests: uint32(cfg.HalfOpenProbes), // #nosec G115 -- validated >= 1
		Timeout:     cfg.OpenDuration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold) // #nosec G115 -- validated >= 1
		},
		IsSuccessful: func(err error) bool {
			return !CountsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("Circuit breaker state changed",
				"server", name, "from", from.String(), "to", to.String())
			if metrics != nil {
				metrics.RecordCircuitTransition(name, from.String(), to.String(), stateGaugeValue(to))
			}
			if auditor == nil {
				return
			}
			switch to {
			case gobreaker.StateOpen:
				auditor.Event(audit.EventCircuitOpened, name, "from", from.String())
			case gobreaker.StateClosed:
				auditor.Event(audit.EventCircuitClosed, name, "from", from.String())
			}
		},
	}

	return &Breaker{
		server: server,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

// CountsAsFailure reports whether an error advances the breaker's failure
// count. Only infrastructure failures do.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.IsNetwork(err) || errors.IsProviderUnavailable(err) || errors.IsRetriesExhausted(err)
}

// Execute runs fn through the breaker. A rejection while the circuit is
// open (or half-open with its probe budget spent) maps to CircuitOpen.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil && (stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests)) {
		return nil, errors.NewCircuitOpenError(
			fmt.Sprintf("circuit breaker is open for server %s", b.server), err)
	}
	return result, err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func stateGaugeValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return telemetry.CircuitStateOpen
	case gobreaker.StateHalfOpen:
		return telemetry.CircuitStateHalfOpen
	default:
		return telemetry.CircuitStateClosed
	}
}
