package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/pitabwire/intake/internal/config"
	"github.com/pitabwire/intake/model"
)

// isSafeMethod reports whether the gateway may repeat a call. Answer updates
// are retried by the auto-save engine instead.
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryable reports whether a failed attempt may be repeated. An open
// breaker is never retried.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if model.IsConnectivity(err) {
		return true
	}
	return isRetryableStatus(model.StatusOf(err))
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			delay = cfg.BackoffMax
			break
		}
	}
	return delay
}
