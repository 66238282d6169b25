package orchestrator

import "time"

// HealthStatus is a provider's health as seen by the orchestrator.
type HealthStatus string

// Health statuses, from best to worst.
const (
	StatusUnknown     HealthStatus = "unknown"
	StatusHealthy     HealthStatus = "healthy"
	StatusDegraded    HealthStatus = "degraded"
	StatusUnavailable HealthStatus = "unavailable"
)

// unavailableAfter is the consecutive error count at which a provider is
// considered unavailable; fewer errors mean degraded.
const unavailableAfter = 3

// ProviderHealth is the orchestrator's bookkeeping for one provider.
type ProviderHealth struct {
	LastChecked       time.Time    `json:"last_checked"`
	Name              string       `json:"name"`
	Status            HealthStatus `json:"status"`
	LastError         string       `json:"last_error,omitempty"`
	ConsecutiveErrors int          `json:"consecutive_errors"`
}

func (h *ProviderHealth) success(now time.Time) {
	h.Status = StatusHealthy
	h.ConsecutiveErrors = 0
	h.LastError = ""
	h.LastChecked = now
}

func (h *ProviderHealth) failure(err error, now time.Time) {
	h.ConsecutiveErrors++
	if h.ConsecutiveErrors >= unavailableAfter {
		h.Status = StatusUnavailable
	} else {
		h.Status = StatusDegraded
	}
	if err != nil {
		h.LastError = err.Error()
	}
	h.LastChecked = now
}
