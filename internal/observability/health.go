package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker tracks what the health endpoints report: how many stream
// sessions are open and whether shutdown has begun.
type HealthChecker struct {
	mu           sync.RWMutex
	openSessions int
	shuttingDown bool
	changedAt    time.Time

	startTime time.Time
}

func NewHealthChecker() *HealthChecker {
	now := time.Now()
	return &HealthChecker{startTime: now, changedAt: now}
}

// RelayStateChanged records the latest session count and shutdown flag.
func (h *HealthChecker) RelayStateChanged(openSessions int, shuttingDown bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openSessions = openSessions
	h.shuttingDown = shuttingDown
	h.changedAt = time.Now()
}

// OpenSessions returns the last reported number of open sessions.
func (h *HealthChecker) OpenSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.openSessions
}

// IsReady reports whether data is flowing: at least one session is open
// and shutdown has not begun.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.openSessions > 0 && !h.shuttingDown
}

// LivenessHandler returns HTTP 200 while the process is up, including
// during shutdown.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	shuttingDown := h.shuttingDown
	h.mu.RUnlock()

	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":        "alive",
		"uptime":        time.Since(h.startTime).String(),
		"shutting_down": shuttingDown,
	})
}

// ReadinessHandler returns HTTP 200 while IsReady holds, 503 otherwise.
// Both bodies carry the open session count.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	open, shuttingDown, since := h.openSessions, h.shuttingDown, h.changedAt
	h.mu.RUnlock()

	status, code := "ready", http.StatusOK
	switch {
	case shuttingDown:
		status, code = "shutting_down", http.StatusServiceUnavailable
	case open == 0:
		status, code = "no_open_sessions", http.StatusServiceUnavailable
	}
	writeHealth(w, code, map[string]interface{}{
		"status":        status,
		"open_sessions": open,
		"since":         since.UTC().Format(time.RFC3339),
	})
}

func writeHealth(w http.ResponseWriter, code int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
