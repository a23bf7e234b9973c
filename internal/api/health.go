package api

import (
	"net/http"
	"time"
)

type healthHandler struct {
	deps Deps
}

// aggregate reports overall service health. Engine trouble degrades the
// report but the endpoint itself stays 200 while the process serves.
func (h *healthHandler) aggregate(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{"api": "ok"}
	status := "healthy"

	if sup := h.deps.Supervisor; sup != nil {
		st := sup.Status()
		checks["whisper_server"] = string(st.State)
		checks["restart_count"] = st.RestartCount
		checks["consecutive_failures"] = st.ConsecutiveFailures
		checks["watchdog"] = map[bool]string{true: "running", false: "stopped"}[st.WatchdogRunning]
		if !st.IsHealthy {
			status = "degraded"
		}
	} else {
		if h.deps.Engine.Health(r.Context()) {
			checks["whisper_server"] = "ok"
		} else {
			checks["whisper_server"] = "unreachable"
			status = "degraded"
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"version":        h.deps.Version,
		"uptime_seconds": int64(time.Since(h.deps.StartTime).Seconds()),
		"checks":         checks,
	})
}

func (h *healthHandler) live(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ready turns 200 once the engine reached Ready at least once, so load
// balancers hold traffic through the initial model load only.
func (h *healthHandler) ready(w http.ResponseWriter, r *http.Request) {
	ready := false
	if sup := h.deps.Supervisor; sup != nil {
		ready = sup.Ready()
	} else {
		ready = h.deps.Engine.Health(r.Context())
	}
	if !ready {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
