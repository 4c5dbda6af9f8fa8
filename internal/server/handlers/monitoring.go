package handlers

import (
	"net/http"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/server/responses"
	"git.home.luguber.info/inful/streamrec/internal/version"
)

// MonitoringHandlers serves liveness.
type MonitoringHandlers struct {
	startTime time.Time
}

// NewMonitoringHandlers creates monitoring handlers anchored at startTime.
func NewMonitoringHandlers(startTime time.Time) *MonitoringHandlers {
	return &MonitoringHandlers{startTime: startTime}
}

// HandleHealthz handles GET /healthz. It never requires authentication.
func (m *MonitoringHandlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	_ = writeJSONPretty(w, r, http.StatusOK, responses.LivenessResponse{
		Status:    "ok",
		Version:   version.Version,
		Uptime:    time.Since(m.startTime).Seconds(),
		Timestamp: time.Now().UTC(),
	})
}
