package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/console/service"
)

type DashboardHandler struct {
	service *service.StatsService
}

func NewDashboardHandler(s *service.StatsService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GovernanceStats(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetAutonomy — autonomy rate по окну, опционально для одного агента
// GET /v1/autonomy?agent_id=...&window=24h
func (h *DashboardHandler) GetAutonomy(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			http.Error(w, "window must be a positive duration", http.StatusBadRequest)
			return
		}
		window = d
	}

	report, err := h.service.AutonomyReport(r.Context(), agentID, window)
	if err != nil {
		http.Error(w, "Failed to compute autonomy rate", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
