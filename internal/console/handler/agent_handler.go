package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentgov-engine/internal/console/service"
	"go.uber.org/zap"
)

type AgentHandler struct {
	service *service.GovernanceService
	logger  *zap.Logger
}

func NewAgentHandler(s *service.GovernanceService, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, logger: logger.Named("agent-handler")}
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.ListAgents(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch agents", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agents)
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	agent, err := h.service.GetAgent(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to fetch agent", http.StatusInternalServerError)
		return
	}
	if agent == nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agent)
}

// Suspend — ручное выключение автоодобрения агента
func (h *AgentHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.SuspendAgent, "suspend")
}

// Resume — возврат агента в строй. Только человек снимает блокировку.
func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.service.ResumeAgent, "resume")
}

func (h *AgentHandler) toggle(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) error, name string) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "agent id is required", http.StatusBadRequest)
		return
	}

	// Ждем и БД, и Redis-сигнал: оператор должен знать, что состояние применено
	if err := action(r.Context(), id); err != nil {
		h.logger.Error("agent state change failed",
			zap.String("agent_id", id),
			zap.String("action", name),
			zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
