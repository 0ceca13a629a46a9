package api

import (
	"log/slog"
	"net/http"

	"github.com/leadflowhq/leadflow/internal/flow"
	"github.com/leadflowhq/leadflow/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"sessions": s.eng.SessionCount(),
	}))
}

func (s *Server) leadsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.leadsHandler: listing leads")
	leads, err := s.leads.List()
	if err != nil {
		slog.Error("Server.leadsHandler: failed to list leads", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch leads"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(leads))
}

func (s *Server) leadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := models.ValidateIdentity(r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid lead identity"))
		return
	}
	lead, err := s.leads.Get(id)
	if err == models.ErrLeadNotFound {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	if err != nil {
		slog.Error("Server.leadHandler: lookup failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch lead"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(lead))
}

func (s *Server) deleteLeadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := models.ValidateIdentity(r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid lead identity"))
		return
	}
	if err := s.leads.Delete(id); err != nil {
		if err == models.ErrLeadNotFound {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
			return
		}
		slog.Error("Server.deleteLeadHandler: delete failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete lead"))
		return
	}
	slog.Info("Server.deleteLeadHandler: lead deleted", "id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Lead deleted", nil))
}

// reloadFlowHandler re-reads the flow definition from disk and swaps it into
// the engine. In-flight conversations pick up the new definition on their
// next event.
func (s *Server) reloadFlowHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.FlowPath == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No flow path configured"))
		return
	}
	def, err := flow.LoadDefinition(s.cfg.FlowPath)
	if err != nil {
		slog.Error("Server.reloadFlowHandler: flow reload failed", "error", err, "path", s.cfg.FlowPath)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error("Flow definition invalid: "+err.Error()))
		return
	}
	s.eng.SetFlow(def)
	slog.Info("Server.reloadFlowHandler: flow definition reloaded", "path", s.cfg.FlowPath, "steps", len(def.Steps))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow reloaded", map[string]interface{}{
		"steps": len(def.Steps),
	}))
}
