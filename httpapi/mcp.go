package httpapi

import (
	"errors"
	"net/http"

	"pkt.systems/agenthub/internal/logx"
	"pkt.systems/agenthub/schema"
)

func (s *Server) handleMCPTools(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	result, err := s.gateway.ListTools(r.Context())
	if err != nil {
		s.writeGatewayError(w, r, userID, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func (s *Server) handleMCPCall(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if payload.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_tool_name", schema.ErrInvalidRequest)
		return
	}
	result, err := s.gateway.CallTool(r.Context(), payload.Name, payload.Arguments)
	if err != nil {
		s.writeGatewayError(w, r, userID, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func (s *Server) writeGatewayError(w http.ResponseWriter, r *http.Request, userID schema.UserID, err error) {
	log := logx.WithUser(r.Context(), userID)
	switch {
	case errors.Is(err, schema.ErrRPCTimeout):
		log.Warn("gateway call timed out")
		writeError(w, http.StatusGatewayTimeout, "rpc_timeout", err)
	case errors.Is(err, schema.ErrGatewayClosed):
		log.Warn("gateway unavailable")
		writeError(w, http.StatusServiceUnavailable, "gateway_unavailable", err)
	default:
		log.Warn("gateway call failed", "err", err)
		writeError(w, http.StatusBadGateway, "gateway_error", err)
	}
}
