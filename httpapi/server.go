package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"pkt.systems/agenthub/core"
	"pkt.systems/agenthub/internal/identity"
	"pkt.systems/agenthub/internal/logx"
	"pkt.systems/agenthub/internal/mcp"
	"pkt.systems/agenthub/internal/version"
	"pkt.systems/agenthub/schema"
)

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	verifier identity.TokenVerifier
	runs     *core.Manager
	logins   *core.LoginTracker
	rooms    *core.Registry
	hub      *ConnectionHub
	gateway  *mcp.Gateway
}

// NewServer constructs an HTTP server. Components for disabled features may
// be nil.
func NewServer(cfg Config, verifier identity.TokenVerifier, runs *core.Manager, logins *core.LoginTracker, rooms *core.Registry, gateway *mcp.Gateway) *Server {
	return &Server{
		cfg:      cfg,
		verifier: verifier,
		runs:     runs,
		logins:   logins,
		rooms:    rooms,
		hub:      NewConnectionHub(),
		gateway:  gateway,
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/me", s.requireUser(s.handleMe)).Methods(http.MethodGet)

	r.HandleFunc("/api/runs", s.requireUser(s.withAgent(s.handleRunStart))).Methods(http.MethodPost)
	r.HandleFunc("/api/runs/{id}", s.requireUser(s.withAgent(s.handleRunPoll))).Methods(http.MethodGet)
	r.HandleFunc("/api/runs/{id}/cancel", s.requireUser(s.withAgent(s.handleRunCancel))).Methods(http.MethodPost)
	r.HandleFunc("/api/runs/{id}/stream", s.requireUser(s.withAgent(s.handleRunStream))).Methods(http.MethodGet)
	r.HandleFunc("/api/login/device", s.requireUser(s.withAgent(s.handleLoginStart))).Methods(http.MethodPost)
	r.HandleFunc("/api/login/device/{id}", s.requireUser(s.withAgent(s.handleLoginStatus))).Methods(http.MethodGet)

	r.HandleFunc("/api/rooms", s.requireUser(s.withRooms(s.handleRoomList))).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms", s.requireUser(s.withRooms(s.handleRoomCreate))).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}/join", s.requireUser(s.withRooms(s.handleRoomJoin))).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}/leave", s.requireUser(s.withRooms(s.handleRoomLeave))).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}/members", s.requireUser(s.withRooms(s.handleRoomMembers))).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}/messages", s.requireUser(s.withRooms(s.handleRoomMessages))).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}/peers", s.requireUser(s.withRooms(s.handleRoomPeers))).Methods(http.MethodGet)
	r.HandleFunc("/api/rooms/{id}/kick", s.requireUser(s.withRooms(s.handleRoomKick))).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}/ban", s.requireUser(s.withRooms(s.handleRoomBan))).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}/role", s.requireUser(s.withRooms(s.handleRoomRole))).Methods(http.MethodPost)
	r.HandleFunc("/api/rooms/{id}/ws", s.handleRoomSocket).Methods(http.MethodGet)

	r.HandleFunc("/api/terminal/ws", s.handleTerminalSocket).Methods(http.MethodGet)

	r.HandleFunc("/api/proxy/chat", s.requireUser(s.handleChatProxy)).Methods(http.MethodPost)
	r.HandleFunc("/api/proxy/models", s.requireUser(s.handleProxyModels)).Methods(http.MethodPost)

	r.HandleFunc("/api/mcp/tools", s.requireUser(s.withMCP(s.handleMCPTools))).Methods(http.MethodGet)
	r.HandleFunc("/api/mcp/tools/call", s.requireUser(s.withMCP(s.handleMCPCall))).Methods(http.MethodPost)

	return withRequestLogging(r, s.lookupUser)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": version.Current(),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"features": map[string]bool{
			"agent":    s.cfg.AgentEnabled,
			"rooms":    s.cfg.RoomsEnabled,
			"terminal": s.cfg.TerminalEnabled,
			"mcp":      s.cfg.MCPEnabled,
		},
	})
}

type authedHandler func(http.ResponseWriter, *http.Request, schema.UserID)

func (s *Server) requireUser(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		userID, err := s.verifier.Verify(r.Context(), bearerToken(r))
		if err != nil {
			switch {
			case errors.Is(err, schema.ErrMissingToken):
				log.Warn("http token missing")
				writeError(w, http.StatusUnauthorized, "missing_token", err)
			case errors.Is(err, schema.ErrIdentityUnavailable):
				log.Warn("identity provider unavailable")
				writeError(w, http.StatusServiceUnavailable, "identity_unavailable", err)
			default:
				log.Warn("http token rejected")
				writeError(w, http.StatusUnauthorized, "unauthorized", schema.ErrUnauthorized)
			}
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) withAgent(next authedHandler) authedHandler {
	return s.gate(s.cfg.AgentEnabled, "agent_disabled", next)
}

func (s *Server) withRooms(next authedHandler) authedHandler {
	return s.gate(s.cfg.RoomsEnabled, "rooms_disabled", next)
}

func (s *Server) withMCP(next authedHandler) authedHandler {
	return s.gate(s.cfg.MCPEnabled, "mcp_disabled", next)
}

func (s *Server) gate(enabled bool, code string, next authedHandler) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
		if !enabled {
			writeError(w, http.StatusForbidden, code, schema.ErrFeatureDisabled)
			return
		}
		next(w, r, userID)
	}
}

// tokenPeeker is satisfied by verifiers that expose their cache.
type tokenPeeker interface {
	Peek(token string) (schema.UserID, bool)
}

func (s *Server) lookupUser(r *http.Request) schema.UserID {
	peeker, ok := s.verifier.(tokenPeeker)
	if !ok {
		return ""
	}
	token := bearerToken(r)
	if token == "" {
		return ""
	}
	userID, _ := peeker.Peek(token)
	return userID
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	// WebSocket clients cannot set headers; accept the query form there.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, map[string]any{"code": code, "message": err.Error()})
}
