package httpapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"pkt.systems/agenthub/core"
	"pkt.systems/agenthub/internal/logx"
	"pkt.systems/agenthub/schema"
)

const (
	maxPollWait = 25 * time.Second
	streamWait  = 25 * time.Second
)

type runStartRequest struct {
	Prompt   string `json:"prompt"`
	ThreadID string `json:"threadId,omitempty"`
}

type runPollResponse struct {
	RunID         schema.RunID      `json:"runId"`
	Cursor        int               `json:"cursor"`
	Lines         []string          `json:"lines"`
	Done          bool              `json:"done"`
	ReturnCode    *int              `json:"returnCode,omitempty"`
	ThreadID      schema.SessionID  `json:"threadId,omitempty"`
	FinalResponse string            `json:"finalResponse,omitempty"`
	Usage         *schema.TurnUsage `json:"usage,omitempty"`
}

func (s *Server) handleRunStart(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	var payload runStartRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	prompt := strings.TrimSpace(payload.Prompt)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "missing_prompt", schema.ErrInvalidRequest)
		return
	}

	args := make([]string, 0, len(s.cfg.AgentArgs)+4)
	args = append(args, s.cfg.AgentBinary)
	args = append(args, s.cfg.AgentArgs...)
	if threadID := strings.TrimSpace(payload.ThreadID); threadID != "" {
		args = append(args, "resume", threadID)
	}
	args = append(args, prompt)

	var env []string
	if len(s.cfg.AgentEnv) > 0 {
		env = append(os.Environ(), s.cfg.AgentEnv...)
	}
	run, err := s.runs.CreateRun(r.Context(), userID, args, env)
	if err != nil {
		logx.WithUser(r.Context(), userID).Warn("run start failed", "err", err)
		writeError(w, http.StatusInternalServerError, "run_start_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"runId": run.ID})
}

func (s *Server) handleRunPoll(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	run, ok := s.ownedRun(w, r, userID)
	if !ok {
		return
	}
	cursor := queryInt(r, "cursor", 0)
	wait := time.Duration(queryInt(r, "waitSeconds", 0)) * time.Second
	if wait > maxPollWait {
		wait = maxPollWait
	}
	if wait > 0 {
		if err := run.Buffer().WaitForNew(r.Context(), cursor, wait); err != nil {
			// Client went away; nothing to write.
			return
		}
	}
	cursor, lines := run.Buffer().SnapshotFrom(cursor)
	resp := runPollResponse{
		RunID:         run.ID,
		Cursor:        cursor + len(lines),
		Lines:         lines,
		Done:          run.Done(),
		ThreadID:      run.ThreadID(),
		FinalResponse: run.FinalResponse(),
		Usage:         run.Usage(),
	}
	if resp.Done {
		code := run.ExitCode()
		resp.ReturnCode = &code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunCancel(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	id := schema.RunID(mux.Vars(r)["id"])
	if !s.runs.CancelRun(r.Context(), id, userID) {
		writeError(w, http.StatusNotFound, "run_not_found", schema.ErrRunNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleRunStream writes the run's lines as newline-delimited JSON until the
// run completes. A client disconnect cancels the run.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	run, ok := s.ownedRun(w, r, userID)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream_unsupported", errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logx.WithRun(r.Context(), userID, run.ID)
	log.Info("run stream opened")
	defer func() {
		if !run.Done() {
			log.Info("run stream client gone, cancelling run")
			// The request context is already cancelled here.
			s.runs.CancelRun(context.Background(), run.ID, userID)
		}
		log.Info("run stream closed")
	}()

	cursor := queryInt(r, "cursor", 0)
	for {
		next, lines := run.Buffer().SnapshotFrom(cursor)
		cursor = next + len(lines)
		for _, line := range lines {
			if _, err := w.Write(append([]byte(line), '\n')); err != nil {
				return
			}
		}
		if len(lines) > 0 {
			flusher.Flush()
		}
		if run.Buffer().Done() {
			return
		}
		if err := run.Buffer().WaitForNew(r.Context(), cursor, streamWait); err != nil {
			return
		}
	}
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	args := []string{s.cfg.AgentBinary, "login", "--device-auth"}
	attempt, err := s.logins.Start(r.Context(), args)
	if err != nil {
		logx.WithUser(r.Context(), userID).Warn("device login start failed", "err", err)
		writeError(w, http.StatusInternalServerError, "login_start_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt.Snapshot())
}

func (s *Server) handleLoginStatus(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	id := schema.LoginID(mux.Vars(r)["id"])
	attempt, ok := s.logins.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "login_not_found", schema.ErrLoginNotFound)
		return
	}
	writeJSON(w, http.StatusOK, attempt.Snapshot())
}

func (s *Server) ownedRun(w http.ResponseWriter, r *http.Request, userID schema.UserID) (*core.Run, bool) {
	id := schema.RunID(mux.Vars(r)["id"])
	run, ok := s.runs.GetRun(id)
	if !ok || run.Owner != userID {
		writeError(w, http.StatusNotFound, "run_not_found", schema.ErrRunNotFound)
		return nil, false
	}
	return run, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
