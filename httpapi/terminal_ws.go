package httpapi

import (
	"encoding/json"
	"net/http"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"

	"pkt.systems/agenthub/internal/logx"
)

// terminalFrame is a control message from the terminal client. Raw shell
// output travels the other way as binary websocket messages.
type terminalFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

func (s *Server) handleTerminalSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Ctx(r.Context()).Debug("terminal upgrade failed", "err", err)
		return
	}
	peer := &wsPeer{conn: conn}
	defer conn.Close()

	if !s.cfg.TerminalEnabled {
		_ = peer.WriteJSON(map[string]string{"type": "error", "message": "terminal_disabled"})
		return
	}
	token := bearerToken(r)
	if token == "" {
		_ = peer.WriteJSON(map[string]string{"type": "error", "message": "missing_token"})
		return
	}
	userID, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		_ = peer.WriteJSON(map[string]string{"type": "error", "message": "unauthorized"})
		return
	}
	log := logx.WithUser(r.Context(), userID)

	cmd := exec.Command(s.cfg.TerminalShell)
	cmd.Env = append(cmd.Environ(), "TERM=xterm-256color")
	tty, err := pty.Start(cmd)
	if err != nil {
		log.Warn("terminal shell start failed", "err", err)
		_ = peer.WriteJSON(map[string]string{"type": "error", "message": "shell_failed"})
		return
	}
	log.Info("terminal session started", "shell", s.cfg.TerminalShell, "pid", cmd.Process.Pid)
	defer func() {
		_ = tty.Close()
		_ = cmd.Process.Signal(syscall.SIGTERM)
		reaped := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(reaped)
		}()
		select {
		case <-reaped:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			<-reaped
		}
		log.Info("terminal session ended")
	}()

	// Shell output to client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16*1024)
		for {
			n, err := tty.Read(buf)
			if n > 0 {
				peer.mu.Lock()
				writeErr := conn.WriteMessage(websocket.BinaryMessage, buf[:n])
				peer.mu.Unlock()
				if writeErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame terminalFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "input":
			if _, err := tty.Write([]byte(frame.Data)); err != nil {
				return
			}
		case "resize":
			if frame.Cols > 0 && frame.Rows > 0 {
				_ = pty.Setsize(tty, &pty.Winsize{Cols: frame.Cols, Rows: frame.Rows})
			}
		}
	}
}
