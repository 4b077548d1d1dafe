package core

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"pkt.systems/agenthub/schema"
	"pkt.systems/pslog"
)

// Run tracks one agent subprocess from spawn to completion. The manager's
// pump goroutine is the only writer of the derived state; callers read
// snapshots through the accessors.
type Run struct {
	ID        schema.RunID
	Owner     schema.UserID
	CreatedAt time.Time
	Args      []string

	buffer *RunBuffer

	mu        sync.Mutex
	cmd       *exec.Cmd
	threadID  schema.SessionID
	finalText string
	usage     *schema.TurnUsage
	done      bool
	exitCode  int

	finished chan struct{}
}

// Buffer returns the run's output buffer.
func (r *Run) Buffer() *RunBuffer { return r.buffer }

// Done reports whether the run reached its terminal state.
func (r *Run) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// ExitCode returns the process exit code; only meaningful once Done.
func (r *Run) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exitCode
}

// ThreadID returns the agent session id captured from the stream.
func (r *Run) ThreadID() schema.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threadID
}

// FinalResponse returns the last agent message captured from the stream.
func (r *Run) FinalResponse() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalText
}

// Usage returns the usage metrics captured from the stream, if any.
func (r *Run) Usage() *schema.TurnUsage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage
}

func (r *Run) signal(sig syscall.Signal) {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(sig)
}

// ManagerConfig controls run tracking behavior.
type ManagerConfig struct {
	BufferMaxLines  int
	RetainCompleted time.Duration
	MaxRunAge       time.Duration
	TermGrace       time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.BufferMaxLines <= 0 {
		c.BufferMaxLines = DefaultBufferMaxLines
	}
	if c.RetainCompleted <= 0 {
		c.RetainCompleted = 10 * time.Minute
	}
	if c.MaxRunAge <= 0 {
		c.MaxRunAge = time.Hour
	}
	if c.TermGrace <= 0 {
		c.TermGrace = 3 * time.Second
	}
	return c
}

// Manager owns the run table and every run's subprocess lifecycle.
type Manager struct {
	cfg ManagerConfig
	log pslog.Logger

	mu   sync.Mutex
	runs map[schema.RunID]*Run
}

// NewManager constructs a run manager.
func NewManager(cfg ManagerConfig, logger pslog.Logger) *Manager {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Manager{
		cfg:  cfg.withDefaults(),
		log:  logger,
		runs: make(map[schema.RunID]*Run),
	}
}

// CreateRun spawns the subprocess and starts its pump goroutine. It returns
// as soon as the process has started; output is consumed asynchronously.
func (m *Manager) CreateRun(ctx context.Context, owner schema.UserID, args []string, env []string) (*Run, error) {
	if owner == "" || len(args) == 0 {
		return nil, schema.ErrInvalidRequest
	}
	cmd := exec.Command(args[0], args[1:]...)
	if len(env) > 0 {
		cmd.Env = env
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	run := &Run{
		ID:        schema.RunID(uuid.NewString()),
		Owner:     owner,
		CreatedAt: time.Now(),
		Args:      append([]string(nil), args...),
		buffer:    NewRunBuffer(m.cfg.BufferMaxLines),
		cmd:       cmd,
		exitCode:  -1,
		finished:  make(chan struct{}),
	}
	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	log := m.log.With("run", run.ID, "user", owner)
	log.Info("run started", "pid", cmd.Process.Pid, "args", args)
	go m.pump(run, stdout, stderr, log)
	return run, nil
}

// GetRun returns the run for the id, if tracked.
func (m *Manager) GetRun(id schema.RunID) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	return run, ok
}

// CancelRun requests termination of an owned run. It returns false when the
// run is unknown or owned by someone else. Cancelling a finished run is a
// successful no-op; the process is never signalled again.
func (m *Manager) CancelRun(ctx context.Context, id schema.RunID, owner schema.UserID) bool {
	run, ok := m.GetRun(id)
	if !ok || run.Owner != owner {
		return false
	}
	if run.Done() {
		return true
	}
	log := m.log.With("run", run.ID, "user", owner)
	log.Info("run cancel requested")
	run.signal(syscall.SIGTERM)
	select {
	case <-run.finished:
		return true
	case <-time.After(m.cfg.TermGrace):
	case <-ctx.Done():
		return true
	}
	log.Warn("run cancel escalated to kill")
	run.signal(syscall.SIGKILL)
	select {
	case <-run.finished:
	case <-time.After(m.cfg.TermGrace):
		log.Error("run did not exit after kill")
	}
	return true
}

// Prune drops finished runs past the retention window and unfinished runs
// past the hard age ceiling.
func (m *Manager) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, run := range m.runs {
		age := now.Sub(run.CreatedAt)
		if run.Done() && age > m.cfg.RetainCompleted {
			delete(m.runs, id)
			removed++
		} else if !run.Done() && age > m.cfg.MaxRunAge {
			delete(m.runs, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debug("runs pruned", "removed", removed, "remaining", len(m.runs))
	}
	return removed
}

// Sweep runs Prune on a ticker until the context is cancelled.
func (m *Manager) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Prune(now)
		}
	}
}

// pump reads stdout line by line until EOF, extracting side-channel state
// from structured events and appending every retained line to the buffer.
// It always concludes with a synthetic done event, whatever went wrong.
func (m *Manager) pump(run *Run, stdout, stderr io.ReadCloser, log pslog.Logger) {
	stderrCh := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(stderr)
		stderrCh <- strings.TrimSpace(string(data))
	}()

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		event, err := schema.DecodeExecEvent([]byte(raw))
		if err != nil {
			_ = run.buffer.AppendEvent(schema.LogEvent{Type: schema.EventLog, Message: raw})
			continue
		}
		run.mu.Lock()
		switch event.Type {
		case schema.EventThreadStarted:
			if event.ThreadID != "" {
				run.threadID = event.ThreadID
			}
		case schema.EventItemCompleted:
			if event.Item != nil && event.Item.Type == schema.ItemAgentMessage && event.Item.Text != "" {
				run.finalText = event.Item.Text
			}
		case schema.EventTurnCompleted:
			if event.Usage != nil {
				run.usage = event.Usage
			}
		}
		run.mu.Unlock()
		run.buffer.Append(raw)
	}
	if err := scanner.Err(); err != nil {
		log.Warn("run stdout read failed", "err", err)
		_ = run.buffer.AppendEvent(schema.StderrEvent{Type: schema.EventStderr, Message: err.Error()})
	}

	errText := <-stderrCh
	exitCode := 0
	if err := run.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			log.Warn("run wait failed", "err", err)
			exitCode = -1
		}
	}
	if exitCode != 0 && errText != "" {
		code := exitCode
		_ = run.buffer.AppendEvent(schema.StderrEvent{Type: schema.EventStderr, Message: errText, ReturnCode: &code})
	}

	run.mu.Lock()
	run.exitCode = exitCode
	done := schema.DoneEvent{
		Type:          schema.EventDone,
		RunID:         run.ID,
		ThreadID:      run.threadID,
		FinalResponse: run.finalText,
		Usage:         run.usage,
		ReturnCode:    exitCode,
	}
	run.mu.Unlock()
	_ = run.buffer.AppendEvent(done)
	run.mu.Lock()
	run.done = true
	run.mu.Unlock()
	run.buffer.MarkDone()
	close(run.finished)
	log.Info("run finished", "exit_code", exitCode, "duration_ms", time.Since(run.CreatedAt).Milliseconds())
}
