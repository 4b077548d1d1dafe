package core

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/agenthub/schema"
	"pkt.systems/pslog"
)

const loginOutputTail = 50

var deviceCodePattern = regexp.MustCompile(`\b([A-Za-z0-9]{4,6}-[A-Za-z0-9]{4,6})\b`)

// LoginStatus describes the state of a device-auth attempt.
type LoginStatus string

const (
	// LoginPending means the CLI is still waiting for the user.
	LoginPending LoginStatus = "pending"
	// LoginSuccess means the CLI exited zero.
	LoginSuccess LoginStatus = "success"
	// LoginFailed means the CLI exited non-zero.
	LoginFailed LoginStatus = "failed"
)

// LoginAttempt tracks one device-auth CLI invocation. The verification URL
// and user code are scraped from the process output as it arrives.
type LoginAttempt struct {
	ID        schema.LoginID
	CreatedAt time.Time

	mu       sync.Mutex
	cmd      *exec.Cmd
	url      string
	code     string
	output   []string
	done     bool
	exitCode int
}

// LoginSnapshot is the caller-facing view of an attempt.
type LoginSnapshot struct {
	ID         schema.LoginID `json:"loginId"`
	Status     LoginStatus    `json:"status"`
	URL        string         `json:"url,omitempty"`
	Code       string         `json:"code,omitempty"`
	OutputTail []string       `json:"outputTail"`
	ReturnCode *int           `json:"returnCode,omitempty"`
}

// Snapshot returns the attempt's current state.
func (a *LoginAttempt) Snapshot() LoginSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap := LoginSnapshot{
		ID:         a.ID,
		Status:     LoginPending,
		URL:        a.url,
		Code:       a.code,
		OutputTail: append([]string(nil), a.output...),
	}
	if a.done {
		code := a.exitCode
		snap.ReturnCode = &code
		if code == 0 {
			snap.Status = LoginSuccess
		} else {
			snap.Status = LoginFailed
		}
	}
	return snap
}

// LoginTracker owns device-auth login attempts.
type LoginTracker struct {
	verifyHost string
	maxAge     time.Duration
	log        pslog.Logger

	mu       sync.Mutex
	attempts map[schema.LoginID]*LoginAttempt
}

// NewLoginTracker constructs a tracker. verifyHost marks output lines that
// carry the verification URL.
func NewLoginTracker(verifyHost string, logger pslog.Logger) *LoginTracker {
	if verifyHost == "" {
		verifyHost = "auth.openai.com/codex/device"
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &LoginTracker{
		verifyHost: verifyHost,
		maxAge:     15 * time.Minute,
		log:        logger,
		attempts:   make(map[schema.LoginID]*LoginAttempt),
	}
}

// Start spawns the login CLI with stderr merged into stdout and begins
// scraping its output.
func (t *LoginTracker) Start(ctx context.Context, args []string) (*LoginAttempt, error) {
	if len(args) == 0 {
		return nil, schema.ErrInvalidRequest
	}
	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	attempt := &LoginAttempt{
		ID:        schema.LoginID(uuid.NewString()),
		CreatedAt: time.Now(),
		cmd:       cmd,
		exitCode:  -1,
	}
	t.mu.Lock()
	t.attempts[attempt.ID] = attempt
	t.mu.Unlock()
	t.log.Info("device login started", "login", attempt.ID)
	go t.scrape(attempt, stdout)
	return attempt, nil
}

// Get returns the attempt for the id, if tracked.
func (t *LoginTracker) Get(id schema.LoginID) (*LoginAttempt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempt, ok := t.attempts[id]
	return attempt, ok
}

// Prune drops attempts older than the tracker's age ceiling.
func (t *LoginTracker) Prune(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, attempt := range t.attempts {
		if now.Sub(attempt.CreatedAt) > t.maxAge {
			delete(t.attempts, id)
			removed++
		}
	}
	return removed
}

func (t *LoginTracker) scrape(attempt *LoginAttempt, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		text := strings.TrimRight(scanner.Text(), "\r\n")
		attempt.mu.Lock()
		attempt.output = append(attempt.output, text)
		if len(attempt.output) > loginOutputTail {
			attempt.output = attempt.output[len(attempt.output)-loginOutputTail:]
		}
		if attempt.url == "" && strings.Contains(text, t.verifyHost) {
			attempt.url = "https://" + t.verifyHost
		}
		if attempt.code == "" {
			if match := deviceCodePattern.FindStringSubmatch(text); match != nil {
				attempt.code = strings.ToUpper(match[1])
			}
		}
		attempt.mu.Unlock()
	}
	exitCode := 0
	if err := attempt.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	attempt.mu.Lock()
	attempt.done = true
	attempt.exitCode = exitCode
	attempt.mu.Unlock()
	t.log.Info("device login finished", "login", attempt.ID, "exit_code", exitCode)
}
