package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

func waitForLogin(t *testing.T, attempt *LoginAttempt) LoginSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap := attempt.Snapshot()
		if snap.Status != LoginPending {
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("login did not finish")
	return LoginSnapshot{}
}

func TestLoginScrapesURLAndCode(t *testing.T) {
	tracker := NewLoginTracker("", nil)
	script := `printf '%s\n' 'Visit https://auth.openai.com/codex/device to continue' 'Enter code ABCD-1234 when prompted'`
	attempt, err := tracker.Start(context.Background(), []string{"/bin/sh", "-c", script})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitForLogin(t, attempt)
	if snap.Status != LoginSuccess {
		t.Fatalf("expected success, got %s", snap.Status)
	}
	if snap.URL != "https://auth.openai.com/codex/device" {
		t.Fatalf("url not scraped: %q", snap.URL)
	}
	if snap.Code != "ABCD-1234" {
		t.Fatalf("code not scraped: %q", snap.Code)
	}
	if snap.ReturnCode == nil || *snap.ReturnCode != 0 {
		t.Fatalf("unexpected return code: %+v", snap.ReturnCode)
	}
}

func TestLoginFailureReportsReturnCode(t *testing.T) {
	tracker := NewLoginTracker("", nil)
	attempt, err := tracker.Start(context.Background(), []string{"/bin/sh", "-c", "echo denied >&2; exit 4"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitForLogin(t, attempt)
	if snap.Status != LoginFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
	if snap.ReturnCode == nil || *snap.ReturnCode != 4 {
		t.Fatalf("unexpected return code: %+v", snap.ReturnCode)
	}
	found := false
	for _, line := range snap.OutputTail {
		if strings.Contains(line, "denied") {
			found = true
		}
	}
	if !found {
		t.Fatalf("stderr not merged into output: %+v", snap.OutputTail)
	}
}

func TestLoginOutputTailBounded(t *testing.T) {
	tracker := NewLoginTracker("", nil)
	attempt, err := tracker.Start(context.Background(), []string{"/bin/sh", "-c", "seq 1 120"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := waitForLogin(t, attempt)
	if len(snap.OutputTail) != loginOutputTail {
		t.Fatalf("expected %d tail lines, got %d", loginOutputTail, len(snap.OutputTail))
	}
	if snap.OutputTail[len(snap.OutputTail)-1] != "120" {
		t.Fatalf("tail should keep newest lines: %q", snap.OutputTail[len(snap.OutputTail)-1])
	}
}

func TestLoginTrackerGetAndPrune(t *testing.T) {
	tracker := NewLoginTracker("", nil)
	attempt, err := tracker.Start(context.Background(), []string{"/bin/sh", "-c", "true"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := tracker.Get(attempt.ID); !ok {
		t.Fatalf("attempt not tracked")
	}
	if _, ok := tracker.Get("unknown"); ok {
		t.Fatalf("unexpected hit for unknown id")
	}
	waitForLogin(t, attempt)

	if removed := tracker.Prune(time.Now()); removed != 0 {
		t.Fatalf("expected nothing pruned, removed %d", removed)
	}
	if removed := tracker.Prune(time.Now().Add(time.Hour)); removed != 1 {
		t.Fatalf("expected attempt pruned, removed %d", removed)
	}
	if _, ok := tracker.Get(attempt.ID); ok {
		t.Fatalf("attempt still tracked after prune")
	}
}

func TestLoginStartValidatesArgs(t *testing.T) {
	tracker := NewLoginTracker("", nil)
	if _, err := tracker.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty argv")
	}
}
