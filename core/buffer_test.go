package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRunBufferSkipsBlankLines(t *testing.T) {
	b := NewRunBuffer(10)
	b.Append("")
	b.Append("   \n")
	b.Append("one\n")
	start, end := b.CursorRange()
	if start != 0 || end != 1 {
		t.Fatalf("expected window (0,1), got (%d,%d)", start, end)
	}
}

func TestRunBufferOffsetTracksDrops(t *testing.T) {
	b := NewRunBuffer(3)
	for i := 0; i < 10; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}
	start, end := b.CursorRange()
	if start != 7 {
		t.Fatalf("expected offset 7 (appended-cap), got %d", start)
	}
	if end != 10 {
		t.Fatalf("expected end 10, got %d", end)
	}
	cursor, lines := b.SnapshotFrom(0)
	if cursor != 7 {
		t.Fatalf("expected cursor clamped to 7, got %d", cursor)
	}
	if len(lines) != 3 || lines[0] != "line-7" || lines[2] != "line-9" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestRunBufferSnapshotClampsAboveEnd(t *testing.T) {
	b := NewRunBuffer(10)
	b.Append("one")
	cursor, lines := b.SnapshotFrom(99)
	if cursor != 1 {
		t.Fatalf("expected cursor 1, got %d", cursor)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

func TestRunBufferSnapshotContinuation(t *testing.T) {
	b := NewRunBuffer(100)
	for i := 0; i < 6; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}
	var collected []string
	cursor := 0
	for {
		next, lines := b.SnapshotFrom(cursor)
		if len(lines) == 0 {
			break
		}
		collected = append(collected, lines[:2]...)
		cursor = next + 2
	}
	if len(collected) != 6 {
		t.Fatalf("expected 6 lines via cursor walk, got %d: %v", len(collected), collected)
	}
	for i, line := range collected {
		if line != fmt.Sprintf("line-%d", i) {
			t.Fatalf("gap at %d: %v", i, collected)
		}
	}
}

func TestRunBufferWaitTimesOutWithoutError(t *testing.T) {
	b := NewRunBuffer(10)
	b.Append("one")
	start := time.Now()
	if err := b.WaitForNew(context.Background(), 1, 50*time.Millisecond); err != nil {
		t.Fatalf("expected nil on timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("returned before timeout: %v", elapsed)
	}
}

func TestRunBufferWaitWakesOnAppend(t *testing.T) {
	b := NewRunBuffer(10)
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Append("new data")
	}()
	start := time.Now()
	if err := b.WaitForNew(context.Background(), 0, 5*time.Second); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("wake took too long: %v", elapsed)
	}
}

func TestRunBufferWaitReturnsImmediatelyWhenBehind(t *testing.T) {
	b := NewRunBuffer(10)
	b.Append("one")
	b.Append("two")
	if err := b.WaitForNew(context.Background(), 0, 5*time.Second); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}

func TestRunBufferWaitWakesOnDone(t *testing.T) {
	b := NewRunBuffer(10)
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.MarkDone()
	}()
	if err := b.WaitForNew(context.Background(), 0, 5*time.Second); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if !b.Done() {
		t.Fatalf("expected done")
	}
}

func TestRunBufferWaitHonorsContext(t *testing.T) {
	b := NewRunBuffer(10)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := b.WaitForNew(ctx, 0, 5*time.Second); err == nil {
		t.Fatalf("expected context error")
	}
}
