package core

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// DefaultBufferMaxLines bounds the retained window of a run buffer.
const DefaultBufferMaxLines = 2500

// RunBuffer is an append-only, bounded, cursor-addressable line log.
// Cursors are absolute positions in the logical stream; once the ring
// overflows, the oldest lines are dropped and the valid window starts at
// Offset. Readers that fell behind are clamped forward and silently lose
// the dropped lines.
type RunBuffer struct {
	mu       sync.Mutex
	offset   int
	lines    []string
	done     bool
	maxLines int
	updated  chan struct{}
}

// NewRunBuffer constructs a buffer with the given retention cap.
func NewRunBuffer(maxLines int) *RunBuffer {
	if maxLines <= 0 {
		maxLines = DefaultBufferMaxLines
	}
	return &RunBuffer{
		maxLines: maxLines,
		updated:  make(chan struct{}),
	}
}

// Append adds one line. Empty and whitespace-only lines are ignored.
// All pending waiters are woken after the critical section.
func (b *RunBuffer) Append(line string) {
	text := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	b.mu.Lock()
	b.lines = append(b.lines, text)
	if len(b.lines) > b.maxLines {
		drop := len(b.lines) - b.maxLines
		b.lines = append([]string(nil), b.lines[drop:]...)
		b.offset += drop
	}
	notify := b.updated
	b.updated = make(chan struct{})
	b.mu.Unlock()
	close(notify)
}

// AppendEvent marshals the event and appends it as one line.
func (b *RunBuffer) AppendEvent(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	b.Append(string(data))
	return nil
}

// CursorRange returns the valid cursor window (start, end).
func (b *RunBuffer) CursorRange() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offset, b.offset + len(b.lines)
}

// SnapshotFrom clamps cursor into the valid window and returns the clamped
// cursor plus a copy of all lines from that point to the end.
func (b *RunBuffer) SnapshotFrom(cursor int) (int, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.offset
	end := b.offset + len(b.lines)
	if cursor < 0 {
		cursor = 0
	}
	if cursor < start {
		cursor = start
	}
	if cursor > end {
		cursor = end
	}
	idx := cursor - start
	out := make([]string, end-cursor)
	copy(out, b.lines[idx:])
	return cursor, out
}

// WaitForNew blocks until the buffer is done, the end position exceeds
// cursor, or timeout elapses. A timeout is not an error; it means "no new
// data yet, poll again". Only context cancellation returns an error.
func (b *RunBuffer) WaitForNew(ctx context.Context, cursor int, timeout time.Duration) error {
	if cursor < 0 {
		cursor = 0
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		end := b.offset + len(b.lines)
		done := b.done
		notify := b.updated
		b.mu.Unlock()
		if done || end > cursor {
			return nil
		}
		select {
		case <-notify:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MarkDone sets the done flag and wakes all waiters.
func (b *RunBuffer) MarkDone() {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	notify := b.updated
	b.updated = make(chan struct{})
	b.mu.Unlock()
	close(notify)
}

// Done reports whether the buffer has been marked terminal.
func (b *RunBuffer) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}
