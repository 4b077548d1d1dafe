package schema

import (
	"bytes"
	"encoding/json"
)

// EventType is the top-level type emitted by the agent CLI's JSON stream.
type EventType string

const (
	// EventThreadStarted indicates a new thread/session started.
	EventThreadStarted EventType = "thread.started"
	// EventTurnStarted indicates a turn started.
	EventTurnStarted EventType = "turn.started"
	// EventTurnCompleted indicates a turn completed successfully.
	EventTurnCompleted EventType = "turn.completed"
	// EventTurnFailed indicates a turn failed.
	EventTurnFailed EventType = "turn.failed"
	// EventItemStarted indicates an item started.
	EventItemStarted EventType = "item.started"
	// EventItemUpdated indicates an item updated.
	EventItemUpdated EventType = "item.updated"
	// EventItemCompleted indicates an item completed.
	EventItemCompleted EventType = "item.completed"
	// EventError indicates a stream-level error.
	EventError EventType = "error"

	// EventLog wraps a non-JSON output line from the agent process.
	EventLog EventType = "log"
	// EventStderr wraps captured stderr text.
	EventStderr EventType = "stderr"
	// EventDone is the synthetic terminal event of every run.
	EventDone EventType = "done"
)

// ItemType describes the item payload type in item.* events.
type ItemType string

const (
	// ItemAgentMessage represents assistant output.
	ItemAgentMessage ItemType = "agent_message"
	// ItemReasoning represents reasoning content.
	ItemReasoning ItemType = "reasoning"
	// ItemCommandExecution represents a command execution item.
	ItemCommandExecution ItemType = "command_execution"
	// ItemError represents an error item.
	ItemError ItemType = "error"
)

// ExecEvent is the normalized event shape for agent exec streams.
// Unknown event types decode with their Type preserved and payload
// fields left zero; Raw always carries the original line.
type ExecEvent struct {
	Type     EventType       `json:"type"`
	ThreadID SessionID       `json:"thread_id,omitempty"`
	Usage    *TurnUsage      `json:"usage,omitempty"`
	Item     *ItemEvent      `json:"item,omitempty"`
	Error    *ErrorEvent     `json:"error,omitempty"`
	Message  string          `json:"message,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// TurnUsage captures token usage reported by the agent.
type TurnUsage struct {
	InputTokens       int `json:"input_tokens,omitempty"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens,omitempty"`
	Tokens            int `json:"tokens,omitempty"`
}

// ItemEvent captures item payloads from item.* events.
type ItemEvent struct {
	ID   string   `json:"id,omitempty"`
	Type ItemType `json:"type,omitempty"`
	Text string   `json:"text,omitempty"`
}

// ErrorEvent captures stream-level errors.
type ErrorEvent struct {
	Message string `json:"message,omitempty"`
}

// DecodeExecEvent parses one JSONL line into an ExecEvent, keeping the
// original bytes in Raw.
func DecodeExecEvent(line []byte) (ExecEvent, error) {
	line = bytes.TrimSpace(line)
	var event ExecEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return ExecEvent{}, err
	}
	event.Raw = append([]byte(nil), line...)
	return event, nil
}

// LogEvent is the synthetic wrapper for unparseable output lines.
type LogEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

// StderrEvent is the synthetic wrapper for captured stderr.
type StderrEvent struct {
	Type       EventType `json:"type"`
	Message    string    `json:"message"`
	ReturnCode *int      `json:"returnCode,omitempty"`
}

// DoneEvent is the synthetic terminal record appended to every run.
type DoneEvent struct {
	Type          EventType  `json:"type"`
	RunID         RunID      `json:"runId"`
	ThreadID      SessionID  `json:"threadId,omitempty"`
	FinalResponse string     `json:"finalResponse"`
	Usage         *TurnUsage `json:"usage,omitempty"`
	ReturnCode    int        `json:"returnCode"`
}
