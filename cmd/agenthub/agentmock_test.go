package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestAgentMockJSONStream(t *testing.T) {
	var out, errOut bytes.Buffer
	err := runAgentMock([]string{"exec", "--json", "build the thing"}, strings.NewReader(""), &out, &errOut)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 events, got %d: %v", len(lines), lines)
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first event decode: %v", err)
	}
	if first["type"] != "thread.started" || first["thread_id"] == "" {
		t.Fatalf("unexpected first event: %v", first)
	}
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("last event decode: %v", err)
	}
	if last["type"] != "turn.completed" {
		t.Fatalf("unexpected last event: %v", last)
	}
}

func TestAgentMockResumeKeepsThread(t *testing.T) {
	var out bytes.Buffer
	err := runAgentMock([]string{"exec", "--json", "resume", "thread-abc", "more"}, strings.NewReader(""), &out, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `"thread_id":"thread-abc"`) {
		t.Fatalf("resume id not honored: %s", out.String())
	}
}

func TestAgentMockPlainOutput(t *testing.T) {
	var out bytes.Buffer
	if err := runAgentMock([]string{"exec", "hello"}, strings.NewReader(""), &out, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out.String(), "ack: hello") {
		t.Fatalf("unexpected plain output: %q", out.String())
	}
}

func TestAgentMockPromptFromStdin(t *testing.T) {
	var out bytes.Buffer
	if err := runAgentMock([]string{"exec", "--json", "-"}, strings.NewReader("from stdin\n"), &out, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "ack: from stdin") {
		t.Fatalf("stdin prompt not used: %s", out.String())
	}
}

func TestAgentMockLoginDeviceAuth(t *testing.T) {
	var out bytes.Buffer
	if err := runAgentMock([]string{"login", "--device-auth"}, strings.NewReader(""), &out, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "auth.openai.com/codex/device") || !strings.Contains(text, "MOCK-1234") {
		t.Fatalf("login output missing url or code: %q", text)
	}
}

func TestAgentMockRejectsMissingPrompt(t *testing.T) {
	if err := runAgentMock([]string{"exec", "--json"}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for missing prompt")
	}
}
