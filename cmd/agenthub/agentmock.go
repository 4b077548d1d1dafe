package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newAgentMockCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "agent-mock exec [--json] [resume <id>] [prompt|-] | agent-mock login --device-auth",
		Short:         "Mock agent CLI streams for testing",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentMock(args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

type mockConfig struct {
	mode       string
	jsonOutput bool
	deviceAuth bool
	resumeID   string
	prompt     string
	delay      time.Duration
}

func runAgentMock(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	cfg, err := parseMockArgs(args)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}
	switch cfg.mode {
	case "exec":
		return runMockExec(cfg, stdin, stdout)
	case "login":
		return runMockLogin(cfg, stdout)
	default:
		err := fmt.Errorf("unknown mock mode %q", cfg.mode)
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}
}

func parseMockArgs(args []string) (mockConfig, error) {
	cfg := mockConfig{delay: 10 * time.Millisecond}
	if len(args) == 0 {
		return cfg, errors.New("mock mode is required (exec or login)")
	}
	cfg.mode = args[0]
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--json":
			cfg.jsonOutput = true
		case "--device-auth":
			cfg.deviceAuth = true
		case "resume":
			if i+1 >= len(rest) {
				return cfg, errors.New("resume requires a thread id")
			}
			i++
			cfg.resumeID = rest[i]
		default:
			cfg.prompt = rest[i]
		}
	}
	return cfg, nil
}

func runMockExec(cfg mockConfig, stdin io.Reader, stdout io.Writer) error {
	prompt := cfg.prompt
	if prompt == "-" || prompt == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return errors.New("prompt is required")
	}

	writer := bufio.NewWriter(stdout)
	defer func() { _ = writer.Flush() }()

	threadID := cfg.resumeID
	if threadID == "" {
		threadID = mockThreadID(prompt)
	}
	reply := fmt.Sprintf("ack: %s", prompt)

	if !cfg.jsonOutput {
		_, _ = fmt.Fprintln(writer, reply)
		return nil
	}

	events := []map[string]any{
		{"type": "thread.started", "thread_id": threadID},
		{"type": "turn.started"},
		{"type": "item.started", "item": map[string]any{"type": "agent_message"}},
		{"type": "item.completed", "item": map[string]any{"type": "agent_message", "text": reply}},
		{"type": "turn.completed", "usage": map[string]any{
			"input_tokens":  len(prompt),
			"output_tokens": len(reply),
			"tokens":        len(prompt) + len(reply),
		}},
	}
	for _, event := range events {
		if err := writeMockEvent(writer, event); err != nil {
			return err
		}
		if cfg.delay > 0 {
			_ = writer.Flush()
			time.Sleep(cfg.delay)
		}
	}
	return nil
}

func runMockLogin(cfg mockConfig, stdout io.Writer) error {
	if !cfg.deviceAuth {
		return errors.New("only --device-auth login is supported")
	}
	writer := bufio.NewWriter(stdout)
	defer func() { _ = writer.Flush() }()
	_, _ = fmt.Fprintln(writer, "Open https://auth.openai.com/codex/device in a browser")
	_, _ = fmt.Fprintln(writer, "Then enter the code MOCK-1234 to continue")
	return nil
}

func writeMockEvent(writer io.Writer, event map[string]any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(writer, string(data))
	return err
}

func mockThreadID(prompt string) string {
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(prompt))
	return fmt.Sprintf("thread-%012x", hash.Sum64()&0xffffffffffff)
}
