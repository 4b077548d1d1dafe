package agenthub

import (
	"context"
	"testing"
	"time"

	"pkt.systems/agenthub/httpapi"
	"pkt.systems/agenthub/internal/identity"
)

func TestNewRejectsNoFeatures(t *testing.T) {
	if _, err := New(ServerConfig{}, nil); err == nil {
		t.Fatalf("expected error when no features are enabled")
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := ServerConfig{
		DataDir: t.TempDir(),
		HTTP: httpapi.Config{
			Addr:                "127.0.0.1:0",
			AgentEnabled:        true,
			RoomsEnabled:        true,
			AgentBinary:         "/bin/true",
			RoomMessageMaxChars: 4000,
			RoomHistoryLimit:    200,
		},
		Identity: identity.Config{BaseURL: "http://127.0.0.1:1"},
	}
	server, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := server.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to be rejected")
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := server.Wait(); err != nil {
		t.Fatalf("wait after stop: %v", err)
	}
}
