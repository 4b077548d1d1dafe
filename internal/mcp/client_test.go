package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"pkt.systems/agenthub/schema"
)

// echoServer answers every request that carries an id and ignores
// notifications, interleaving junk and id-less lines.
const echoServer = `
while read line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  [ -n "$id" ] || continue
  printf 'garbage that is not json\n'
  printf '{"jsonrpc":"2.0","method":"notifications/progress"}\n'
  printf '{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}\n' "$id"
done
`

func newTestGateway(t *testing.T, script string, timeout time.Duration) *Gateway {
	t.Helper()
	g := NewGateway(Config{
		Command:     []string{"/bin/sh", "-c", script},
		CallTimeout: timeout,
	}, nil)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestGatewayHandshakeAndCall(t *testing.T) {
	g := newTestGateway(t, echoServer, 5*time.Second)
	result, err := g.Call(context.Background(), "tools/list", map[string]any{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var decoded map[string]bool
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("result decode: %v", err)
	}
	if !decoded["ok"] {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestGatewayStartIdempotent(t *testing.T) {
	g := newTestGateway(t, echoServer, 5*time.Second)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
}

func TestGatewayErrorPayload(t *testing.T) {
	script := `
while read line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  [ -n "$id" ] || continue
  if [ "$id" = "1" ]; then
    printf '{"jsonrpc":"2.0","id":1,"result":{}}\n'
  else
    printf '{"jsonrpc":"2.0","id":%s,"error":{"code":-32601,"message":"method not found"}}\n' "$id"
  fi
done
`
	g := newTestGateway(t, script, 5*time.Second)
	_, err := g.Call(context.Background(), "tools/nope", nil)
	if err == nil || !strings.Contains(err.Error(), "method not found") {
		t.Fatalf("expected rpc error, got %v", err)
	}
	if errors.Is(err, schema.ErrRPCTimeout) {
		t.Fatalf("error payload must not look like a timeout")
	}
}

func TestGatewayCallTimeout(t *testing.T) {
	script := `
read line
printf '{"jsonrpc":"2.0","id":1,"result":{}}\n'
sleep 30
`
	g := newTestGateway(t, script, 200*time.Millisecond)
	_, err := g.Call(context.Background(), "tools/list", nil)
	if !errors.Is(err, schema.ErrRPCTimeout) {
		t.Fatalf("expected ErrRPCTimeout, got %v", err)
	}
}

func TestGatewayRestartsAfterExit(t *testing.T) {
	// Serves the handshake and one call, then exits.
	script := `
n=0
while read line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  [ -n "$id" ] || continue
  printf '{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}\n' "$id"
  n=$((n+1))
  if [ "$n" -ge 2 ]; then exit 0; fi
done
`
	g := newTestGateway(t, script, 5*time.Second)
	if _, err := g.Call(context.Background(), "tools/list", nil); err != nil {
		t.Fatalf("first call: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if _, err := g.Call(context.Background(), "tools/list", nil); err != nil {
		t.Fatalf("call after restart: %v", err)
	}
}

func TestGatewayClosedRejectsCalls(t *testing.T) {
	g := newTestGateway(t, echoServer, 5*time.Second)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = g.Close()
	if _, err := g.Call(context.Background(), "tools/list", nil); !errors.Is(err, schema.ErrGatewayClosed) {
		t.Fatalf("expected ErrGatewayClosed, got %v", err)
	}
}

func TestGatewayCloseKillsStubbornServer(t *testing.T) {
	script := "trap '' TERM\n" + echoServer
	g := newTestGateway(t, script, 5*time.Second)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	start := time.Now()
	if err := g.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > closeGrace+time.Second {
		t.Fatalf("close did not return promptly: %v", elapsed)
	}
}

func TestGatewayCallToolShapesRequest(t *testing.T) {
	script := `
while read line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  [ -n "$id" ] || continue
  case "$line" in
  *tools/call*shell*) printf '{"jsonrpc":"2.0","id":%s,"result":{"matched":true}}\n' "$id" ;;
  *) printf '{"jsonrpc":"2.0","id":%s,"result":{}}\n' "$id" ;;
  esac
done
`
	g := newTestGateway(t, script, 5*time.Second)
	result, err := g.CallTool(context.Background(), "shell", map[string]any{"cmd": "ls"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	var decoded map[string]bool
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded["matched"] {
		t.Fatalf("request shape not observed by server: %s", result)
	}
}
