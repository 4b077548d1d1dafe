package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"pkt.systems/agenthub/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultCallTimeout bounds a single request round trip.
	DefaultCallTimeout = 600 * time.Second

	protocolVersion = "2025-03-26"
	closeGrace      = 2 * time.Second
)

// Config describes the tool server subprocess.
type Config struct {
	Command     []string
	Env         []string
	CallTimeout time.Duration
}

// Gateway is a JSON-RPC 2.0 client speaking newline-delimited JSON over a
// subprocess's stdio. A dead subprocess is restarted on the next call.
type Gateway struct {
	cfg Config
	log pslog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	nextID  int64
	pending map[int64]chan rpcResponse
	closed  bool
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewGateway constructs a gateway. The subprocess is not started until the
// first call, or an explicit Start.
func NewGateway(cfg Config, logger pslog.Logger) *Gateway {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Gateway{
		cfg:     cfg,
		log:     logger,
		pending: make(map[int64]chan rpcResponse),
	}
}

// Start launches the subprocess and performs the initialize handshake. It is
// idempotent while the subprocess is alive.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return schema.ErrGatewayClosed
	}
	if g.cmd != nil {
		g.mu.Unlock()
		return nil
	}
	if len(g.cfg.Command) == 0 {
		g.mu.Unlock()
		return schema.ErrInvalidRequest
	}
	cmd := exec.Command(g.cfg.Command[0], g.cfg.Command[1:]...)
	if len(g.cfg.Env) > 0 {
		cmd.Env = g.cfg.Env
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		g.mu.Unlock()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if err := cmd.Start(); err != nil {
		g.mu.Unlock()
		return err
	}
	g.cmd = cmd
	g.stdin = stdin
	g.log.Info("gateway started", "pid", cmd.Process.Pid, "command", g.cfg.Command[0])
	go g.read(cmd, stdout)
	g.mu.Unlock()

	if _, err := g.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "agenthub", "version": "1"},
	}); err != nil {
		g.shutdownProcess()
		return fmt.Errorf("initialize: %w", err)
	}
	if err := g.notify("notifications/initialized", nil); err != nil {
		g.shutdownProcess()
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// Call sends one request and waits for its response, starting the subprocess
// first if needed. A response carrying an error object is returned as an
// error; a missing response within the timeout is ErrRPCTimeout.
func (g *Gateway) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := g.Start(ctx); err != nil {
		return nil, err
	}
	return g.call(ctx, method, params)
}

// ListTools fetches the server's tool catalog.
func (g *Gateway) ListTools(ctx context.Context) (json.RawMessage, error) {
	return g.Call(ctx, "tools/list", map[string]any{})
}

// CallTool invokes one named tool.
func (g *Gateway) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return g.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
}

// Close terminates the subprocess and rejects all future calls.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.shutdownProcess()
	return nil
}

func (g *Gateway) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	g.mu.Lock()
	if g.cmd == nil {
		g.mu.Unlock()
		return nil, schema.ErrGatewayClosed
	}
	g.nextID++
	id := g.nextID
	ch := make(chan rpcResponse, 1)
	g.pending[id] = ch
	stdin := g.stdin
	g.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		g.dropPending(id)
		return nil, err
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		g.dropPending(id)
		g.shutdownProcess()
		return nil, fmt.Errorf("gateway write: %w", err)
	}

	timer := time.NewTimer(g.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, schema.ErrGatewayClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-timer.C:
		g.dropPending(id)
		return nil, schema.ErrRPCTimeout
	case <-ctx.Done():
		g.dropPending(id)
		return nil, ctx.Err()
	}
}

func (g *Gateway) notify(method string, params any) error {
	g.mu.Lock()
	stdin := g.stdin
	g.mu.Unlock()
	if stdin == nil {
		return schema.ErrGatewayClosed
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	_, err = stdin.Write(append(payload, '\n'))
	return err
}

// read consumes the subprocess's stdout until EOF. Lines that are not valid
// responses, or that carry no id, are dropped.
func (g *Gateway) read(cmd *exec.Cmd, stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID == nil {
			continue
		}
		g.mu.Lock()
		ch, ok := g.pending[*resp.ID]
		if ok {
			delete(g.pending, *resp.ID)
		}
		g.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	_ = cmd.Wait()

	g.mu.Lock()
	if g.cmd == cmd {
		g.cmd = nil
		g.stdin = nil
	}
	for id, ch := range g.pending {
		close(ch)
		delete(g.pending, id)
	}
	g.mu.Unlock()
	g.log.Info("gateway exited")
}

func (g *Gateway) dropPending(id int64) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

func (g *Gateway) shutdownProcess() {
	g.mu.Lock()
	cmd := g.cmd
	g.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	quit := make(chan struct{})
	go func() {
		defer close(done)
		for {
			g.mu.Lock()
			alive := g.cmd == cmd
			g.mu.Unlock()
			if !alive {
				return
			}
			select {
			case <-quit:
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(closeGrace):
		_ = cmd.Process.Kill()
		close(quit)
	}
}
