package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestServer() *Server {
	srv := NewServer("mock-server", "1.0.0")
	srv.Register(ToolDescriptor{
		Name:        "echo",
		Description: "Echoes the provided input",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"input":{"type":"string"}},"required":["input"]}`),
	}, func(_ context.Context, args map[string]any) (string, error) {
		input, _ := args["input"].(string)
		return "echo:" + input, nil
	})
	srv.Register(ToolDescriptor{
		Name:        "boom",
		Description: "Always fails",
	}, func(_ context.Context, _ map[string]any) (string, error) {
		return "", errors.New("kaboom")
	})
	return srv
}

// newTestClient wires a client to srv over in-memory pipes. Init has not
// been called yet.
func newTestClient(t *testing.T, srv *Server) *Client {
	t.Helper()

	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	go func() { _ = srv.Serve(context.Background(), serverRead, serverWrite) }()

	transport := &stdioTransport{
		reader: bufio.NewReader(clientRead),
		writer: clientWrite,
		stdin:  clientWrite,
		stdout: clientRead,
	}

	client := NewClient(ServerConfig{Name: "test", InitTimeout: 5 * time.Second}, zerolog.Nop())
	client.dial = func(ctx context.Context) (Transport, error) { return transport, nil }
	return client
}

func TestClientInitAndCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := newTestClient(t, newTestServer())
	defer client.Close()

	if err := client.Init(ctx); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if got := client.Server().Name; got != "mock-server" {
		t.Fatalf("unexpected server info: %q", got)
	}

	tools := client.Tools()
	if len(tools) != 2 || tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %#v", tools)
	}

	result, err := client.CallTool(ctx, "echo", map[string]any{"input": "hello"})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if result != "echo:hello" {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestCallToolFoldsToolFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := newTestClient(t, newTestServer())
	defer client.Close()

	if err := client.Init(ctx); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	// The tool reporting an error is a conversational outcome, not a
	// transport fault: the description comes back as the result string.
	result, err := client.CallTool(ctx, "boom", nil)
	if err != nil {
		t.Fatalf("expected folded error, got %v", err)
	}
	if !strings.Contains(result, "kaboom") {
		t.Fatalf("result should carry the failure text, got %q", result)
	}
}

func TestCallToolUnknownToolFolded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := newTestClient(t, newTestServer())
	defer client.Close()

	if err := client.Init(ctx); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	result, err := client.CallTool(ctx, "no-such-tool", nil)
	if err != nil {
		t.Fatalf("expected folded error, got %v", err)
	}
	if !strings.Contains(result, "unknown tool") {
		t.Fatalf("unexpected result: %q", result)
	}
}

func TestCallToolBeforeInit(t *testing.T) {
	client := NewClient(ServerConfig{Name: "test"}, zerolog.Nop())
	if _, err := client.CallTool(context.Background(), "echo", nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := newTestClient(t, newTestServer())
	if err := client.Init(ctx); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	client.Close()
	client.Close()

	if _, err := client.CallTool(ctx, "echo", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestCloseBeforeInit(t *testing.T) {
	client := NewClient(ServerConfig{Name: "test"}, zerolog.Nop())
	client.Close()
	client.Close()
}

// faultyCloseTransport simulates a transport whose teardown races with the
// caller's own cancellation.
type faultyCloseTransport struct {
	closeErr error
	closed   chan struct{}
	once     sync.Once
}

func newFaultyCloseTransport(closeErr error) *faultyCloseTransport {
	return &faultyCloseTransport{closeErr: closeErr, closed: make(chan struct{})}
}

func (t *faultyCloseTransport) Send(ctx context.Context, payload []byte) error { return nil }

func (t *faultyCloseTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-t.closed:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *faultyCloseTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return t.closeErr
}

func TestCloseAbsorbsCancellation(t *testing.T) {
	transport := newFaultyCloseTransport(context.Canceled)

	client := NewClient(ServerConfig{Name: "test"}, zerolog.Nop())
	client.dial = func(ctx context.Context) (Transport, error) { return transport, nil }
	client.transport = transport
	client.initialized.Store(true)

	// Must not panic and must swallow the cancellation.
	client.Close()
	client.Close()
}

func TestInitTimeout(t *testing.T) {
	transport := newFaultyCloseTransport(nil)

	client := NewClient(ServerConfig{Name: "slow", InitTimeout: 50 * time.Millisecond}, zerolog.Nop())
	client.dial = func(ctx context.Context) (Transport, error) { return transport, nil }

	err := client.Init(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}

	// The failed client must still be safely closable.
	client.Close()
}

func TestInitBadCommand(t *testing.T) {
	client := NewClient(ServerConfig{
		Name:        "missing",
		Command:     "/nonexistent/mcp-server-binary",
		InitTimeout: time.Second,
	}, zerolog.Nop())

	err := client.Init(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	client.Close()
}

// scriptTransport serves canned responses per method, for exercising
// behaviours the real server does not produce (pagination, notifications).
type scriptTransport struct {
	mu        sync.Mutex
	pending   []byte
	responses map[string][]string
}

func (t *scriptTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = payload
	return nil
}

func (t *scriptTransport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return nil, io.EOF
	}
	var req request
	if err := json.Unmarshal(t.pending, &req); err != nil {
		return nil, err
	}
	t.pending = nil

	queue := t.responses[req.Method]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for %s", req.Method)
	}
	body := queue[0]
	t.responses[req.Method] = queue[1:]
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"result":%s}`, req.ID, body)), nil
}

func (t *scriptTransport) Close() error { return nil }

func TestListToolsFollowsCursor(t *testing.T) {
	transport := &scriptTransport{responses: map[string][]string{
		"initialize": {`{"protocolVersion":"2024-05-01","serverInfo":{"name":"paged","version":"1"}}`},
		"tools/list": {
			`{"tools":[{"name":"a","description":"first"}],"nextCursor":"p2"}`,
			`{"tools":[{"name":"b","description":"second"}]}`,
		},
	}}

	client := NewClient(ServerConfig{Name: "paged", InitTimeout: time.Second}, zerolog.Nop())
	client.dial = func(ctx context.Context) (Transport, error) { return transport, nil }

	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	tools := client.Tools()
	if len(tools) != 2 || tools[0].Name != "a" || tools[1].Name != "b" {
		t.Fatalf("unexpected tools: %#v", tools)
	}
}
