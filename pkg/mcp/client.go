// Package mcp implements a lightweight Model Context Protocol client and
// server. The client owns a single tool-server subprocess and covers the
// tooling surface required by the agent runtime: listing the tools the server
// declares and invoking them. The server half carries the same framing so the
// bundled tool servers and the tests can speak to the client without an
// external process.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	// protocolVersion loosely follows the Model Context Protocol releases.
	// Servers may accept a range of versions; a sensible default keeps the
	// client working out of the box while tests can override it.
	protocolVersion = "2024-05-01"

	defaultInitTimeout = 30 * time.Second
)

// ClientInfo describes the calling application when establishing an MCP
// session.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo is the metadata returned by the server during the initialize
// handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor mirrors the subset of the MCP tool schema the runtime
// requires. Descriptors are immutable once discovered.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Content is a single content part returned from a tool invocation.
type Content struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
}

// CallResult captures the structured output of a tool invocation.
type CallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text concatenates the text parts of the result, joined with newlines to
// preserve ordering.
func (r CallResult) Text() string {
	var segments []string
	for _, part := range r.Content {
		if part.Type != "text" {
			continue
		}
		if trimmed := strings.TrimSpace(part.Text); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return strings.Join(segments, "\n")
}

// JSON returns the first JSON payload embedded in the result, or "".
func (r CallResult) JSON() string {
	for _, part := range r.Content {
		if part.Type == "json" && len(part.Data) > 0 {
			return string(part.Data)
		}
	}
	return ""
}

// PrimaryText prefers the aggregated text segments and falls back to the
// JSON payload.
func (r CallResult) PrimaryText() string {
	if txt := r.Text(); txt != "" {
		return txt
	}
	return r.JSON()
}

// Transport is the underlying message transport used by the client. Each
// payload is one discrete JSON-RPC message.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// ServerConfig describes how to reach one tool server.
type ServerConfig struct {
	// Name identifies the server in logs and errors.
	Name string
	// Command and Args spawn the server process. Stdin/stdout carry the
	// protocol; stderr is inherited.
	Command string
	Args    []string
	Dir     string
	Env     []string

	// InitTimeout bounds process start, handshake and tool discovery
	// together. Zero means the default of 30s.
	InitTimeout time.Duration

	ClientInfo      ClientInfo
	ProtocolVersion string
}

// Client owns one tool-server connection. All request/response exchanges on
// the connection are serialized; a Client must not be shared by concurrent
// callers without external coordination.
type Client struct {
	cfg  ServerConfig
	log  zerolog.Logger
	dial func(ctx context.Context) (Transport, error)

	mu        sync.Mutex
	transport Transport
	tools     []ToolDescriptor
	server    ServerInfo

	idCounter   atomic.Uint64
	initialized atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once
}

// NewClient prepares a client for the configured server. No I/O happens
// until Init.
func NewClient(cfg ServerConfig, logger zerolog.Logger) *Client {
	if strings.TrimSpace(cfg.ClientInfo.Name) == "" {
		cfg.ClientInfo.Name = "mcp-agent"
	}
	if strings.TrimSpace(cfg.ClientInfo.Version) == "" {
		cfg.ClientInfo.Version = "dev"
	}
	if strings.TrimSpace(cfg.ProtocolVersion) == "" {
		cfg.ProtocolVersion = protocolVersion
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	c := &Client{
		cfg: cfg,
		log: logger.With().Str("server", cfg.Name).Logger(),
	}
	c.dial = func(ctx context.Context) (Transport, error) { return dialStdio(c.cfg) }
	return c
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// Server returns the metadata captured during the handshake.
func (c *Client) Server() ServerInfo { return c.server }

// Init spawns the server process, performs the initialize handshake and
// caches the declared tools. The whole exchange is bounded by InitTimeout.
// On failure the client holds no process and remains safely closable.
func (c *Client) Init(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.initialized.Load() {
		return nil
	}

	transport, err := c.dial(ctx)
	if err != nil {
		return &ConnectionError{Server: c.cfg.Name, Err: err}
	}
	c.transport = transport

	// The handshake runs on its own goroutine so that the deadline can cut
	// a blocked pipe read short: closing the transport kills the process
	// and unblocks the reader.
	initCtx, cancel := context.WithTimeout(ctx, c.cfg.InitTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.handshake(initCtx) }()

	select {
	case err = <-done:
	case <-initCtx.Done():
		_ = transport.Close()
		<-done
		err = initCtx.Err()
	}
	if err != nil {
		_ = transport.Close()
		c.transport = nil
		return &ConnectionError{Server: c.cfg.Name, Err: err}
	}

	c.initialized.Store(true)
	names := make([]string, 0, len(c.tools))
	for _, t := range c.tools {
		names = append(names, t.Name)
	}
	c.log.Info().Strs("tools", names).Str("remote", c.server.Name).Msg("connected to MCP server")
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": c.cfg.ProtocolVersion,
		"clientInfo":      c.cfg.ClientInfo,
		"capabilities": map[string]any{
			"tools": map[string]bool{"list": true, "call": true},
		},
	}
	var initResp struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ServerInfo      ServerInfo `json:"serverInfo"`
	}
	if err := c.call(ctx, "initialize", params, &initResp); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.server = initResp.ServerInfo

	tools, err := c.listTools(ctx)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	c.tools = tools
	return nil
}

// listTools follows pagination cursors until the full list is retrieved.
func (c *Client) listTools(ctx context.Context) ([]ToolDescriptor, error) {
	var (
		cursor string
		tools  []ToolDescriptor
	)
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var resp struct {
			Tools      []ToolDescriptor `json:"tools"`
			NextCursor string           `json:"nextCursor,omitempty"`
		}
		if err := c.call(ctx, "tools/list", params, &resp); err != nil {
			return nil, err
		}
		tools = append(tools, resp.Tools...)
		if strings.TrimSpace(resp.NextCursor) == "" {
			return tools, nil
		}
		cursor = resp.NextCursor
	}
}

// Tools returns the descriptors cached during Init. The returned slice is a
// copy; no I/O is performed.
func (c *Client) Tools() []ToolDescriptor {
	out := make([]ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes a named tool with the given arguments and returns the
// textual result. An error the server reports about the tool run itself
// (isError result, JSON-RPC error for the call) is folded into the returned
// string: a failing tool is a conversational outcome, not a transport fault.
// Transport-level failures are returned as errors.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	if !c.initialized.Load() {
		return "", ErrNotInitialized
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.New("mcp: tool name is required")
	}

	params := map[string]any{"name": name}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}

	var result CallResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		var remote *remoteError
		if errors.As(err, &remote) {
			// The server executed our request and reported a failure;
			// surface it as content for the model to reason about.
			return fmt.Sprintf("tool %s failed: %s", name, remote.Message), nil
		}
		return "", err
	}

	if result.IsError {
		message := strings.TrimSpace(result.PrimaryText())
		if message == "" {
			message = "tool reported an error"
		}
		return fmt.Sprintf("tool %s failed: %s", name, message), nil
	}
	return result.PrimaryText(), nil
}

// Close releases the server process and all I/O resources. Close is
// idempotent and never propagates a failure: faults caused by the caller's
// own teardown (a cancellation arriving mid-close) are absorbed and logged,
// and any other fault is logged but still swallowed so the real shutdown
// reason is never masked.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.transport == nil {
			return
		}
		err := c.transport.Close()
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			c.log.Debug().Err(err).Msg("teardown cancellation during close, absorbed")
		default:
			c.log.Warn().Err(err).Msg("closing MCP transport")
		}
		c.log.Debug().Msg("MCP client closed")
	})
}

// remoteError is a JSON-RPC error object returned by the server.
type remoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("mcp: server error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type responseEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *string         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *remoteError    `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// call performs one request/response exchange. The client-level mutex keeps
// the pairing intact: the connection is not designed for concurrent
// multiplexing.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	id := strconv.FormatUint(c.idCounter.Add(1), 10)
	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("mcp: marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.transport.Send(ctx, payload); err != nil {
		return err
	}

	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			return err
		}

		var env responseEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			return fmt.Errorf("mcp: decode response: %w", err)
		}

		if env.Method != "" {
			// Server notification; keep looping for our response.
			continue
		}
		if env.ID == nil || *env.ID != id {
			continue
		}

		if env.Error != nil {
			return env.Error
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("mcp: decode result: %w", err)
			}
		}
		return nil
	}
}
