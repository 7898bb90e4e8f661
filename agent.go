// Package agent drives the tool-use loop: it owns a set of MCP transport
// clients, aggregates the tools they declare into one registry, and repeats
// model turns, dispatching every requested tool call, until the model
// produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/openrag/mcp-agent/pkg/chat"
	"github.com/openrag/mcp-agent/pkg/mcp"
)

const defaultSystemPrompt = "You are a capable assistant that completes tasks by calling the available tools. Use tools whenever they help; answer directly once the task is done."

// ErrNotInitialized is returned when Invoke is called before Init.
var ErrNotInitialized = errors.New("agent: not initialized")

// ErrFinished is returned when Invoke is called after a completed run has
// already closed the transports.
var ErrFinished = errors.New("agent: run finished, transports are closed")

// DuplicateToolError reports two tool servers exposing the same tool name.
// Routing by name would be ambiguous, so Init rejects the configuration.
type DuplicateToolError struct {
	Tool   string
	First  string
	Second string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("agent: tool %q exposed by both server %q and server %q", e.Tool, e.First, e.Second)
}

// ToolClient is the uniform capability the orchestrator needs from a tool
// transport, regardless of how the transport reaches its server.
// *mcp.Client implements it.
type ToolClient interface {
	Name() string
	Init(ctx context.Context) error
	Tools() []mcp.ToolDescriptor
	CallTool(ctx context.Context, name string, arguments map[string]any) (string, error)
	Close()
}

var _ ToolClient = (*mcp.Client)(nil)

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateDone
)

// Options configure a new Agent.
type Options struct {
	// Model is the chat-completion model name.
	Model string
	// Completions opens the fragment stream for each turn.
	Completions chat.StreamOpener
	// Clients are the tool transports to aggregate. May be empty, in
	// which case the model runs without tools.
	Clients []ToolClient
	// SystemPrompt overrides the default coordinator prompt.
	SystemPrompt string
	// Context, when non-empty, is delivered as a first user message
	// (typically retrieved knowledge).
	Context string

	Logger zerolog.Logger
}

// Agent is the orchestrator. It is not safe for concurrent use: one
// conversation, one logical thread of control.
type Agent struct {
	model   string
	clients []ToolClient
	session *chat.Session
	log     zerolog.Logger

	registry     map[string]ToolClient
	descriptors  map[string]mcp.ToolDescriptor
	declarations []mcp.ToolDescriptor

	state     state
	closeOnce sync.Once
}

// New creates an Agent. No I/O happens until Init.
func New(opts Options) (*Agent, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("agent: model is required")
	}
	if opts.Completions == nil {
		return nil, errors.New("agent: completion stream opener is required")
	}

	systemPrompt := opts.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}

	runID := uuid.NewString()
	logger := opts.Logger.With().Str("run_id", runID).Logger()

	return &Agent{
		model:   opts.Model,
		clients: opts.Clients,
		session: chat.NewSession(opts.Completions, opts.Model, systemPrompt, opts.Context, logger),
		log:     logger,
	}, nil
}

// Init starts every tool transport and builds the tool registry. If any
// client fails, every already-started client is closed before the failure is
// surfaced, so a partial init never leaks a child process. Two clients
// exposing the same tool name fail with *DuplicateToolError.
func (a *Agent) Init(ctx context.Context) error {
	if a.state != stateUninitialized {
		return errors.New("agent: already initialized")
	}

	for i, client := range a.clients {
		if err := client.Init(ctx); err != nil {
			for j := 0; j <= i; j++ {
				a.clients[j].Close()
			}
			return err
		}
	}

	registry := make(map[string]ToolClient)
	descriptors := make(map[string]mcp.ToolDescriptor)
	var declarations []mcp.ToolDescriptor
	for _, client := range a.clients {
		for _, tool := range client.Tools() {
			if owner, exists := registry[tool.Name]; exists {
				err := &DuplicateToolError{Tool: tool.Name, First: owner.Name(), Second: client.Name()}
				a.closeClients()
				return err
			}
			registry[tool.Name] = client
			descriptors[tool.Name] = tool
			declarations = append(declarations, tool)
		}
	}

	a.registry = registry
	a.descriptors = descriptors
	a.declarations = declarations
	a.state = stateReady

	a.log.Info().Int("servers", len(a.clients)).Int("tools", len(declarations)).Msg("agent initialized")
	return nil
}

// Invoke runs the task to completion: one model turn, then one dispatch
// round per turn that requests tools, until a turn carries no tool calls.
// That final turn's text is returned and every transport is closed; the
// Agent cannot be invoked again. Soft tool failures are folded into the
// conversation; hard faults abort with an error.
func (a *Agent) Invoke(ctx context.Context, task string) (string, error) {
	switch a.state {
	case stateUninitialized:
		return "", ErrNotInitialized
	case stateDone:
		return "", ErrFinished
	}

	userText := task
	for {
		turn, err := a.session.Advance(ctx, a.declarations, userText)
		if err != nil {
			return "", err
		}
		userText = ""

		if len(turn.ToolCalls) == 0 {
			a.Close()
			return turn.Content, nil
		}

		// Every call of the turn is resolved, in request order, before
		// the next turn is requested.
		for _, call := range turn.ToolCalls {
			if err := a.dispatch(ctx, call); err != nil {
				return "", err
			}
		}
	}
}

// dispatch resolves and executes one tool call. Unknown tools, argument
// parse failures, schema violations and tool-reported errors become
// tool_result content; only transport faults return an error.
func (a *Agent) dispatch(ctx context.Context, call chat.ToolCallRequest) error {
	logger := a.log.With().Str("tool", call.Name).Str("call_id", call.ID).Logger()

	client, ok := a.registry[call.Name]
	if !ok {
		logger.Warn().Msg("requested tool not found in registry")
		a.session.AppendToolResult(call.ID, fmt.Sprintf("tool not found: %s", call.Name))
		return nil
	}

	arguments, softErr := a.parseArguments(call)
	if softErr != "" {
		logger.Warn().Str("reason", softErr).Msg("rejecting tool arguments")
		a.session.AppendToolResult(call.ID, softErr)
		return nil
	}

	result, err := client.CallTool(ctx, call.Name, arguments)
	if err != nil {
		return err
	}

	logger.Info().Str("result", truncate(result, 200)).Msg("tool call resolved")
	a.session.AppendToolResult(call.ID, result)
	return nil
}

// parseArguments decodes the raw argument JSON and validates it against the
// tool's declared input schema. The returned string is empty on success and
// a human-readable rejection otherwise.
func (a *Agent) parseArguments(call chat.ToolCallRequest) (map[string]any, string) {
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		raw = "{}"
	}

	var arguments map[string]any
	if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
		return nil, fmt.Sprintf("invalid arguments for tool %s: %v", call.Name, err)
	}

	descriptor := a.descriptors[call.Name]
	if len(descriptor.InputSchema) > 0 {
		result, err := gojsonschema.Validate(
			gojsonschema.NewBytesLoader(descriptor.InputSchema),
			gojsonschema.NewStringLoader(raw),
		)
		if err != nil {
			// A broken schema is the server's problem, not the model's;
			// skip validation rather than stall the conversation.
			a.log.Warn().Err(err).Str("tool", call.Name).Msg("input schema not validatable")
			return arguments, ""
		}
		if !result.Valid() {
			var reasons []string
			for _, desc := range result.Errors() {
				reasons = append(reasons, desc.String())
			}
			return nil, fmt.Sprintf("arguments for tool %s do not match its schema: %s", call.Name, strings.Join(reasons, "; "))
		}
	}
	return arguments, ""
}

// History exposes a copy of the conversation log, mainly for inspection and
// tests.
func (a *Agent) History() []chat.Message {
	return a.session.History()
}

// Close shuts every tool transport. Idempotent; Invoke's successful exit
// already calls it.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.closeClients()
		if a.state == stateReady {
			a.state = stateDone
		}
	})
}

func (a *Agent) closeClients() {
	for _, client := range a.clients {
		client.Close()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
