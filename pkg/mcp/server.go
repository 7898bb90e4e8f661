package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ToolHandler executes one tool invocation. A returned error becomes an
// isError result for the caller; it does not terminate the session.
type ToolHandler func(ctx context.Context, arguments map[string]any) (string, error)

// Server is a minimal MCP tool server speaking the framed JSON-RPC protocol
// over an arbitrary reader/writer pair, typically os.Stdin/os.Stdout.
type Server struct {
	info     ServerInfo
	tools    []ToolDescriptor
	handlers map[string]ToolHandler
}

// NewServer creates a server that identifies itself with the given name and
// version during the initialize handshake.
func NewServer(name, version string) *Server {
	return &Server{
		info:     ServerInfo{Name: name, Version: version},
		handlers: make(map[string]ToolHandler),
	}
}

// Register adds a tool. Registering the same name twice replaces the
// previous handler.
func (s *Server) Register(def ToolDescriptor, handler ToolHandler) {
	if _, exists := s.handlers[def.Name]; !exists {
		s.tools = append(s.tools, def)
	} else {
		for i := range s.tools {
			if s.tools[i].Name == def.Name {
				s.tools[i] = def
			}
		}
	}
	s.handlers[def.Name] = handler
}

// Serve processes requests until the reader is exhausted, the context is
// cancelled, or a shutdown request arrives. io.EOF from a closing client is
// a normal end of session.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}

		var req request
		if err := json.Unmarshal(payload, &req); err != nil {
			s.reply(w, responseEnvelope{JSONRPC: "2.0", Error: &remoteError{Code: -32700, Message: err.Error()}})
			continue
		}

		shutdown := req.Method == "shutdown"
		s.reply(w, s.handle(ctx, req))
		if shutdown {
			return nil
		}
	}
}

func (s *Server) handle(ctx context.Context, req request) responseEnvelope {
	env := responseEnvelope{JSONRPC: "2.0", ID: &req.ID}

	switch req.Method {
	case "initialize":
		env.Result = mustMarshal(map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo":      s.info,
		})
	case "tools/list":
		env.Result = mustMarshal(map[string]any{"tools": s.tools})
	case "tools/call":
		env = s.handleCall(ctx, req)
	case "shutdown":
		env.Result = mustMarshal(map[string]any{})
	default:
		env.Error = &remoteError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return env
}

func (s *Server) handleCall(ctx context.Context, req request) responseEnvelope {
	env := responseEnvelope{JSONRPC: "2.0", ID: &req.ID}

	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	raw := mustMarshal(req.Params)
	if err := json.Unmarshal(raw, &params); err != nil {
		env.Error = &remoteError{Code: -32602, Message: err.Error()}
		return env
	}

	handler, ok := s.handlers[params.Name]
	if !ok {
		env.Error = &remoteError{Code: -32001, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
		return env
	}

	output, err := handler(ctx, params.Arguments)
	result := CallResult{}
	if err != nil {
		result.IsError = true
		result.Content = []Content{{Type: "text", Text: err.Error()}}
	} else {
		result.Content = []Content{{Type: "text", Text: output}}
	}
	env.Result = mustMarshal(result)
	return env
}

func (s *Server) reply(w io.Writer, env responseEnvelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = writeFrame(w, payload)
}

func mustMarshal(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, _ := json.Marshal(v)
	return data
}
