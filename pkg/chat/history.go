// Package chat performs single model turns against an OpenAI-compatible
// chat-completion endpoint and reassembles each streamed turn, text plus
// tool-call requests, from its fragment stream. The Session owns the
// conversation history; callers append tool results through it and never
// mutate the log directly.
package chat

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/openrag/mcp-agent/pkg/mcp"
)

// Message roles. A message is a tagged variant: system and user carry text,
// assistant carries text plus zero or more tool-call requests, tool carries
// a result correlated by ToolCallID.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCallRequest is one tool invocation requested by the model. Arguments
// holds the raw serialized JSON exactly as streamed; parsing happens at
// dispatch time, not here.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one entry of the conversation log.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCallRequest // assistant messages only
	ToolCallID string            // tool messages only
}

// Turn is one complete model response.
type Turn struct {
	Content   string
	ToolCalls []ToolCallRequest
}

// toOpenAIMessages translates the log into the wire format of the
// completion endpoint.
func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, call := range m.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out = append(out, converted)
	}
	return out
}

// toOpenAITools translates tool descriptors into the function-tool format
// the completion endpoint expects. An empty declaration list means the turn
// runs without tool-calling capability.
func toOpenAITools(tools []mcp.ToolDescriptor) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}
