// pkp-server is a minimal stdio MCP server with a single arithmetic tool,
// handy for smoke-testing a client end to end: pkp(a, b, c) = (a + b) * c.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/openrag/mcp-agent/pkg/mcp"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer("pkp-server", version)
	server.Register(mcp.ToolDescriptor{
		Name:        "pkp",
		Description: "Compute the PKP operation (a + b) * c and return the result.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"a": {"type": "number", "description": "first addend"},
				"b": {"type": "number", "description": "second addend"},
				"c": {"type": "number", "description": "multiplier"}
			},
			"required": ["a", "b", "c"]
		}`),
	}, handlePKP)

	if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func handlePKP(_ context.Context, args map[string]any) (string, error) {
	a, err := number(args, "a")
	if err != nil {
		return "", err
	}
	b, err := number(args, "b")
	if err != nil {
		return "", err
	}
	c, err := number(args, "c")
	if err != nil {
		return "", err
	}

	result := (a + b) * c
	return fmt.Sprintf("(%s + %s) * %s = %s",
		formatNumber(a), formatNumber(b), formatNumber(c), formatNumber(result)), nil
}

func number(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return 0, errors.New("missing required argument " + key)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, fmt.Errorf("argument %s must be a number", key)
	}
	return f, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
